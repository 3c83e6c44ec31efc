package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsDefaults(t *testing.T) {
	cli, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "", cli.ConfigPath)
	assert.Equal(t, "info", cli.LogLevel)
	assert.Equal(t, "text", cli.LogFormat)
	assert.Equal(t, 3*time.Second, cli.Wait)
	assert.False(t, cli.ListMode())
	require.NoError(t, validateFlags(cli))
}

func TestParseFlagsEnvAndDebug(t *testing.T) {
	t.Setenv("RESOURCEBUS_LOG_FORMAT", "json")
	t.Setenv("RESOURCEBUS_LIST_WAIT", "250ms")

	cli, err := parseFlags([]string{"-debug", "-list-class", "item.renderer", "-exact"}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, "json", cli.LogFormat)
	assert.Equal(t, 250*time.Millisecond, cli.Wait)
	assert.True(t, cli.ListMode())
	assert.True(t, cli.Exact)
}

func TestValidateFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	tests := []struct {
		name    string
		mutate  func(*CLIConfig)
		wantErr bool
	}{
		{"valid", func(*CLIConfig) {}, false},
		{"existing config", func(c *CLIConfig) { c.ConfigPath = path }, false},
		{"missing config", func(c *CLIConfig) { c.ConfigPath = filepath.Join(dir, "nope.json") }, true},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "trace" }, true},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }, true},
		{"both list modes", func(c *CLIConfig) { c.ListClass, c.ListProtocol = "a", "b" }, true},
		{"negative wait", func(c *CLIConfig) { c.Wait = -time.Second }, true},
		{"version skips checks", func(c *CLIConfig) { c.LogLevel = "trace"; c.ShowVersion = true }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli, err := parseFlags(nil, &bytes.Buffer{})
			require.NoError(t, err)
			tt.mutate(cli)
			if tt.wantErr {
				assert.Error(t, validateFlags(cli))
			} else {
				assert.NoError(t, validateFlags(cli))
			}
		})
	}
}

func TestParseFlagsUnknown(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-bogus"}, &stderr)
	assert.Error(t, err)
	assert.Contains(t, stderr.String(), "bogus")
}
