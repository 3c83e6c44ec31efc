package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/resourcebus/errors"
)

// Limits on configuration input. A resourcebus config is a few kilobytes:
// detector sections nest a handful of levels at most.
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
)

// checkConfigPath accepts .json files. Relative paths must resolve below
// the working directory; absolute paths must not contain "..".
func checkConfigPath(path string) error {
	if path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "checkConfigPath", "empty path")
	}
	if filepath.Ext(path) != ".json" {
		return errors.WrapInvalid(fmt.Errorf("%w: %s is not a .json file", errors.ErrInvalidConfig, path),
			"config", "checkConfigPath", "extension check")
	}

	if filepath.IsAbs(path) {
		for _, part := range strings.Split(filepath.ToSlash(path), "/") {
			if part == ".." {
				return errors.WrapInvalid(fmt.Errorf("%w: %s contains ..", errors.ErrInvalidConfig, path),
					"config", "checkConfigPath", "traversal check")
			}
		}
		return nil
	}

	rel := filepath.Clean(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.WrapInvalid(fmt.Errorf("%w: %s leaves the working directory", errors.ErrInvalidConfig, path),
			"config", "checkConfigPath", "traversal check")
	}
	return nil
}

// readConfigFile reads a config layer, bounded by maxConfigSize, and checks
// that it is well-formed JSON no deeper than maxJSONDepth.
func readConfigFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "readConfigFile", "open "+path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "readConfigFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s is not a regular file", errors.ErrInvalidConfig, path),
			"config", "readConfigFile", "file check")
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "readConfigFile", "read "+path)
	}
	if len(data) > maxConfigSize {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s exceeds %d bytes", errors.ErrInvalidConfig, path, maxConfigSize),
			"config", "readConfigFile", "size check")
	}

	if err := checkJSONDepth(data); err != nil {
		return nil, errors.WrapInvalid(err, "config", "readConfigFile", "parse "+path)
	}
	return data, nil
}

// checkJSONDepth walks the token stream and fails on syntax errors or
// nesting deeper than maxJSONDepth.
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("%w: nesting deeper than %d", errors.ErrParsingFailed, maxJSONDepth)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

// checkEnvValue rejects oversized values and values with NUL bytes.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%w: %s is %d bytes", errors.ErrInvalidConfig, key, len(value))
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%w: %s contains a NUL byte", errors.ErrInvalidConfig, key)
	}
	return nil
}
