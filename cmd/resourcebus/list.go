package main

import (
	"context"
	"fmt"
	"io"

	"github.com/c360/resourcebus/resource"
)

// listResources queries mgr and prints one "label<TAB>uri" line per entry.
func listResources(ctx context.Context, w io.Writer, mgr *resource.Manager, cli *CLIConfig) (int, error) {
	var (
		entries []resource.Entry
		err     error
	)
	if cli.ListClass != "" {
		entries, err = mgr.GetByClass(ctx, cli.ListClass, cli.Exact, cli.Wait)
	} else {
		entries, err = mgr.GetByProtocol(ctx, cli.ListProtocol, cli.Exact, cli.Wait)
	}
	if err != nil {
		return 0, err
	}
	return len(entries), printResources(w, entries)
}

func printResources(w io.Writer, entries []resource.Entry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", e.Label(), e.URI()); err != nil {
			return err
		}
	}
	return nil
}
