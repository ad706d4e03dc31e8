package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/ligustah/demfetch/internal/config"
	"github.com/ligustah/demfetch/internal/source"
)

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var common commonFlags
	common.register(fs)

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: demfetch list [options]

Print the tile links of a data source, one per line, sorted.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := common.load((*config.Config).Validate)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	logger := newLogger(common.verbose)

	kind, err := source.ParseKind(cfg.DataType)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	enumerator, err := source.NewEnumerator(kind, cfg.EnumeratorConfig(), newClient(cfg), logger)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	links, err := enumerator.Enumerate(context.Background())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitIndexError
	}

	for _, link := range links.Sorted() {
		fmt.Fprintln(stdout, link)
	}
	return ExitSuccess
}
