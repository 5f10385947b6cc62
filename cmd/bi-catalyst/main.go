// Package main implements the bi-catalyst CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/electwix/bi-catalyst/internal/cli"
	"github.com/electwix/bi-catalyst/internal/fileset"
	"github.com/electwix/bi-catalyst/internal/logging"
	"github.com/electwix/bi-catalyst/internal/pipeline"
)

func main() {
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := cli.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	logger := logging.New(logging.Options{
		Verbose: opts.Verbose,
		Writer:  stderr,
	})

	env := pipeline.Environment{
		Logger:     logging.NewSlogAdapter(logger),
		FSResolver: fileset.NewOSResolver,
		Writer:     pipeline.NewOSWriter(),
	}

	pipe := pipeline.Pipeline{Env: env}
	summary, runErr := pipe.Run(ctx, pipeline.RunOptions{
		ConfigPath:   opts.ConfigPath,
		Inputs:       opts.Inputs,
		OutOverride:  opts.Out,
		Formats:      opts.Format,
		Workers:      opts.Workers,
		NoCache:      opts.NoCache,
		DryRun:       opts.DryRun,
		StrictConfig: opts.StrictConfig,
	})

	if runErr != nil {
		_, _ = fmt.Fprintln(stderr, runErr.Error())
		var writeErr *pipeline.WriteError
		if errors.As(runErr, &writeErr) {
			return 2
		}
		return 1
	}

	printResults(stdout, stderr, summary, opts.DryRun)

	if summary.Failed > 0 {
		for _, result := range summary.Results {
			var writeErr *pipeline.WriteError
			if errors.As(result.Err, &writeErr) {
				return 2
			}
		}
		return 1
	}
	return 0
}

func printResults(stdout, stderr io.Writer, summary pipeline.Summary, dryRun bool) {
	for _, result := range summary.Results {
		if result.Err != nil {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", result.Input, result.Err)
			continue
		}
		for _, output := range result.Outputs {
			if dryRun {
				_, _ = fmt.Fprintf(stdout, "would write %s\n", output)
			} else {
				_, _ = fmt.Fprintln(stdout, output)
			}
		}
	}
	_, _ = fmt.Fprintf(stdout, "documented %d file(s), %d failed\n", summary.Succeeded, summary.Failed)
}
