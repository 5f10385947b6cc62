package cli

import (
	"errors"
	"flag"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if opts.ConfigPath != "" {
		t.Fatalf("ConfigPath = %q, want empty", opts.ConfigPath)
	}
	if len(opts.Inputs) != 0 {
		t.Fatalf("Inputs = %v, want empty", opts.Inputs)
	}
	if opts.Out != "" {
		t.Fatalf("Out = %q, want empty", opts.Out)
	}
	if opts.Format != "" {
		t.Fatalf("Format = %q, want empty", opts.Format)
	}
	if opts.Workers != 0 {
		t.Fatalf("Workers = %d, want 0", opts.Workers)
	}
	if opts.NoCache || opts.DryRun || opts.StrictConfig || opts.Verbose {
		t.Fatalf("boolean flags should default to false: %+v", opts)
	}
	if len(opts.Args) != 0 {
		t.Fatalf("Args = %v, want empty slice", opts.Args)
	}
}

func TestParseOverrides(t *testing.T) {
	args := []string{
		"--config", "project.toml",
		"--input", "reports/*.pbix",
		"-i", "workbooks/*.twb",
		"--out", "build",
		"--format", "all",
		"--workers", "8",
		"--no-cache",
		"--dry-run",
		"--strict-config",
		"-v",
		"extra",
	}

	opts, err := Parse(args)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if got, want := opts.ConfigPath, "project.toml"; got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
	if len(opts.Inputs) != 2 || opts.Inputs[0] != "reports/*.pbix" || opts.Inputs[1] != "workbooks/*.twb" {
		t.Fatalf("Inputs = %v", opts.Inputs)
	}
	if got, want := opts.Out, "build"; got != want {
		t.Fatalf("Out = %q, want %q", got, want)
	}
	if got, want := opts.Format, "all"; got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
	if opts.Workers != 8 {
		t.Fatalf("Workers = %d, want 8", opts.Workers)
	}
	if !opts.NoCache {
		t.Fatalf("NoCache = false, want true")
	}
	if !opts.DryRun {
		t.Fatalf("DryRun = false, want true")
	}
	if !opts.StrictConfig {
		t.Fatalf("StrictConfig = false, want true")
	}
	if !opts.Verbose {
		t.Fatalf("Verbose = false, want true")
	}
	if len(opts.Args) != 1 || opts.Args[0] != "extra" {
		t.Fatalf("Args = %v, want [extra]", opts.Args)
	}
}

func TestParseInvalidFlag(t *testing.T) {
	_, err := Parse([]string{"--unknown"})
	if err == nil {
		t.Fatalf("Parse expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "Usage of bi-catalyst") {
		t.Fatalf("error = %q, want usage string", err.Error())
	}
	if errors.Is(err, flag.ErrHelp) {
		t.Fatalf("error unexpectedly wraps flag.ErrHelp")
	}
}

func TestParseHelp(t *testing.T) {
	_, err := Parse([]string{"-h"})
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("error = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(err.Error(), "-input") {
		t.Fatalf("help text missing flag listing: %q", err.Error())
	}
}

func TestUsage(t *testing.T) {
	fs := flag.NewFlagSet("bi-catalyst", flag.ContinueOnError)
	fs.String("flag", "value", "test flag")

	usage := Usage(fs)
	if !strings.Contains(usage, "Usage of bi-catalyst:") {
		t.Fatalf("usage missing header: %q", usage)
	}
	if !strings.Contains(usage, "-flag") {
		t.Fatalf("usage missing flag definition: %q", usage)
	}
}
