package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

type Options struct {
	ConfigPath   string
	Inputs       []string
	Out          string
	Format       string
	Workers      int
	NoCache      bool
	DryRun       bool
	StrictConfig bool
	Verbose      bool
	Args         []string
}

// stringList collects repeatable flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func Parse(args []string) (Options, error) {
	var opts Options
	var inputs stringList

	fs := flag.NewFlagSet("bi-catalyst", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.ConfigPath, "c", "", "Path to configuration file")
	fs.Var(&inputs, "input", "Input file or glob pattern (repeatable)")
	fs.Var(&inputs, "i", "Input file or glob pattern (repeatable)")
	fs.StringVar(&opts.Out, "out", "", "Override output directory")
	fs.StringVar(&opts.Out, "o", "", "Override output directory")
	fs.StringVar(&opts.Format, "format", "", "Output formats: markdown, json, yaml, or all (comma-separated)")
	fs.StringVar(&opts.Format, "f", "", "Output formats: markdown, json, yaml, or all (comma-separated)")
	fs.IntVar(&opts.Workers, "workers", 0, "Number of files processed concurrently")
	fs.BoolVar(&opts.NoCache, "no-cache", false, "Disable the persistent parse cache")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Resolve and parse without writing files")
	fs.BoolVar(&opts.StrictConfig, "strict-config", false, "Treat configuration warnings as errors")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		usage := Usage(fs)
		if errors.Is(err, flag.ErrHelp) {
			return Options{}, fmt.Errorf("%w\n\n%s", err, usage)
		}
		return Options{}, fmt.Errorf("%w\n\n%s", err, usage)
	}

	opts.Inputs = inputs
	opts.Args = fs.Args()
	return opts, nil
}

func Usage(fs *flag.FlagSet) string {
	if fs == nil {
		return ""
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "Usage of %s:\n", fs.Name())
	out := fs.Output()
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(out)
	return buf.String()
}
