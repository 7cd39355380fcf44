package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/wudi/pdfstamp/annotation"
	"github.com/wudi/pdfstamp/config"
	"github.com/wudi/pdfstamp/delivery"
)

type options struct {
	in          string
	annotations string
	out         string
	flags       *config.Flags
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfstamp: %v\n", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, opts, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "pdfstamp: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: pdfstamp -in in.pdf [-annotations a.json] [-out out.pdf] [flags]\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.in, "in", "", "Input PDF")
	fs.StringVar(&opts.annotations, "annotations", "", "Annotation JSON file, - for stdin")
	fs.StringVar(&opts.out, "out", "", "Output file, - for stdout (default: the configured sink)")
	opts.flags = config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.in == "" && fs.NArg() > 0 {
		opts.in = fs.Arg(0)
	}
	if opts.in == "" {
		fs.Usage()
		return opts, errors.New("missing input PDF")
	}
	return opts, nil
}

func readAnnotations(path string, stdin io.Reader) (annotation.PageSet, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		return annotation.Decode(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return annotation.Decode(f)
}

func run(ctx context.Context, opts options, stdin io.Reader, stdout, stderr io.Writer) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(opts.flags.ConfigPath)
	if err != nil {
		return err
	}
	opts.flags.Apply(cfg)
	rt, err := cfg.Build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	rt.Log.SetOutput(stderr)

	data, err := os.ReadFile(opts.in)
	if err != nil {
		return err
	}
	set, err := readAnnotations(opts.annotations, stdin)
	if err != nil {
		return fmt.Errorf("annotations: %w", err)
	}

	name := filepath.Base(opts.in)
	sink := rt.Sink
	switch opts.out {
	case "":
	case "-":
		sink = delivery.Writer{W: stdout}
	default:
		sink = delivery.File{Path: opts.out}
		name = filepath.Base(opts.out)
	}

	rep, err := rt.Compositor(nil).Save(ctx, data, set, name, sink)
	if rep != nil {
		for _, f := range rep.Failures() {
			fmt.Fprintf(stderr, "degraded: %v\n", f)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stderr, "%s: %d pages, %d annotations applied, %d degraded, %d bytes\n",
		name, len(rep.Pages), rep.Applied(), rep.Degraded(), rep.Bytes)
	return nil
}
