// Command dicombids reorganizes vendor DICOM exports into a BIDS tree and
// converts PET series to SUVbw.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/mrsinham/dicombids/internal/catalog"
	"github.com/mrsinham/dicombids/internal/config"
	"github.com/mrsinham/dicombids/internal/convert"
	log "github.com/sirupsen/logrus"
)

// version is set at build time via -ldflags
var version = "dev"

// newConverter builds the converter used by convert and suv.
var newConverter = func(cfg config.Config) (convert.Converter, error) {
	path, err := convert.Locate(cfg.Converter)
	if err != nil {
		return nil, err
	}
	return &convert.Dcm2niix{Path: path, Timeout: cfg.Timeout}, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// app carries what every command shares.
type app struct {
	stdout     io.Writer
	stderr     io.Writer
	verbose    bool
	configPath string
	cfg        config.Config
}

type command struct {
	name    string
	summary string
	run     func(a *app, args []string) int
}

var commands = []command{
	{"scan", "catalog the series found under one or more roots", runScan},
	{"select", "set the Selected flag of catalog rows", runSelect},
	{"copy", "copy selected series into <id>/<date>/<time>_<series>", runCopy},
	{"convert", "convert patient folders or selected rows to BIDS", runConvert},
	{"suv", "convert one PET series to SUVbw", runSUV},
	{"diff", "show the attributes that differ between two files", runDiff},
	{"label", "copy files whose tag contains a substring to <substring>_<file>", runLabel},
	{"inventory", "list patient folders and whether their ID is expected", runInventory},
	{"synth", "write a synthetic vendor export", runSynth},
	{"version", "print the version", runVersion},
}

// run executes one command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}

	fs := flag.NewFlagSet("dicombids", flag.ContinueOnError)
	fs.SetOutput(stderr)
	a.commonFlags(fs)
	fs.Usage = func() { a.usage() }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() == 0 {
		a.usage()
		return 1
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	for _, c := range commands {
		if c.name == name {
			return c.run(a, rest)
		}
	}
	fmt.Fprintf(stderr, "Error: unknown command %q\n", name)
	a.usage()
	return 1
}

func (a *app) commonFlags(fs *flag.FlagSet) {
	fs.BoolVar(&a.verbose, "v", a.verbose, "Debug logging")
	fs.StringVar(&a.configPath, "config", a.configPath, "YAML configuration file")
}

// flagSet returns a flag set for a command that also accepts the global
// flags.
func (a *app) flagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	a.commonFlags(fs)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage:\n  dicombids %s %s\n\nFlags:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses command flags, sets up logging and loads the configuration.
// It returns false when the command must stop with exit code *code.
func (a *app) parse(fs *flag.FlagSet, args []string, code *int) bool {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			*code = 0
		} else {
			*code = 1
		}
		return false
	}

	log.SetOutput(a.stderr)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if a.verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error loading config: %v\n", err)
		*code = 1
		return false
	}
	a.cfg = cfg
	return true
}

// missing reports a missing top-level input. It logs a warning and returns
// true when err is one, so the command can exit 0 without effect.
func (a *app) missing(err error) bool {
	if !errors.Is(err, catalog.ErrMissingInput) {
		return false
	}
	log.WithError(err).Warn("nothing to do")
	return true
}

func (a *app) fail(err error) int {
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return 1
}

func (a *app) usage() {
	w := a.stderr
	fmt.Fprintln(w, "dicombids")
	fmt.Fprintln(w, "=========")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  dicombids [-v] [-config FILE] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'dicombids <command> -h' for the flags of a command.")
}

func runVersion(a *app, args []string) int {
	code := 0
	fs := a.flagSet("version", "")
	if !a.parse(fs, args, &code) {
		return code
	}
	v := version
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
	}
	fmt.Fprintf(a.stdout, "dicombids %s\n", v)
	return 0
}

// listFlag collects a repeatable string flag; comma separated values are
// split.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}
