package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/mrsinham/dicombids/cmd/dicombids/selector"
	"github.com/mrsinham/dicombids/internal/catalog"
	"github.com/mrsinham/dicombids/internal/convert"
	"github.com/mrsinham/dicombids/internal/inspect"
	"github.com/mrsinham/dicombids/internal/layout"
	"github.com/mrsinham/dicombids/internal/organize"
	"github.com/mrsinham/dicombids/internal/suv"
	log "github.com/sirupsen/logrus"
)

func runScan(a *app, args []string) int {
	var roots listFlag
	fs := a.flagSet("scan", "-root DIR [-root DIR...] -catalog FILE")
	fs.Var(&roots, "root", "Directory to scan (repeatable)")
	catalogPath := fs.String("catalog", "catalog.csv", "Catalog file (.csv, .tsv or .xlsx)")
	mode := fs.String("mode", string(catalog.OnePerDir), "one_per_dir or multi_per_dir")
	pattern := fs.String("pattern", "", "Representative file in one_per_dir mode (default from config)")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if len(roots) == 0 {
		fmt.Fprintln(a.stderr, "Error: at least one -root is required")
		fs.Usage()
		return 1
	}
	m, err := catalog.ParseMode(*mode)
	if err != nil {
		return a.fail(err)
	}
	opts := catalog.Options{Mode: m, Pattern: *pattern}
	if opts.Pattern == "" {
		opts.Pattern = a.cfg.RepresentativeFile
	}

	var scanned []catalog.SeriesRecord
	for _, root := range roots {
		records, skipped, err := catalog.Scan(root, opts)
		if a.missing(err) {
			continue
		}
		if err != nil {
			return a.fail(err)
		}
		log.WithFields(log.Fields{"root": root, "series": len(records), "skipped": len(skipped)}).Info("scanned")
		scanned = append(scanned, records...)
	}

	prior, err := catalog.Load(*catalogPath)
	if err != nil && !errors.Is(err, catalog.ErrMissingInput) {
		return a.fail(err)
	}
	merged := catalog.Merge(prior, scanned)
	if len(merged) == 0 {
		log.Warn("no series found, catalog not written")
		return 0
	}
	if err := catalog.Save(*catalogPath, merged); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.stdout, "%d series in %s (%d new)\n", len(merged), *catalogPath, len(merged)-len(prior))
	return 0
}

func runSelect(a *app, args []string) int {
	var match listFlag
	fs := a.flagSet("select", "-catalog FILE [-match TEXT...|-all|-none]")
	catalogPath := fs.String("catalog", "catalog.csv", "Catalog file")
	fs.Var(&match, "match", "Select rows whose description or patient ID contains TEXT (repeatable)")
	all := fs.Bool("all", false, "Select every row")
	none := fs.Bool("none", false, "Clear every selection")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}

	records, err := catalog.Load(*catalogPath)
	if a.missing(err) {
		return 0
	}
	if err != nil {
		return a.fail(err)
	}

	switch {
	case *none:
		records = selector.Apply(records, nil)
	case *all:
		records = selector.Apply(records, selector.All(records))
	case len(match) > 0:
		records = selector.Apply(records, selector.Match(records, match...))
	default:
		records, err = selector.Run(records)
		if errors.Is(err, selector.ErrAborted) {
			fmt.Fprintln(a.stderr, "Selection cancelled, catalog unchanged")
			return 0
		}
		if err != nil {
			return a.fail(err)
		}
	}

	if err := catalog.Save(*catalogPath, records); err != nil {
		return a.fail(err)
	}
	fmt.Fprint(a.stdout, selector.Summary(records))
	return 0
}

func runCopy(a *app, args []string) int {
	fs := a.flagSet("copy", "-catalog FILE -dest DIR")
	catalogPath := fs.String("catalog", "catalog.csv", "Catalog file")
	dest := fs.String("dest", "", "Destination root (required)")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if *dest == "" {
		fmt.Fprintln(a.stderr, "Error: -dest is required")
		fs.Usage()
		return 1
	}

	report, err := organize.CopyCatalog(*catalogPath, *dest)
	if a.missing(err) {
		return 0
	}
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.stdout, report.String())
	if len(report.Failures) > 0 {
		return 1
	}
	return 0
}

func runConvert(a *app, args []string) int {
	fs := a.flagSet("convert", "(-root DIR | -catalog FILE) -out DIR")
	root := fs.String("root", "", "Tree of <date>/<name>_<id>_<suffix> patient folders")
	catalogPath := fs.String("catalog", "", "Convert the selected rows of a catalog instead")
	out := fs.String("out", "", "BIDS output root (required)")
	converter := fs.String("converter", "", "Path to dcm2niix (default from config, bundled copy or PATH)")
	timeout := fs.Duration("timeout", 0, "Per-series conversion timeout (default from config)")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if *out == "" || (*root == "") == (*catalogPath == "") {
		fmt.Fprintln(a.stderr, "Error: -out and exactly one of -root or -catalog are required")
		fs.Usage()
		return 1
	}

	conv := a.converter(*converter, *timeout)
	d := &convert.Driver{Converter: conv, Rules: a.cfg.Rules, Vendor: a.cfg.Vendor}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var report convert.Report
	var err error
	if *root != "" {
		report, err = d.ConvertTree(ctx, *root, *out)
	} else {
		report, err = d.ConvertCatalogFile(ctx, *catalogPath, *out)
	}
	if a.missing(err) {
		return 0
	}
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.stdout, report.String())
	if report.Failed() {
		return 1
	}
	return 0
}

func runSUV(a *app, args []string) int {
	fs := a.flagSet("suv", "-series DIR -out DIR [-subject sub-001]")
	series := fs.String("series", "", "PET series directory (required)")
	out := fs.String("out", "", "Output root (required)")
	subject := fs.String("subject", "sub-001", "Subject label")
	task := fs.String("task", "rest", "Task label")
	funcDir := fs.String("func", "pet", "Folder under the subject")
	converter := fs.String("converter", "", "Path to dcm2niix")
	timeout := fs.Duration("timeout", 0, "Conversion timeout (default from config)")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if *series == "" || *out == "" {
		fmt.Fprintln(a.stderr, "Error: -series and -out are required")
		fs.Usage()
		return 1
	}
	if _, err := os.Stat(*series); errors.Is(err, os.ErrNotExist) {
		a.missing(fmt.Errorf("%w: %s", catalog.ErrMissingInput, *series))
		return 0
	}

	conv := a.converter(*converter, *timeout)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &suv.Corrector{Converter: conv, Vendor: a.cfg.Vendor}
	outDir := filepath.Join(*out, *subject, *funcDir)
	res, err := c.Correct(ctx, *series, outDir, *subject+"_task-"+*task)
	if err != nil {
		return a.fail(err)
	}
	switch {
	case res.Skipped:
		fmt.Fprintf(a.stdout, "%s already exists\n", res.Output)
	default:
		fmt.Fprintf(a.stdout, "%s (%d frames)\n", res.Output, len(res.Frames))
	}
	return 0
}

func runDiff(a *app, args []string) int {
	fs := a.flagSet("diff", "FILE_A FILE_B")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(a.stderr, "Error: diff takes exactly two files")
		fs.Usage()
		return 1
	}
	lines, err := inspect.Diff(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return a.fail(err)
	}
	for _, l := range lines {
		fmt.Fprintln(a.stdout, l)
	}
	return 0
}

func runLabel(a *app, args []string) int {
	fs := a.flagSet("label", "-root DIR -tag NAME -contains TEXT")
	root := fs.String("root", "", "Directory to search recursively (required)")
	tagName := fs.String("tag", "SeriesDescription", "Attribute keyword")
	contains := fs.String("contains", "", "Substring the attribute must contain (required)")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if *root == "" || *contains == "" {
		fmt.Fprintln(a.stderr, "Error: -root and -contains are required")
		fs.Usage()
		return 1
	}
	n, err := organize.Label(*root, *tagName, *contains)
	if a.missing(err) {
		return 0
	}
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.stdout, "%d files labelled\n", n)
	return 0
}

func runInventory(a *app, args []string) int {
	var ids listFlag
	fs := a.flagSet("inventory", "-root DIR -out FILE [-ids ID,ID...]")
	root := fs.String("root", "", "Tree of patient folders (required)")
	pattern := fs.String("pattern", layout.DefaultPatterns[0], "Glob locating patient folders under root")
	fs.Var(&ids, "ids", "Expected patient IDs (comma separated, repeatable)")
	out := fs.String("out", "inventory.csv", "Inventory file (.csv, .tsv or .xlsx)")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if *root == "" {
		fmt.Fprintln(a.stderr, "Error: -root is required")
		fs.Usage()
		return 1
	}
	rows, err := layout.Inventory(*root, *pattern, ids)
	if a.missing(err) {
		return 0
	}
	if err != nil {
		return a.fail(err)
	}
	if err := layout.WriteInventory(*out, rows); err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.stdout, "%d patient folders listed in %s\n", len(rows), *out)
	return 0
}

// converter returns the converter configured by flags, then configuration.
// It is located on first use.
func (a *app) converter(path string, timeout time.Duration) convert.Converter {
	cfg := a.cfg
	if path != "" {
		cfg.Converter = path
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return &lazyConverter{resolve: func() (convert.Converter, error) { return newConverter(cfg) }}
}

// lazyConverter locates the converter on its first Convert call.
type lazyConverter struct {
	once    sync.Once
	resolve func() (convert.Converter, error)
	conv    convert.Converter
	err     error
}

func (l *lazyConverter) Convert(ctx context.Context, seriesDir, outDir, basename string) error {
	l.once.Do(func() { l.conv, l.err = l.resolve() })
	if l.err != nil {
		return l.err
	}
	return l.conv.Convert(ctx, seriesDir, outDir, basename)
}
