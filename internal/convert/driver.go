package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/dicombids/internal/catalog"
	"github.com/mrsinham/dicombids/internal/config"
	"github.com/mrsinham/dicombids/internal/layout"
	"github.com/mrsinham/dicombids/internal/suv"
	"github.com/mrsinham/dicombids/internal/util"
	log "github.com/sirupsen/logrus"
)

// Status is the outcome of one series.
type Status string

const (
	StatusConverted Status = "converted"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Result is the outcome of converting one series.
type Result struct {
	Subject string
	Series  string
	Type    string
	Output  string
	Status  Status
	Reason  string
	Err     error
}

// Report collects the results of a batch.
type Report struct {
	Results []Result
}

// Count returns how many results have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Failed reports whether any series failed.
func (r Report) Failed() bool {
	return r.Count(StatusFailed) > 0
}

// String renders a summary followed by one line per failure.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d converted, %d skipped, %d failed\n",
		r.Count(StatusConverted), r.Count(StatusSkipped), r.Count(StatusFailed))
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			fmt.Fprintf(&b, "  FAILED %s %s: %v\n", res.Subject, res.Series, res.Err)
		}
	}
	return b.String()
}

func (r *Report) add(res Result) {
	fields := log.Fields{"subject": res.Subject, "series": res.Series, "type": res.Type}
	switch res.Status {
	case StatusFailed:
		log.WithFields(fields).WithError(res.Err).Warn("conversion failed")
	case StatusSkipped:
		log.WithFields(fields).WithField("reason", res.Reason).Info("skipped")
	default:
		log.WithFields(fields).WithField("output", res.Output).Info("converted")
	}
	r.Results = append(r.Results, res)
}

// Driver converts series according to a rule list. PET rules go through SUV
// correction; the others produce <subject>_task-<task>_<type>.nii.gz.
type Driver struct {
	Converter Converter
	Rules     []config.Rule
	Vendor    string
	// Patterns locate patient folders under a tree root; layout.DefaultPatterns
	// when empty.
	Patterns []string
}

// ConvertTree converts every patient folder under root into outRoot. Within
// a patient, the first series matching a rule is named after the subject and
// later ones get a -01, -02, ... suffix.
func (d *Driver) ConvertTree(ctx context.Context, root, outRoot string) (Report, error) {
	var report Report
	roots, err := layout.FindPatientRoots(root, d.Patterns...)
	if err != nil {
		return report, err
	}

	for _, patientRoot := range roots {
		p, ok := layout.ParsePatientDir(patientRoot)
		if !ok {
			log.WithField("path", patientRoot).Warn("not a patient folder")
			continue
		}
		subject := p.Subject()
		series, err := subdirs(patientRoot)
		if err != nil {
			report.add(Result{Subject: subject, Series: patientRoot, Status: StatusFailed, Err: err})
			continue
		}

		for _, rule := range d.Rules {
			i := 0
			for _, name := range series {
				if !strings.Contains(name, rule.SeriesDescription) {
					continue
				}
				if err := ctx.Err(); err != nil {
					return report, err
				}
				res := d.convertSeries(ctx, filepath.Join(patientRoot, name), outRoot, subject, numbered(subject, i), rule)
				res.Series = name
				report.add(res)
				i++
			}
		}
	}
	return report, nil
}

// ConvertCatalogFile loads a catalog and converts its selected rows.
func (d *Driver) ConvertCatalogFile(ctx context.Context, path, outRoot string) (Report, error) {
	records, err := catalog.Load(path)
	if err != nil {
		return Report{}, err
	}
	return d.ConvertCatalog(ctx, records, outRoot)
}

// ConvertCatalog converts the selected records, applying the first rule whose
// substring occurs in the series description. Series sharing a folder with
// other files are staged in a temporary folder holding only their members.
func (d *Driver) ConvertCatalog(ctx context.Context, records []catalog.SeriesRecord, outRoot string) (Report, error) {
	var report Report
	counts := map[string]int{}

	for _, r := range catalog.Selected(records) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		subject := "sub-" + util.SafeName(r.PatientID)
		rule, ok := matchRule(d.Rules, r.SeriesDescription)
		if !ok {
			report.add(Result{Subject: subject, Series: r.SeriesDescription, Status: StatusSkipped, Reason: "no matching rule"})
			continue
		}

		key := subject + "\x00" + rule.SeriesDescription
		name := numbered(subject, counts[key])
		counts[key]++

		res := d.convertRecord(ctx, r, outRoot, subject, name, rule)
		res.Series = r.SeriesDescription
		report.add(res)
	}
	return report, nil
}

func (d *Driver) convertRecord(ctx context.Context, r catalog.SeriesRecord, outRoot, subject, name string, rule config.Rule) Result {
	dir, cleanup, err := stage(r)
	if err != nil {
		return Result{Subject: subject, Type: rule.Type, Status: StatusFailed, Err: err}
	}
	defer cleanup()
	return d.convertSeries(ctx, dir, outRoot, subject, name, rule)
}

// convertSeries writes into outRoot/<subject>/<func>/ using name as the file
// subject label.
func (d *Driver) convertSeries(ctx context.Context, seriesDir, outRoot, subject, name string, rule config.Rule) Result {
	res := Result{Subject: name, Type: rule.Type}
	funcDir := filepath.Join(outRoot, subject, rule.Func)
	base := name + "_task-" + rule.Task

	if rule.IsPET() {
		corrector := suv.Corrector{Converter: d.Converter, Vendor: d.Vendor}
		out, err := corrector.Correct(ctx, seriesDir, funcDir, base)
		res.Output = out.Output
		switch {
		case err != nil:
			res.Status, res.Err = StatusFailed, err
		case out.Skipped:
			res.Status, res.Reason = StatusSkipped, "SUVbw volume exists"
		default:
			res.Status = StatusConverted
		}
		return res
	}

	base += "_" + rule.Type
	res.Output = filepath.Join(funcDir, base+".nii.gz")
	if _, err := os.Stat(res.Output); err == nil {
		res.Status, res.Reason = StatusSkipped, "output exists"
		return res
	}
	if d.Converter == nil {
		res.Status, res.Err = StatusFailed, errors.New("no converter configured")
		return res
	}
	if err := os.MkdirAll(funcDir, 0o755); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if err := d.Converter.Convert(ctx, seriesDir, funcDir, base); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}
	if _, err := os.Stat(res.Output); err != nil {
		res.Status, res.Err = StatusFailed, fmt.Errorf("converter did not produce %s", filepath.Base(res.Output))
		return res
	}
	res.Status = StatusConverted
	return res
}

func numbered(subject string, i int) string {
	if i == 0 {
		return subject
	}
	return fmt.Sprintf("%s-%02d", subject, i)
}

func matchRule(rules []config.Rule, description string) (config.Rule, bool) {
	for _, r := range rules {
		if strings.Contains(description, r.SeriesDescription) {
			return r, true
		}
	}
	return config.Rule{}, false
}

// subdirs lists the directory names in dir, sorted.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// stage returns a folder holding exactly the record's members. When the
// source folder already does, it is returned as is.
func stage(r catalog.SeriesRecord) (string, func(), error) {
	noop := func() {}
	if len(r.Files) == 0 {
		return "", noop, errors.New("no member files listed")
	}
	entries, err := os.ReadDir(r.SourcePath)
	if err != nil {
		return "", noop, err
	}

	members := make(map[string]bool, len(r.Files))
	for _, name := range r.Files {
		members[name] = true
	}
	extra := false
	for _, e := range entries {
		if e.Type().IsRegular() && !members[e.Name()] {
			extra = true
			break
		}
	}
	if !extra {
		return r.SourcePath, noop, nil
	}

	tmp, err := os.MkdirTemp("", "dicombids-stage-*")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { _ = os.RemoveAll(tmp) }
	for _, name := range r.Files {
		src := filepath.Join(r.SourcePath, name)
		dst := filepath.Join(tmp, filepath.Base(name))
		if err := os.Link(src, dst); err == nil {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			cleanup()
			return "", noop, err
		}
	}
	log.WithFields(log.Fields{"series": r.SeriesDescription, "files": len(r.Files)}).Debug("staged series")
	return tmp, cleanup, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	return util.WriteFileAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
