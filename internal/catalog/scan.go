package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/mrsinham/dicombids/internal/dicom"
	log "github.com/sirupsen/logrus"
)

// Mode selects how files in a directory are grouped into series.
type Mode string

const (
	// OnePerDir treats each directory as one series described by a single
	// representative file.
	OnePerDir Mode = "one_per_dir"
	// MultiPerDir reads every file and groups them by series description.
	MultiPerDir Mode = "multi_per_dir"
)

// DefaultPattern is the representative file glob used in OnePerDir mode.
const DefaultPattern = "00000001.dcm"

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case OnePerDir, MultiPerDir:
		return Mode(s), nil
	case "":
		return OnePerDir, nil
	}
	return "", fmt.Errorf("unknown scan mode %q (want %s or %s)", s, OnePerDir, MultiPerDir)
}

// Options configures a scan.
type Options struct {
	Mode    Mode
	Pattern string
}

// Result is one candidate visited by a scan: either a record or the reason
// the candidate was skipped.
type Result struct {
	Path   string
	Record SeriesRecord
	Reason string
}

// Ok reports whether r carries a record.
func (r Result) Ok() bool { return r.Reason == "" }

func okResult(path string, rec SeriesRecord) Result {
	return Result{Path: path, Record: rec}
}

func skipResult(path, format string, args ...any) Result {
	return Result{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Results walks root in lexical order and yields one result per candidate.
// A file or directory that cannot be read yields a skip and the walk goes on.
func Results(root string, opts Options) iter.Seq[Result] {
	if opts.Mode == "" {
		opts.Mode = OnePerDir
	}
	if opts.Pattern == "" {
		opts.Pattern = DefaultPattern
	}

	return func(yield func(Result) bool) {
		stopped := false
		emit := func(r Result) bool {
			if !yield(r) {
				stopped = true
			}
			return !stopped
		}

		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if !emit(skipResult(path, "unreadable: %v", err)) {
					return filepath.SkipAll
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.IsDir() {
				return nil
			}

			files, err := regularFiles(path)
			if err != nil {
				emit(skipResult(path, "list directory: %v", err))
			} else if len(files) > 0 {
				switch opts.Mode {
				case MultiPerDir:
					scanMulti(path, files, emit)
				default:
					scanOne(path, files, opts.Pattern, emit)
				}
			}
			if stopped {
				return filepath.SkipAll
			}
			return nil
		})
	}
}

// Scan collects Results, logging every skip. It returns ErrMissingInput when
// root does not exist.
func Scan(root string, opts Options) ([]SeriesRecord, []Result, error) {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrMissingInput, root)
		}
		return nil, nil, err
	}
	if opts.Mode != "" {
		if _, err := ParseMode(string(opts.Mode)); err != nil {
			return nil, nil, err
		}
	}
	if opts.Pattern != "" {
		if _, err := filepath.Match(opts.Pattern, ""); err != nil {
			return nil, nil, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
		}
	}

	var records []SeriesRecord
	var skipped []Result
	for r := range Results(root, opts) {
		if !r.Ok() {
			log.WithFields(log.Fields{"path": r.Path, "reason": r.Reason}).Warn("skipping")
			skipped = append(skipped, r)
			continue
		}
		log.WithFields(log.Fields{
			"series": r.Record.SeriesDescription,
			"files":  r.Record.NumberOfSlices,
		}).Debug("series found")
		records = append(records, r.Record)
	}
	return records, skipped, nil
}

func scanOne(dir string, files []string, pattern string, emit func(Result) bool) {
	var rep string
	for _, name := range files {
		if ok, _ := filepath.Match(pattern, name); ok {
			rep = name
			break
		}
	}
	if rep == "" {
		emit(skipResult(dir, "no file matching %q", pattern))
		return
	}

	path := filepath.Join(dir, rep)
	if !dicom.IsDICOM(path) {
		emit(skipResult(path, "not a DICOM file"))
		return
	}
	m, err := dicom.ReadMetadata(path)
	if err != nil {
		emit(skipResult(path, "%v", err))
		return
	}
	emit(okResult(dir, newRecord(m, dir, files)))
}

func scanMulti(dir string, files []string, emit func(Result) bool) {
	type group struct {
		meta  dicom.Metadata
		files []string
	}
	var order []string
	groups := map[string]*group{}

	for _, name := range files {
		path := filepath.Join(dir, name)
		if !dicom.IsDICOM(path) {
			if !emit(skipResult(path, "not a DICOM file")) {
				return
			}
			continue
		}
		m, err := dicom.ReadMetadata(path)
		if err != nil {
			if !emit(skipResult(path, "%v", err)) {
				return
			}
			continue
		}
		g, ok := groups[m.SeriesDescription]
		if !ok {
			g = &group{meta: m}
			groups[m.SeriesDescription] = g
			order = append(order, m.SeriesDescription)
		}
		g.files = append(g.files, name)
	}

	for _, desc := range order {
		g := groups[desc]
		if !emit(okResult(dir, newRecord(g.meta, dir, g.files))) {
			return
		}
	}
}

func newRecord(m dicom.Metadata, dir string, files []string) SeriesRecord {
	acq := m.AcquisitionDateTime
	if acq == dicom.NA {
		if ts, ok := m.AcquisitionTimestamp(); ok {
			acq = ts
		}
	}
	return SeriesRecord{
		PatientName:         m.PatientName,
		PatientID:           m.PatientID,
		StudyDate:           m.StudyDate,
		AcquisitionDateTime: acq,
		SeriesDescription:   m.SeriesDescription,
		SeriesNumber:        m.SeriesNumber,
		Modality:            m.Modality,
		NumberOfSlices:      len(files),
		SourcePath:          dir,
		Files:               append(FileList(nil), files...),
	}
}

// regularFiles lists the names of regular files in dir, sorted.
func regularFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Merge returns a new snapshot: every prior row first and untouched, then
// scanned rows whose key is not already present.
func Merge(prior, scanned []SeriesRecord) []SeriesRecord {
	out := make([]SeriesRecord, 0, len(prior)+len(scanned))
	seen := make(map[string]bool, len(prior)+len(scanned))
	for _, r := range prior {
		out = append(out, r)
		seen[r.Key()] = true
	}
	for _, r := range scanned {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		out = append(out, r)
	}
	return out
}
