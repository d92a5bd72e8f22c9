// Package organize copies catalogued series into a subject/date/series tree
// and labels files by tag content.
package organize

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/dustin/go-humanize"
	"github.com/mrsinham/dicombids/internal/catalog"
	"github.com/mrsinham/dicombids/internal/util"
	log "github.com/sirupsen/logrus"
)

// CopyFailure is a selected row that could not be copied.
type CopyFailure struct {
	Record catalog.SeriesRecord
	Err    error
}

// CopyReport summarizes a CopySelected run.
type CopyReport struct {
	Selected   int
	Unselected int
	Copied     int
	Files      int
	Bytes      int64
	Failures   []CopyFailure
}

// String renders the report for terminal output.
func (r CopyReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d selected series copied (%d files, %s), %d unselected\n",
		r.Copied, r.Selected, r.Files, humanize.Bytes(uint64(r.Bytes)), r.Unselected)
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  FAILED %s (%s): %v\n", f.Record.SourcePath, f.Record.SeriesDescription, f.Err)
	}
	return b.String()
}

// SeriesFolder returns the destination folder of a record relative to the
// destination root: <PatientID>/<StudyDate>/<timestamp>_<SeriesDescription>.
func SeriesFolder(r catalog.SeriesRecord) string {
	return filepath.Join(
		util.SafeName(r.PatientID),
		util.SafeName(r.StudyDate),
		util.SafeName(r.Timestamp()+"_"+r.SeriesDescription),
	)
}

// CopyCatalog loads a catalog file and copies its selected rows. A missing
// catalog returns catalog.ErrMissingInput without touching destRoot.
func CopyCatalog(catalogPath, destRoot string) (CopyReport, error) {
	records, err := catalog.Load(catalogPath)
	if err != nil {
		return CopyReport{}, err
	}
	return CopySelected(records, destRoot)
}

// CopySelected copies the member files of every selected record under
// destRoot. A record with a missing member fails on its own before any of its
// files is copied; the remaining records are still processed. Existing
// destination files are overwritten.
func CopySelected(records []catalog.SeriesRecord, destRoot string) (CopyReport, error) {
	var report CopyReport
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return report, pfx.Err(err)
	}

	for _, r := range records {
		if !r.Selected {
			report.Unselected++
			continue
		}
		report.Selected++

		fields := log.Fields{"subject": r.PatientID, "series": r.SeriesDescription}
		n, size, err := copyRecord(r, filepath.Join(destRoot, SeriesFolder(r)))
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("copy failed")
			report.Failures = append(report.Failures, CopyFailure{Record: r, Err: err})
			continue
		}
		log.WithFields(fields).WithField("files", n).Debug("series copied")
		report.Copied++
		report.Files += n
		report.Bytes += size
	}

	log.WithFields(log.Fields{
		"copied": report.Copied,
		"failed": len(report.Failures),
		"size":   humanize.Bytes(uint64(report.Bytes)),
	}).Info("copy finished")
	return report, nil
}

func copyRecord(r catalog.SeriesRecord, dest string) (int, int64, error) {
	if len(r.Files) == 0 {
		return 0, 0, errors.New("no member files listed")
	}
	for _, name := range r.Files {
		info, err := os.Stat(filepath.Join(r.SourcePath, name))
		if err != nil {
			return 0, 0, err
		}
		if !info.Mode().IsRegular() {
			return 0, 0, fmt.Errorf("%s is not a regular file", name)
		}
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, 0, err
	}
	var total int64
	for _, name := range r.Files {
		n, err := copyFile(filepath.Join(r.SourcePath, name), filepath.Join(dest, filepath.Base(name)))
		if err != nil {
			return 0, total, err
		}
		total += n
	}
	return len(r.Files), total, nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer func() { _ = in.Close() }()

	var n int64
	err = util.WriteFileAtomic(dst, func(w io.Writer) error {
		var err error
		n, err = io.Copy(w, in)
		return err
	})
	return n, err
}
