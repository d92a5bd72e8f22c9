// Package layout finds patient folders in vendor exports.
//
// An export holds one folder per patient named <name>_<id>_<n>, either
// directly under a date folder or under <date>/Image.
package layout

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mrsinham/dicombids/internal/catalog"
)

// DefaultPatterns locate patient folders relative to an export root.
var DefaultPatterns = []string{
	filepath.Join("*", "*_*_*"),
	filepath.Join("*", "Image", "*_*_*"),
}

// PatientDir is a parsed patient folder name.
type PatientDir struct {
	Name   string
	ID     string
	Suffix string
}

// Subject returns the BIDS subject label, sub-<ID>.
func (p PatientDir) Subject() string {
	return "sub-" + p.ID
}

// ParsePatientDir splits a folder name of the form <name>_<id>_<suffix>.
func ParsePatientDir(name string) (PatientDir, bool) {
	parts := strings.SplitN(filepath.Base(name), "_", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return PatientDir{}, false
	}
	return PatientDir{Name: parts[0], ID: parts[1], Suffix: parts[2]}, true
}

// FindPatientRoots globs patterns under root and returns the matching
// directories sorted and without duplicates. DefaultPatterns are used when
// none are given.
func FindPatientRoots(root string, patterns ...string) ([]string, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", catalog.ErrMissingInput, root)
	}
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	var roots []string
	for _, p := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, p))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if info, err := os.Stat(m); err == nil && info.IsDir() {
				roots = append(roots, m)
			}
		}
	}
	slices.Sort(roots)
	return slices.Compact(roots), nil
}

// InventoryRow is one line of a project inventory sheet.
type InventoryRow struct {
	ID    string       `csv:"ID"`
	Name  string       `csv:"Name"`
	Exist catalog.Flag `csv:"Exist"`
	Root  string       `csv:"Root"`
}

// Inventory lists the patient folders matching pattern under root, sorted by
// ID. Exist marks the IDs found in ids.
func Inventory(root, pattern string, ids []string) ([]InventoryRow, error) {
	var patterns []string
	if pattern != "" {
		patterns = []string{pattern}
	}
	roots, err := FindPatientRoots(root, patterns...)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[strings.TrimSpace(id)] = true
	}

	var rows []InventoryRow
	for _, r := range roots {
		p, ok := ParsePatientDir(r)
		if !ok {
			continue
		}
		rows = append(rows, InventoryRow{
			ID:    p.ID,
			Name:  p.Name,
			Exist: catalog.Flag(wanted[p.ID]),
			Root:  r,
		})
	}
	slices.SortStableFunc(rows, func(a, b InventoryRow) int {
		return strings.Compare(a.ID, b.ID)
	})
	return rows, nil
}

// WriteInventory stores rows with the catalog table writer.
func WriteInventory(path string, rows []InventoryRow) error {
	return catalog.WriteTable(path, rows)
}
