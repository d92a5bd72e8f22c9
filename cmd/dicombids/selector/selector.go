// Package selector toggles the Selected flag of catalog rows, either from a
// terminal form or from a description filter.
package selector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsinham/dicombids/internal/catalog"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("63")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	petStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
)

// ErrAborted is returned when the form is cancelled.
var ErrAborted = errors.New("selection aborted")

// maxHeight bounds the option list on screen.
const maxHeight = 20

// Label renders one row as a form option.
func Label(r catalog.SeriesRecord) string {
	desc := r.SeriesDescription
	if r.Modality == "PT" {
		desc = petStyle.Render(desc)
	}
	return fmt.Sprintf("%s  %s  %s  %s (%d files)",
		r.PatientID, r.StudyDate, r.Timestamp(), desc, r.NumberOfSlices)
}

// Options returns one option per record, valued by row index and
// preselected when the row already is.
func Options(records []catalog.SeriesRecord) []huh.Option[int] {
	opts := make([]huh.Option[int], len(records))
	for i, r := range records {
		opts[i] = huh.NewOption(Label(r), i).Selected(bool(r.Selected))
	}
	return opts
}

// Apply returns a copy of records where exactly the rows in chosen are
// selected.
func Apply(records []catalog.SeriesRecord, chosen []int) []catalog.SeriesRecord {
	set := make(map[int]bool, len(chosen))
	for _, i := range chosen {
		set[i] = true
	}
	out := make([]catalog.SeriesRecord, len(records))
	for i, r := range records {
		r.Selected = catalog.Flag(set[i])
		out[i] = r
	}
	return out
}

// Match returns the indexes of rows whose series description or patient ID
// contains any of the substrings, ignoring case.
func Match(records []catalog.SeriesRecord, substrings ...string) []int {
	var idx []int
	for i, r := range records {
		desc := strings.ToLower(r.SeriesDescription)
		for _, s := range substrings {
			s = strings.ToLower(s)
			if s != "" && (strings.Contains(desc, s) || strings.Contains(strings.ToLower(r.PatientID), s)) {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// All returns every row index.
func All(records []catalog.SeriesRecord) []int {
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Run shows a multi-select form over records and returns them with the
// chosen flags applied.
func Run(records []catalog.SeriesRecord) ([]catalog.SeriesRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	var chosen []int
	for i, r := range records {
		if r.Selected {
			chosen = append(chosen, i)
		}
	}

	height := len(records) + 2
	if height > maxHeight {
		height = maxHeight
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title(titleStyle.Render("Select series")).
				Description(subtitleStyle.Render("space toggles, enter confirms")).
				Options(Options(records)...).
				Height(height).
				Value(&chosen),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, ErrAborted
		}
		return nil, err
	}
	return Apply(records, chosen), nil
}

// Summary renders a one-line count of selected rows.
func Summary(records []catalog.SeriesRecord) string {
	n := len(catalog.Selected(records))
	return titleStyle.UnsetMarginBottom().Render(fmt.Sprintf("%d of %d series selected", n, len(records)))
}
