// Package inspect compares DICOM files attribute by attribute.
package inspect

import (
	"github.com/carbocation/pfx"
	"github.com/mrsinham/dicombids/internal/dicom"
	"github.com/pmezard/go-difflib/difflib"
)

// Diff dumps both files and returns the lines only one of them has, "- "
// for a and "+ " for b, in dump order. Files are parsed even without the
// DICM preamble.
func Diff(a, b string) ([]string, error) {
	left, err := dicom.Dump(a)
	if err != nil {
		return nil, pfx.Err(err)
	}
	right, err := dicom.Dump(b)
	if err != nil {
		return nil, pfx.Err(err)
	}
	return DiffLines(left, right), nil
}

// DiffLines returns the delete and insert lines turning left into right.
func DiffLines(left, right []string) []string {
	var out []string
	m := difflib.NewMatcher(left, right)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'r':
			for _, l := range left[op.I1:op.I2] {
				out = append(out, "- "+l)
			}
			for _, l := range right[op.J1:op.J2] {
				out = append(out, "+ "+l)
			}
		case 'd':
			for _, l := range left[op.I1:op.I2] {
				out = append(out, "- "+l)
			}
		case 'i':
			for _, l := range right[op.J1:op.J2] {
				out = append(out, "+ "+l)
			}
		}
	}
	return out
}
