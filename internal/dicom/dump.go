package dicom

import (
	"fmt"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Dump renders every attribute of a file, file meta group included, one line
// per element in file order. Sequence items are indented under their parent.
func Dump(path string) ([]string, error) {
	ds, err := Parse(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	var lines []string
	dumpElements(&lines, ds.Elements, 0)
	return lines, nil
}

func dumpElements(lines *[]string, elems []*dicom.Element, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, elem := range elems {
		*lines = append(*lines, fmt.Sprintf("%s%s %s %s = %s",
			indent, formatTag(elem.Tag), tagName(elem.Tag), elem.RawValueRepresentation, valueString(elem)))

		if elem.Value.ValueType() != dicom.Sequences {
			continue
		}
		items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
		if !ok {
			continue
		}
		for i, item := range items {
			*lines = append(*lines, fmt.Sprintf("%s  item %d", indent, i+1))
			if sub, ok := item.GetValue().([]*dicom.Element); ok {
				dumpElements(lines, sub, depth+2)
			}
		}
	}
}

func formatTag(t tag.Tag) string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

func tagName(t tag.Tag) string {
	info, err := tag.Find(t)
	if err != nil || info.Keyword == "" {
		if t.Group%2 == 1 {
			return "Private"
		}
		return "Unknown"
	}
	return info.Keyword
}
