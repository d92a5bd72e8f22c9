package modalities

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// floatToDS formats a Decimal String; DS values are limited to 16 bytes.
func floatToDS(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

func intToIS(i int) string {
	return strconv.Itoa(i)
}
