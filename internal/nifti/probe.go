package nifti

import (
	"fmt"

	hnifti "github.com/henghuang/nifti"
)

// ProbeFrames reports the number of time frames in a volume using an
// independent reader, so frame counts can be cross-checked against what Read
// decoded. The reader panics on malformed input; panics become errors.
func ProbeFrames(path string) (frames int, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("probe %s: %v", path, panicErr)
		}
	}()

	var img hnifti.Nifti1Image
	img.LoadImage(path, false)

	dims := img.GetDims()
	if len(dims) < 4 || dims[3] < 1 {
		return 1, nil
	}
	return int(dims[3]), nil
}
