package organize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrsinham/dicombids/internal/catalog"
	"github.com/mrsinham/dicombids/internal/dicom"
	"github.com/mrsinham/dicombids/internal/util"
	log "github.com/sirupsen/logrus"
)

// Label copies every DICOM file under root whose tagName attribute contains
// the substring to "<contains>_<file>" in the same directory. Files already
// carrying the prefix are left alone. It returns the number of copies made.
func Label(root, tagName, contains string) (int, error) {
	if contains == "" {
		return 0, errors.New("label: empty substring")
	}
	info, err := util.GetTagByName(tagName)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", catalog.ErrMissingInput, root)
	}

	prefix := util.SafeName(contains) + "_"
	var matches []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("skipping")
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), prefix) || !dicom.IsDICOM(path) {
			return nil
		}
		value, err := dicom.ReadTag(path, info.Tag)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("skipping")
			return nil
		}
		if value != dicom.NA && strings.Contains(value, contains) {
			matches = append(matches, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i, path := range matches {
		dst := filepath.Join(filepath.Dir(path), prefix+filepath.Base(path))
		if _, err := copyFile(path, dst); err != nil {
			return i, err
		}
	}
	log.WithFields(log.Fields{"tag": info.Name, "contains": contains, "files": len(matches)}).Info("labelled")
	return len(matches), nil
}
