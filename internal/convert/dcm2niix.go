// Package convert runs an external DICOM to NIfTI converter over series
// directories and lays the results out as a BIDS tree.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/kardianos/osext"
	log "github.com/sirupsen/logrus"
)

// Converter turns a DICOM series directory into <basename>.nii.gz plus a JSON
// sidecar in outDir.
type Converter interface {
	Convert(ctx context.Context, seriesDir, outDir, basename string) error
}

// ErrConverterNotFound is returned by Locate when no executable is found.
var ErrConverterNotFound = errors.New("dcm2niix not found")

// outputTail is how much converter output is kept in error messages.
const outputTail = 2048

// Dcm2niix runs the dcm2niix executable.
type Dcm2niix struct {
	Path    string
	Timeout time.Duration // 0 disables the timeout
}

// Args returns the command line for one conversion: sidecar on, gzip on.
func (d *Dcm2niix) Args(seriesDir, outDir, basename string) []string {
	return []string{"-b", "y", "-z", "y", "-f", basename, "-o", outDir, seriesDir}
}

// Convert runs dcm2niix and waits for it. Its stderr is merged into stdout;
// the combined output is dropped on success and its tail is attached to the
// error otherwise.
func (d *Dcm2niix) Convert(ctx context.Context, seriesDir, outDir, basename string) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Path, d.Args(seriesDir, outDir, basename)...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	log.WithFields(log.Fields{
		"series":   filepath.Base(seriesDir),
		"basename": basename,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Debug("dcm2niix finished")
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", d.Timeout, ctxErr)
	}
	if msg := tail(out.String(), outputTail); msg != "" {
		return fmt.Errorf("dcm2niix %s: %w: %s", basename, err, msg)
	}
	return fmt.Errorf("dcm2niix %s: %w", basename, err)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}

// Locate returns the converter to run: override when set, then the bundled
// exe/dcm2niix_<os> next to the running binary, then dcm2niix on PATH.
func Locate(override string) (string, error) {
	if override != "" {
		path, err := exec.LookPath(override)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrConverterNotFound, err)
		}
		return path, nil
	}

	if folder, err := osext.ExecutableFolder(); err == nil {
		bundled := filepath.Join(folder, "exe", bundledName())
		if info, err := os.Stat(bundled); err == nil && info.Mode().IsRegular() {
			return bundled, nil
		}
	}

	path, err := exec.LookPath("dcm2niix")
	if err != nil {
		return "", fmt.Errorf("%w: set converter in the config file or install it on PATH", ErrConverterNotFound)
	}
	return path, nil
}

func bundledName() string {
	switch runtime.GOOS {
	case "windows":
		return "dcm2niix.exe"
	case "darwin":
		return "dcm2niix_macos"
	}
	return "dcm2niix_" + runtime.GOOS
}
