package convert

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeScript creates an executable shell script standing in for dcm2niix.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDcm2niix_Args(t *testing.T) {
	d := &Dcm2niix{Path: "dcm2niix"}
	got := strings.Join(d.Args("/in/PET_3", "/out/pet", "sub-001_task-rest_PET-BQML"), " ")
	want := "-b y -z y -f sub-001_task-rest_PET-BQML -o /out/pet /in/PET_3"
	if got != want {
		t.Errorf("Args() = %q, want %q", got, want)
	}
}

func TestDcm2niix_Convert(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	script := writeScript(t, dir, "dcm2niix", `echo "$@" > `+argsFile+`
echo "Chris Rorden's dcm2niiX"
echo "warning: slices not equidistant" >&2`)

	d := &Dcm2niix{Path: script}
	if err := d.Convert(context.Background(), "/in/series", dir, "sub-001_task-rest_T1w"); err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(got), "-f sub-001_task-rest_T1w -o "+dir+" /in/series") {
		t.Errorf("converter called with %q", got)
	}
}

func TestDcm2niix_Failure(t *testing.T) {
	script := writeScript(t, t.TempDir(), "dcm2niix", `echo "Error: unable to find any DICOM images" >&2
exit 2`)

	err := (&Dcm2niix{Path: script}).Convert(context.Background(), "/in", t.TempDir(), "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unable to find any DICOM images") {
		t.Errorf("stderr not attached: %v", err)
	}
}

func TestDcm2niix_Timeout(t *testing.T) {
	script := writeScript(t, t.TempDir(), "dcm2niix", "exec sleep 5")

	start := time.Now()
	err := (&Dcm2niix{Path: script, Timeout: 100 * time.Millisecond}).Convert(context.Background(), "/in", t.TempDir(), "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout not enforced: took %s", time.Since(start))
	}
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "dcm2niix", "exit 0")

	got, err := Locate(script)
	if err != nil || got != script {
		t.Errorf("Locate(override) = %q, %v", got, err)
	}
	if _, err := Locate(filepath.Join(dir, "absent")); !errors.Is(err, ErrConverterNotFound) {
		t.Errorf("Locate(absent) error = %v", err)
	}

	t.Setenv("PATH", dir)
	got, err = Locate("")
	if err != nil || got != script {
		t.Errorf("Locate(\"\") = %q, %v; want %q", got, err, script)
	}

	t.Setenv("PATH", t.TempDir())
	if _, err := Locate(""); !errors.Is(err, ErrConverterNotFound) {
		t.Errorf("expected ErrConverterNotFound, got %v", err)
	}
}
