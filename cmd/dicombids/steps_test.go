package main

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"
	"github.com/mrsinham/dicombids/internal/catalog"
)

// testContext holds state for a single scenario
type testContext struct {
	tmpDir   string
	exitCode int
	output   string
	path0    *string // PATH before the scenario changed it
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tmpDir, err := os.MkdirTemp("", "dicombids-e2e-*")
		if err != nil {
			return ctx, err
		}
		tc.tmpDir = tmpDir
		return ctx, nil
	})

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.path0 != nil {
			_ = os.Setenv("PATH", *tc.path0)
			tc.path0 = nil
		}
		useFakeConverter()
		if tc.tmpDir != "" {
			_ = os.RemoveAll(tc.tmpDir)
		}
		return ctx, nil
	})

	sc.Step(`^a synthetic export of (\d+) patients? in "([^"]*)"$`, tc.aSyntheticExport)
	sc.Step(`^a file "([^"]*)" containing "([^"]*)"$`, tc.aFileContaining)
	sc.Step(`^dcm2niix is not installed$`, tc.dcm2niixIsNotInstalled)
	sc.Step(`^I run dicombids with "([^"]*)"$`, tc.iRunDicombidsWith)
	sc.Step(`^the exit code should be (\d+)$`, tc.theExitCodeShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, tc.theOutputShouldContain)
	sc.Step(`^"([^"]*)" should exist$`, tc.shouldExist)
	sc.Step(`^"([^"]*)" should not exist$`, tc.shouldNotExist)
	sc.Step(`^"([^"]*)" should contain (\d+) files matching "([^"]*)"$`, tc.shouldContainFiles)
	sc.Step(`^the catalog "([^"]*)" should list (\d+) series with (\d+) selected$`, tc.theCatalogShouldList)
}

func (tc *testContext) path(p string) string {
	return strings.ReplaceAll(p, "{tmpdir}", tc.tmpDir)
}

func (tc *testContext) aSyntheticExport(patients int, dir string) error {
	if err := tc.iRunDicombidsWith(fmt.Sprintf("synth -output %s -patients %d -slices 1 -size 16 -seed 5", dir, patients)); err != nil {
		return err
	}
	if tc.exitCode != 0 {
		return fmt.Errorf("synth failed:\n%s", tc.output)
	}
	return nil
}

func (tc *testContext) aFileContaining(path, content string) error {
	content = strings.ReplaceAll(content, `\n`, "\n")
	return os.WriteFile(tc.path(path), []byte(content), 0o644)
}

// dcm2niixIsNotInstalled switches back to the real converter lookup with an
// empty PATH.
func (tc *testContext) dcm2niixIsNotInstalled() error {
	if tc.path0 == nil {
		old := os.Getenv("PATH")
		tc.path0 = &old
	}
	newConverter = installedConverter
	return os.Setenv("PATH", "")
}

func (tc *testContext) iRunDicombidsWith(args string) error {
	var output bytes.Buffer
	tc.exitCode = run(splitArgs(tc.path(args)), &output, &output)
	tc.output = output.String()
	return nil
}

func (tc *testContext) theExitCodeShouldBe(expected int) error {
	if tc.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nOutput:\n%s", expected, tc.exitCode, tc.output)
	}
	return nil
}

func (tc *testContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(tc.output, expected) {
		return fmt.Errorf("output does not contain %q\nOutput:\n%s", expected, tc.output)
	}
	return nil
}

func (tc *testContext) shouldExist(path string) error {
	if _, err := os.Stat(tc.path(path)); err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	return nil
}

func (tc *testContext) shouldNotExist(path string) error {
	if _, err := os.Stat(tc.path(path)); err == nil {
		return fmt.Errorf("path exists: %s", tc.path(path))
	}
	return nil
}

func (tc *testContext) shouldContainFiles(root string, count int, pattern string) error {
	var found []string
	err := filepath.WalkDir(tc.path(root), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok && !d.IsDir() {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(found) != count {
		return fmt.Errorf("expected %d files matching %s, found %d: %v", count, pattern, len(found), found)
	}
	return nil
}

func (tc *testContext) theCatalogShouldList(path string, series, selected int) error {
	records, err := catalog.Load(tc.path(path))
	if err != nil {
		return err
	}
	if len(records) != series {
		return fmt.Errorf("expected %d series, got %d", series, len(records))
	}
	if n := len(catalog.Selected(records)); n != selected {
		return fmt.Errorf("expected %d selected, got %d", selected, n)
	}
	return nil
}

// splitArgs splits a command line string into arguments
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
