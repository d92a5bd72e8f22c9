package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/mrsinham/dicombids/internal/dicom"
	"github.com/mrsinham/dicombids/internal/dicom/edgecases"
	"github.com/mrsinham/dicombids/internal/dicom/modalities"
)

func runSynth(a *app, args []string) int {
	fs := a.flagSet("synth", "-output DIR [-patients N]")
	output := fs.String("output", "", "Output directory (required)")
	patients := fs.Int("patients", 1, "Number of patient folders")
	petFrames := fs.Int("pet-frames", 2, "Temporal frames of the PET series")
	slices := fs.Int("slices", 4, "Images per frame")
	size := fs.Int("size", 64, "Image width and height in pixels")
	seed := fs.Int64("seed", 0, "Seed for reproducible output")
	vendor := fs.String("vendor", "", "Manufacturer written into every file (default from config)")
	date := fs.String("date", "", "StudyDate as YYYYMMDD")
	imageSubdir := fs.Bool("image-subdir", false, "Place patient folders under <date>/Image/")
	edgePct := fs.Int("edge-cases", 0, "Percentage of series receiving edge cases (0-100)")
	edgeTypes := fs.String("edge-case-types", "", "Comma separated: special-chars,missing-tags,junk-files,truncated-files")
	code := 0
	if !a.parse(fs, args, &code) {
		return code
	}
	if *output == "" {
		fmt.Fprintln(a.stderr, "Error: -output is required")
		fs.Usage()
		return 1
	}

	types, err := edgecases.ParseTypes(*edgeTypes)
	if err != nil {
		return a.fail(err)
	}
	series := dicom.DefaultSeries()
	for i := range series {
		if series[i].Modality == modalities.PT {
			series[i].Frames = *petFrames
		}
	}
	if *vendor == "" {
		*vendor = a.cfg.Vendor
	}

	files, err := dicom.GenerateExport(dicom.ExportOptions{
		OutputDir:   *output,
		NumPatients: *patients,
		StudyDate:   *date,
		Series:      series,
		Slices:      *slices,
		Width:       *size,
		Height:      *size,
		Seed:        *seed,
		Vendor:      *vendor,
		ImageSubdir: *imageSubdir,
		EdgeCases:   edgecases.Config{Percentage: *edgePct, Types: types},
		Quiet:       true,
	})
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintf(a.stdout, "%s files written to %s\n", humanize.Comma(int64(len(files))), *output)
	return 0
}
