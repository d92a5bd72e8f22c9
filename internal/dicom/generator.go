package dicom

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/mrsinham/dicombids/internal/dicom/edgecases"
	"github.com/mrsinham/dicombids/internal/dicom/modalities"
	"github.com/mrsinham/dicombids/internal/util"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	uidRoot           = "1.2.826.0.1.3680043.8.498"
	explicitVRLittle  = "1.2.840.10008.1.2.1"
	timestampLayout   = "20060102150405"
	injectionClock    = "080000"
	petUptakeDelay    = time.Hour
	mrFirstAcqClock   = "093000"
	mrSeriesSpacing   = 10 * time.Minute
	defaultStudyDate  = "20190531"
	defaultVendor     = "UIH"
	defaultSlices     = 4
	defaultImageSize  = 64
	junkFileName      = "export.log"
	truncatedFileSize = 140
)

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds, opts...)
}

// drawTextOnFrame16 burns a white, black-outlined label into the frame center.
func drawTextOnFrame16(nativeFrame *frame.NativeFrame[uint16], width, height int, text string, maxValue uint16) {
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, text).Ceil()
	baseHeight := 13
	if baseWidth == 0 {
		return
	}

	textImg := image.NewRGBA(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.RGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	// Text spans 60% of the frame width, never below native size.
	scale := math.Max(1, float64(width)*0.6/float64(baseWidth))
	scaledWidth := int(float64(baseWidth) * scale)
	scaledHeight := int(float64(baseHeight) * scale)
	scaled := image.NewRGBA(image.Rect(0, 0, scaledWidth, scaledHeight))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), textImg, textImg.Bounds(), draw.Over, nil)

	x0 := (width - scaledWidth) / 2
	y0 := (height - scaledHeight) / 2
	set := func(x, y int, v uint16) {
		if x >= 0 && x < width && y >= 0 && y < height {
			nativeFrame.RawData[y*width+x] = v
		}
	}

	outline := max(1, scaledHeight/10)
	for sy := 0; sy < scaledHeight; sy++ {
		for sx := 0; sx < scaledWidth; sx++ {
			if _, _, _, a := scaled.At(sx, sy).RGBA(); a == 0 {
				continue
			}
			for dy := -outline; dy <= outline; dy++ {
				for dx := -outline; dx <= outline; dx++ {
					set(x0+sx+dx, y0+sy+dy, 0)
				}
			}
		}
	}
	for sy := 0; sy < scaledHeight; sy++ {
		for sx := 0; sx < scaledWidth; sx++ {
			r, g, b, a := scaled.At(sx, sy).RGBA()
			if a == 0 {
				continue
			}
			brightness := float64(r+g+b) / 3 / 0xffff
			set(x0+sx, y0+sy, uint16(brightness*float64(maxValue)))
		}
	}
}

// SeriesSpec describes one series of a synthetic export.
type SeriesSpec struct {
	Description string
	Modality    modalities.Modality
	Frames      int // temporal frames, PET only; 0 means 1
}

// DefaultSeries is the protocol written when ExportOptions.Series is empty:
// an anatomical scan, a resting-state BOLD run and a two-frame PET.
func DefaultSeries() []SeriesSpec {
	return []SeriesSpec{
		{Description: "t1_gre_fsp3d_sag", Modality: modalities.MR},
		{Description: "epi_ra_bold", Modality: modalities.MR},
		{Description: "PET_Brain_Dynamic", Modality: modalities.PT, Frames: 2},
	}
}

// ExportOptions controls GenerateExport.
type ExportOptions struct {
	OutputDir   string
	NumPatients int
	StudyDate   string // YYYYMMDD
	Series      []SeriesSpec
	Slices      int // images per frame
	Width       int
	Height      int
	Seed        int64
	Vendor      string // Manufacturer written into every file
	Workers     int    // 0 = one per CPU

	// ImageSubdir places patient folders under <date>/Image/ as some
	// console versions do.
	ImageSubdir bool

	EdgeCases edgecases.Config

	Quiet            bool
	ProgressCallback func(current, total int)
}

// GeneratedFile describes one file written by GenerateExport.
type GeneratedFile struct {
	Path                string
	PatientName         string
	PatientID           string
	PatientDir          string
	SeriesDir           string
	SeriesDescription   string
	SeriesNumber        int
	InstanceNumber      int
	AcquisitionDateTime string
	// Valid is false for junk and truncated files.
	Valid bool
}

type patientInfo struct {
	Name string
	ID   string
	Sex  string
	Dir  string
}

// imageTask contains all data needed to write a single image.
type imageTask struct {
	index       int
	width       int
	height      int
	filePath    string
	textOverlay string
	pixelSeed   uint64
	intensity   float64 // relative activity, scales the pixel pattern
	metadata    []*dicom.Element
	pixelConfig modalities.PixelConfig
	file        GeneratedFile
}

func generateImageFromTask(task imageTask) error {
	width, height := task.width, task.height
	cfg := task.pixelConfig
	rng := randv2.New(randv2.NewPCG(task.pixelSeed, task.pixelSeed))

	nativeFrame := frame.NewNativeFrame[uint16](16, height, width, width*height, 1)
	centerX, centerY := float64(width)/2, float64(height)/2
	maxDist := math.Hypot(centerX, centerY)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dist := math.Hypot(float64(x)-centerX, float64(y)-centerY) / maxDist
			v := (float64(cfg.BaseValue)*(1-dist) + (rng.Float64()-0.5)*float64(cfg.BaseValue)*0.2) * task.intensity
			nativeFrame.RawData[y*width+x] = uint16(math.Max(0, math.Min(float64(cfg.MaxValue), v)))
		}
	}
	drawTextOnFrame16(nativeFrame, width, height, task.textOverlay, uint16(cfg.MaxValue))

	pixelData := dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nativeFrame}},
	}
	elements := make([]*dicom.Element, len(task.metadata), len(task.metadata)+1)
	copy(elements, task.metadata)
	elements = append(elements, mustNewElement(tag.PixelData, pixelData))

	return writeDatasetToFile(task.filePath, dicom.Dataset{Elements: elements})
}

// GenerateExport writes a synthetic scanner export laid out as
//
//	<OutputDir>/<StudyDate>/[Image/]<NAME>_<PatientID>_<n>/<description>_<number>/<%08d>.dcm
//
// PET series carry the radiopharmaceutical sequence, patient weight and one
// acquisition date-time per frame. Output is deterministic for a given Seed.
func GenerateExport(opts ExportOptions) ([]GeneratedFile, error) {
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if opts.NumPatients <= 0 {
		return nil, fmt.Errorf("number of patients must be > 0, got %d", opts.NumPatients)
	}
	if err := opts.EdgeCases.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Series) == 0 {
		opts.Series = DefaultSeries()
	}
	for _, s := range opts.Series {
		if !modalities.IsValid(string(s.Modality)) {
			return nil, fmt.Errorf("series %q: unsupported modality %q", s.Description, s.Modality)
		}
	}
	if opts.StudyDate == "" {
		opts.StudyDate = defaultStudyDate
	}
	if _, err := time.Parse("20060102", opts.StudyDate); err != nil {
		return nil, fmt.Errorf("invalid study date %q: %w", opts.StudyDate, err)
	}
	if opts.Vendor == "" {
		opts.Vendor = defaultVendor
	}
	if opts.Slices <= 0 {
		opts.Slices = defaultSlices
	}
	if opts.Width <= 0 {
		opts.Width = defaultImageSize
	}
	if opts.Height <= 0 {
		opts.Height = defaultImageSize
	}

	seed := uint64(opts.Seed)
	rng := randv2.New(randv2.NewPCG(seed, seed))
	edges := edgecases.NewApplicator(opts.EdgeCases, rng)

	dateRoot := filepath.Join(opts.OutputDir, opts.StudyDate)
	if opts.ImageSubdir {
		dateRoot = filepath.Join(dateRoot, "Image")
	}

	// Phase 1: build every task sequentially so output is deterministic.
	var tasks []imageTask
	var extras []GeneratedFile
	for p := 0; p < opts.NumPatients; p++ {
		sex := "F"
		if rng.IntN(2) == 0 {
			sex = "M"
		}
		patient := patientInfo{Sex: sex, Name: util.GeneratePatientName(sex, rng), ID: util.GeneratePatientID(rng)}
		studyUID := uid(seed, "study", p)

		for s, spec := range opts.Series {
			seriesNumber := s + 1
			gen := modalities.GetGenerator(spec.Modality)
			scanners := gen.Scanners()
			scanner := scanners[rng.IntN(len(scanners))]
			scanner.Manufacturer = opts.Vendor
			params := gen.GenerateSeriesParams(scanner, rng)

			description := spec.Description
			patientName := patient.Name
			var omit []string
			applyEdges := edges.ShouldApply()
			if applyEdges {
				patientName = edges.ApplyToPatientName(patient.Sex, patientName)
				description = edges.ApplyToSeriesDescription(description)
				omit = edges.GetTagsToOmit()
			}
			// The folder name is fixed at the first series, like a console export.
			if patient.Dir == "" {
				patient.Dir = filepath.Join(dateRoot, fmt.Sprintf("%s_%s_%d", util.ExportName(patientName), patient.ID, p+1))
			}
			seriesDir := filepath.Join(patient.Dir, fmt.Sprintf("%s_%d", util.SafeName(description), seriesNumber))
			if err := os.MkdirAll(seriesDir, 0o755); err != nil {
				return nil, fmt.Errorf("create series directory: %w", err)
			}

			frames := max(1, spec.Frames)
			if spec.Modality != modalities.PT {
				frames = 1
			}
			injection, _ := time.Parse(timestampLayout, opts.StudyDate+injectionClock)
			if spec.Modality == modalities.PT {
				params.Dose.StartDateTime = injection.Format(timestampLayout) + ".000000"
			}
			seriesUID := uid(seed, "series", p, s)
			skip := omittedTags(omit)

			instance := 0
			for f := 0; f < frames; f++ {
				acq := acquisitionTime(opts.StudyDate, spec.Modality, s, f, params.FrameDuration)
				acqDT := acq.Format(timestampLayout) + ".000000"
				intensity := 1.0
				if spec.Modality == modalities.PT {
					elapsed := acq.Sub(injection).Seconds()
					intensity = math.Exp(-math.Ln2 / params.Dose.HalfLife * elapsed)
				}
				for sl := 0; sl < opts.Slices; sl++ {
					instance++
					sopUID := uid(seed, "instance", p, s, instance)
					metadata := []*dicom.Element{
						mustNewElement(tag.MediaStorageSOPClassUID, []string{gen.SOPClassUID()}),
						mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopUID}),
						mustNewElement(tag.TransferSyntaxUID, []string{explicitVRLittle}),
						mustNewElement(tag.ImplementationClassUID, []string{uidRoot}),
						mustNewElement(tag.ImageType, []string{"ORIGINAL", "PRIMARY", "AXIAL"}),
						mustNewElement(tag.SOPClassUID, []string{gen.SOPClassUID()}),
						mustNewElement(tag.SOPInstanceUID, []string{sopUID}),
						mustNewElement(tag.StudyDate, []string{opts.StudyDate}),
						mustNewElement(tag.SeriesDate, []string{opts.StudyDate}),
						mustNewElement(tag.AcquisitionDate, []string{acq.Format("20060102")}),
						mustNewElement(tag.AcquisitionDateTime, []string{acqDT}),
						mustNewElement(tag.StudyTime, []string{"080000"}),
						mustNewElement(tag.AcquisitionTime, []string{acq.Format("150405") + ".00"}),
						mustNewElement(tag.AccessionNumber, []string{fmt.Sprintf("ACC%06d", p+1)}),
						mustNewElement(tag.Modality, []string{string(spec.Modality)}),
						mustNewElement(tag.Manufacturer, []string{scanner.Manufacturer}),
						mustNewElement(tag.InstitutionName, []string{"Synthetic Imaging Center"}),
						mustNewElement(tag.ReferringPhysicianName, []string{"REFERRER^A"}),
						mustNewElement(tag.StudyDescription, []string{"Brain PET/MR"}),
						mustNewElement(tag.SeriesDescription, []string{description}),
						mustNewElement(tag.OperatorsName, []string{"TECH^A"}),
						mustNewElement(tag.ManufacturerModelName, []string{scanner.Model}),
						mustNewElement(tag.PatientName, []string{patientName}),
						mustNewElement(tag.PatientID, []string{patient.ID}),
						mustNewElement(tag.PatientSex, []string{patient.Sex}),
						mustNewElement(tag.BodyPartExamined, []string{"BRAIN"}),
						mustNewElement(tag.SliceThickness, []string{fmt.Sprintf("%.3f", params.SliceThickness)}),
						mustNewElement(tag.ProtocolName, []string{spec.Description}),
						mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
						mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
						mustNewElement(tag.SeriesNumber, []string{fmt.Sprintf("%d", seriesNumber)}),
						mustNewElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", instance)}),
						mustNewElement(tag.ImagePositionPatient, []string{"-100", "-100", fmt.Sprintf("%.3f", float64(sl)*params.SliceThickness)}),
						mustNewElement(tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
						mustNewElement(tag.SamplesPerPixel, []int{1}),
						mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
						mustNewElement(tag.Rows, []int{opts.Height}),
						mustNewElement(tag.Columns, []int{opts.Width}),
						mustNewElement(tag.PixelSpacing, []string{fmt.Sprintf("%.3f", params.PixelSpacing), fmt.Sprintf("%.3f", params.PixelSpacing)}),
						mustNewElement(tag.BitsAllocated, []int{int(gen.PixelConfig().BitsAllocated)}),
						mustNewElement(tag.BitsStored, []int{int(gen.PixelConfig().BitsStored)}),
						mustNewElement(tag.HighBit, []int{int(gen.PixelConfig().HighBit)}),
						mustNewElement(tag.PixelRepresentation, []int{0}),
					}
					ds := &dicom.Dataset{Elements: metadata}
					if err := gen.AppendModalityElements(ds, params); err != nil {
						return nil, fmt.Errorf("add modality elements for patient %d, series %d: %w", p+1, seriesNumber, err)
					}
					metadata = dropTags(ds.Elements, skip)
					sort.Slice(metadata, func(i, j int) bool {
						if metadata[i].Tag.Group != metadata[j].Tag.Group {
							return metadata[i].Tag.Group < metadata[j].Tag.Group
						}
						return metadata[i].Tag.Element < metadata[j].Tag.Element
					})

					pixelSeedHash := fnv.New64a()
					_, _ = fmt.Fprintf(pixelSeedHash, "%d_pixel_%d_%d_%d", seed, p, s, instance)

					filePath := filepath.Join(seriesDir, fmt.Sprintf("%08d.dcm", instance))
					tasks = append(tasks, imageTask{
						index:       len(tasks),
						width:       opts.Width,
						height:      opts.Height,
						filePath:    filePath,
						textOverlay: fmt.Sprintf("F%d S%d", f+1, sl+1),
						pixelSeed:   pixelSeedHash.Sum64(),
						intensity:   intensity,
						metadata:    metadata,
						pixelConfig: gen.PixelConfig(),
						file: GeneratedFile{
							Path:                filePath,
							PatientName:         patientName,
							PatientID:           patient.ID,
							PatientDir:          patient.Dir,
							SeriesDir:           seriesDir,
							SeriesDescription:   description,
							SeriesNumber:        seriesNumber,
							InstanceNumber:      instance,
							AcquisitionDateTime: acqDT,
							Valid:               true,
						},
					})
				}
			}

			if applyEdges && edges.WantsJunkFile() {
				junk := filepath.Join(seriesDir, junkFileName)
				if err := os.WriteFile(junk, []byte("export finished\n"), 0o644); err != nil {
					return nil, fmt.Errorf("write junk file: %w", err)
				}
				extras = append(extras, GeneratedFile{Path: junk, PatientID: patient.ID, PatientDir: patient.Dir, SeriesDir: seriesDir})
			}
			if applyEdges && edges.WantsTruncatedFile() {
				truncated := filepath.Join(seriesDir, fmt.Sprintf("%08d.dcm", instance+1))
				if err := writeTruncated(truncated); err != nil {
					return nil, fmt.Errorf("write truncated file: %w", err)
				}
				extras = append(extras, GeneratedFile{Path: truncated, PatientID: patient.ID, PatientDir: patient.Dir, SeriesDir: seriesDir})
			}
		}

		if !opts.Quiet {
			fmt.Printf("  Patient %d: %s (%s)\n", p+1, patient.Name, patient.ID)
		}
	}

	// Phase 2: write images in parallel
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	numWorkers = max(1, min(numWorkers, len(tasks)))

	taskChan := make(chan imageTask, len(tasks))
	resultChan := make(chan struct {
		index int
		err   error
	}, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				resultChan <- struct {
					index int
					err   error
				}{task.index, generateImageFromTask(task)}
			}
		}()
	}
	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	var firstErr error
	for result := range resultChan {
		if result.err != nil && firstErr == nil {
			firstErr = fmt.Errorf("generate image %d: %w", result.index, result.err)
		}
		completed++
		if opts.ProgressCallback != nil {
			opts.ProgressCallback(completed, len(tasks))
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	files := make([]GeneratedFile, 0, len(tasks)+len(extras))
	for _, task := range tasks {
		files = append(files, task.file)
	}
	files = append(files, extras...)

	if !opts.Quiet {
		fmt.Printf("\n✓ %d DICOM files created in: %s/\n", len(tasks), opts.OutputDir)
	}
	return files, nil
}

// acquisitionTime places PET frames back to back after the uptake delay and
// spaces MR series ten minutes apart.
func acquisitionTime(studyDate string, m modalities.Modality, series, frame int, frameDuration float64) time.Time {
	if m == modalities.PT {
		start, _ := time.Parse(timestampLayout, studyDate+injectionClock)
		return start.Add(petUptakeDelay + time.Duration(float64(frame)*frameDuration)*time.Second)
	}
	start, _ := time.Parse(timestampLayout, studyDate+mrFirstAcqClock)
	return start.Add(time.Duration(series) * mrSeriesSpacing)
}

func omittedTags(names []string) map[tag.Tag]bool {
	skip := make(map[tag.Tag]bool, len(names))
	for _, name := range names {
		if info, err := tag.FindByKeyword(name); err == nil {
			skip[info.Tag] = true
		}
	}
	return skip
}

func dropTags(elems []*dicom.Element, skip map[tag.Tag]bool) []*dicom.Element {
	if len(skip) == 0 {
		return elems
	}
	kept := elems[:0]
	for _, e := range elems {
		if !skip[e.Tag] {
			kept = append(kept, e)
		}
	}
	return kept
}

// writeTruncated writes a preamble and magic word followed by a cut-off file
// meta element, so IsDICOM accepts the file but parsing fails.
func writeTruncated(path string) error {
	b := make([]byte, truncatedFileSize)
	copy(b[preambleSize:], magicWord)
	copy(b[preambleSize+len(magicWord):], []byte{0x02, 0x00, 0x00, 0x00, 'U', 'L', 0x04})
	return os.WriteFile(path, b, 0o644)
}

func uid(seed uint64, parts ...any) string {
	h := fnv.New64a()
	_, _ = fmt.Fprint(h, seed)
	for _, p := range parts {
		_, _ = fmt.Fprintf(h, ".%v", p)
	}
	return fmt.Sprintf("%s.%d", uidRoot, h.Sum64())
}

func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}
