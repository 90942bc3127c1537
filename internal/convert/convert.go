package convert

import (
	"fmt"
	"math"
	"strings"
)

// Convention names the coordinate space a detection box is expressed in.
type Convention string

const (
	// ConventionCenterSize is normalized (cx, cy, w, h), each in [0,1].
	ConventionCenterSize Convention = "center-size"
	// ConventionCorner is absolute pixel corners (x1, y1, x2, y2).
	ConventionCorner Convention = "corner"
)

// ParseConvention validates a configured convention name.
func ParseConvention(value string) (Convention, error) {
	switch Convention(strings.ToLower(strings.TrimSpace(value))) {
	case ConventionCenterSize:
		return ConventionCenterSize, nil
	case ConventionCorner:
		return ConventionCorner, nil
	default:
		return "", fmt.Errorf("unknown coordinate convention %q (want %q or %q)", value, ConventionCenterSize, ConventionCorner)
	}
}

// Policy decides what happens to a batch when one detection cannot be converted.
type Policy string

const (
	// PolicySkipAndWarn omits the failing detection and keeps converting.
	PolicySkipAndWarn Policy = "skip-and-warn"
	// PolicyAbortBatch discards the whole batch on the first failure.
	PolicyAbortBatch Policy = "abort-batch"
)

// ParsePolicy validates a configured unknown-class policy name.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(value))) {
	case PolicySkipAndWarn, "":
		return PolicySkipAndWarn, nil
	case PolicyAbortBatch:
		return PolicyAbortBatch, nil
	default:
		return "", fmt.Errorf("unknown class policy %q (want %q or %q)", value, PolicySkipAndWarn, PolicyAbortBatch)
	}
}

// tolerance absorbs floating point noise at the image edges.
const tolerance = 1e-6

// Detection is one detector output for a single image.
type Detection struct {
	ClassID    int
	Confidence float64
	Box        [4]float64
	// Convention overrides Options.Convention when set.
	Convention Convention
}

// Region is a detection expressed in Label Studio's percentage coordinates.
type Region struct {
	ID      string
	ClassID int
	Label   string
	X       float64
	Y       float64
	Width   float64
	Height  float64
	Score   float64
}

// Options controls Convert.
type Options struct {
	// Convention applies to detections that do not carry their own. Defaults
	// to center-size.
	Convention Convention
	// Policy defaults to skip-and-warn.
	Policy Policy
	// Clamp trims boxes that stick out of the image instead of rejecting them.
	Clamp bool
}

// Result is the outcome of converting one image's detections.
type Result struct {
	Regions  []Region
	Failures []Failure
	// Clamped counts regions that were trimmed to the image bounds.
	Clamped int
}

// Convert maps detections for an image of width x height pixels onto
// annotation regions. Regions keep the input order; failed detections are
// listed in Result.Failures under skip-and-warn, or returned as the error
// under abort-batch.
func Convert(dets []Detection, width, height int, classes ClassMap, opts Options) (Result, error) {
	if width <= 0 || height <= 0 {
		return Result{}, fmt.Errorf("%w: got %dx%d", ErrInvalidDimensions, width, height)
	}
	if opts.Convention == "" {
		opts.Convention = ConventionCenterSize
	}
	if opts.Policy == "" {
		opts.Policy = PolicySkipAndWarn
	}

	result := Result{Regions: make([]Region, 0, len(dets))}
	for i, det := range dets {
		region, clamped, err := convertOne(i, det, width, height, classes, opts)
		if err != nil {
			if opts.Policy == PolicyAbortBatch {
				return Result{}, err
			}
			result.Failures = append(result.Failures, Failure{Index: i, Err: err})
			continue
		}
		if clamped {
			result.Clamped++
		}
		result.Regions = append(result.Regions, region)
	}
	return result, nil
}

func convertOne(index int, det Detection, width, height int, classes ClassMap, opts Options) (Region, bool, error) {
	label, ok := classes.Name(det.ClassID)
	if !ok {
		return Region{}, false, &UnknownClassError{Index: index, ClassID: det.ClassID}
	}
	invalid := func(reason string) error {
		return &InvalidBoxError{Index: index, Box: det.Box, Reason: reason}
	}
	for _, v := range det.Box {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Region{}, false, invalid("non-finite coordinate")
		}
	}
	if math.IsNaN(det.Confidence) || math.IsInf(det.Confidence, 0) {
		return Region{}, false, invalid("non-finite confidence")
	}

	convention := det.Convention
	if convention == "" {
		convention = opts.Convention
	}

	var x, y, w, h float64
	switch convention {
	case ConventionCenterSize:
		cx, cy, bw, bh := det.Box[0], det.Box[1], det.Box[2], det.Box[3]
		if bw < 0 || bh < 0 {
			return Region{}, false, invalid("negative width or height")
		}
		x = (cx - bw/2) * 100
		y = (cy - bh/2) * 100
		w = bw * 100
		h = bh * 100
	case ConventionCorner:
		x1, y1, x2, y2 := det.Box[0], det.Box[1], det.Box[2], det.Box[3]
		if x2 < x1 || y2 < y1 {
			return Region{}, false, invalid("negative width or height")
		}
		fw, fh := float64(width), float64(height)
		x = x1 / fw * 100
		y = y1 / fh * 100
		w = (x2 - x1) / fw * 100
		h = (y2 - y1) / fh * 100
	default:
		return Region{}, false, invalid(fmt.Sprintf("unknown coordinate convention %q", convention))
	}

	region := Region{
		ID:      regionID(index),
		ClassID: det.ClassID,
		Label:   label,
		X:       x,
		Y:       y,
		Width:   w,
		Height:  h,
		Score:   det.Confidence,
	}
	if inBounds(region) {
		return region, false, nil
	}
	if !opts.Clamp {
		return Region{}, false, invalid("region outside image bounds")
	}
	clamped, ok := clampRegion(region)
	if !ok {
		return Region{}, false, invalid("region entirely outside image")
	}
	return clamped, true, nil
}

func inBounds(r Region) bool {
	return r.X >= -tolerance &&
		r.Y >= -tolerance &&
		r.X+r.Width <= 100+tolerance &&
		r.Y+r.Height <= 100+tolerance
}

// clampRegion trims r to [0,100] on both axes. It never grows a box.
func clampRegion(r Region) (Region, bool) {
	left := math.Max(r.X, 0)
	top := math.Max(r.Y, 0)
	right := math.Min(r.X+r.Width, 100)
	bottom := math.Min(r.Y+r.Height, 100)
	if right <= left || bottom <= top {
		return Region{}, false
	}
	r.X = left
	r.Y = top
	r.Width = right - left
	r.Height = bottom - top
	return r, true
}

func regionID(index int) string {
	return fmt.Sprintf("det%d", index)
}
