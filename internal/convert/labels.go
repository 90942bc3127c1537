package convert

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// LineError points at a malformed line in a YOLO label file.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ParseLabelFile reads YOLO txt detections, one "cls cx cy w h [conf]" line
// per box in normalized center-size form. A missing confidence means 1.0.
// Well-formed lines are returned even when others fail; the error joins one
// LineError per malformed line.
func ParseLabelFile(r io.Reader) ([]Detection, error) {
	var (
		dets []Detection
		errs []error
	)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		det, err := parseLabelLine(line)
		if err != nil {
			errs = append(errs, &LineError{Line: lineNo, Err: err})
			continue
		}
		dets = append(dets, det)
	}
	if err := scanner.Err(); err != nil {
		errs = append(errs, fmt.Errorf("read labels: %w", err))
	}
	return dets, errors.Join(errs...)
}

func parseLabelLine(line string) (Detection, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 && len(fields) != 6 {
		return Detection{}, fmt.Errorf("expected 5 or 6 fields, got %d", len(fields))
	}
	classID, err := strconv.Atoi(fields[0])
	if err != nil {
		return Detection{}, fmt.Errorf("class id %q: %w", fields[0], err)
	}
	det := Detection{ClassID: classID, Confidence: 1.0, Convention: ConventionCenterSize}
	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return Detection{}, fmt.Errorf("coordinate %q: %w", fields[i+1], err)
		}
		det.Box[i] = v
	}
	if len(fields) == 6 {
		conf, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return Detection{}, fmt.Errorf("confidence %q: %w", fields[5], err)
		}
		det.Confidence = conf
	}
	return det, nil
}

// ImageDetections groups the detections of one image from a JSON dump.
type ImageDetections struct {
	Image      string
	Width      int
	Height     int
	Detections []Detection
}

type jsonImageRecord struct {
	Image      string          `json:"image"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Convention string          `json:"convention,omitempty"`
	Detections []jsonDetection `json:"detections"`
}

type jsonDetection struct {
	ClassID    *int      `json:"class_id"`
	Confidence *float64  `json:"confidence"`
	Box        []float64 `json:"box"`
}

// ParseDetectionsJSON reads per-image detection records, either as a bare
// array or wrapped in {"images": [...]}:
//
//	[{"image": "a.jpg", "width": 640, "height": 480,
//	  "detections": [{"class_id": 0, "confidence": 0.9, "box": [x1, y1, x2, y2]}]}]
//
// Boxes are read in the given convention unless a record names its own.
func ParseDetectionsJSON(r io.Reader, convention Convention) ([]ImageDetections, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read detections: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, errors.New("empty detections document")
	}

	var records []jsonImageRecord
	if strings.HasPrefix(trimmed, "[") {
		err = json.Unmarshal([]byte(trimmed), &records)
	} else {
		var wrapped struct {
			Images []jsonImageRecord `json:"images"`
		}
		err = json.Unmarshal([]byte(trimmed), &wrapped)
		records = wrapped.Images
	}
	if err != nil {
		return nil, fmt.Errorf("decode detections: %w", err)
	}

	out := make([]ImageDetections, 0, len(records))
	for i, record := range records {
		if strings.TrimSpace(record.Image) == "" {
			return nil, fmt.Errorf("record %d: image is required", i)
		}
		recordConvention := convention
		if record.Convention != "" {
			parsed, err := ParseConvention(record.Convention)
			if err != nil {
				return nil, fmt.Errorf("record %d (%s): %w", i, record.Image, err)
			}
			recordConvention = parsed
		}
		image := ImageDetections{
			Image:      record.Image,
			Width:      record.Width,
			Height:     record.Height,
			Detections: make([]Detection, 0, len(record.Detections)),
		}
		for j, raw := range record.Detections {
			if raw.ClassID == nil {
				return nil, fmt.Errorf("record %d (%s) detection %d: class_id is required", i, record.Image, j)
			}
			if len(raw.Box) != 4 {
				return nil, fmt.Errorf("record %d (%s) detection %d: box needs 4 values, got %d", i, record.Image, j, len(raw.Box))
			}
			det := Detection{ClassID: *raw.ClassID, Confidence: 1.0, Convention: recordConvention}
			if raw.Confidence != nil {
				det.Confidence = *raw.Confidence
			}
			copy(det.Box[:], raw.Box)
			image.Detections = append(image.Detections, det)
		}
		out = append(out, image)
	}
	return out, nil
}
