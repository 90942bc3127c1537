package convert

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"labelloop/internal/services"
)

var testClasses = ClassMapFromNames([]string{"Person", "Car", "Bicycle"})

func assertRegion(t *testing.T, got Region, x, y, w, h float64) {
	t.Helper()
	const eps = 1e-9
	if math.Abs(got.X-x) > eps || math.Abs(got.Y-y) > eps || math.Abs(got.Width-w) > eps || math.Abs(got.Height-h) > eps {
		t.Fatalf("expected region (%v, %v, %v, %v), got (%v, %v, %v, %v)", x, y, w, h, got.X, got.Y, got.Width, got.Height)
	}
}

func TestConvertCenterSize(t *testing.T) {
	dets := []Detection{{ClassID: 1, Confidence: 0.87, Box: [4]float64{0.5, 0.5, 0.2, 0.4}}}

	result, err := Convert(dets, 1000, 1000, testClasses, Options{Convention: ConventionCenterSize})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if len(result.Regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(result.Regions))
	}
	region := result.Regions[0]
	assertRegion(t, region, 40, 30, 20, 40)
	if region.Label != "Car" {
		t.Fatalf("expected label Car, got %q", region.Label)
	}
	if region.Score != 0.87 {
		t.Fatalf("expected confidence to pass through, got %v", region.Score)
	}
}

func TestConvertCornerMatchesEquivalentCenterSize(t *testing.T) {
	cases := []struct {
		name   string
		corner [4]float64
		center [4]float64
		want   [4]float64
	}{
		{
			name:   "offset box",
			corner: [4]float64{100, 100, 300, 400},
			center: [4]float64{0.2, 0.25, 0.2, 0.3},
			want:   [4]float64{10, 10, 20, 30},
		},
		{
			name:   "centered box",
			corner: [4]float64{400, 300, 600, 700},
			center: [4]float64{0.5, 0.5, 0.2, 0.4},
			want:   [4]float64{40, 30, 20, 40},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dets := []Detection{
				{ClassID: 0, Confidence: 0.5, Box: tc.corner, Convention: ConventionCorner},
				{ClassID: 0, Confidence: 0.5, Box: tc.center, Convention: ConventionCenterSize},
			}
			result, err := Convert(dets, 1000, 1000, testClasses, Options{})
			if err != nil {
				t.Fatalf("Convert returned error: %v", err)
			}
			if len(result.Regions) != 2 {
				t.Fatalf("expected 2 regions, got %d", len(result.Regions))
			}
			for _, region := range result.Regions {
				assertRegion(t, region, tc.want[0], tc.want[1], tc.want[2], tc.want[3])
			}
		})
	}
}

func TestConvertCornerUsesImageDimensions(t *testing.T) {
	dets := []Detection{{ClassID: 2, Confidence: 0.3, Box: [4]float64{64, 48, 320, 240}}}

	result, err := Convert(dets, 640, 480, testClasses, Options{Convention: ConventionCorner})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	assertRegion(t, result.Regions[0], 10, 10, 40, 40)
}

func TestConvertUnknownClassSkippedByDefault(t *testing.T) {
	dets := []Detection{
		{ClassID: 0, Confidence: 0.9, Box: [4]float64{0.5, 0.5, 0.2, 0.2}},
		{ClassID: 17, Confidence: 0.8, Box: [4]float64{0.5, 0.5, 0.2, 0.2}},
		{ClassID: 1, Confidence: 0.7, Box: [4]float64{0.3, 0.3, 0.2, 0.2}},
	}

	result, err := Convert(dets, 100, 100, testClasses, Options{})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if len(result.Regions) != 2 {
		t.Fatalf("expected 2 regions, got %d", len(result.Regions))
	}
	if result.Regions[0].Label != "Person" || result.Regions[1].Label != "Car" {
		t.Fatalf("unexpected order %q, %q", result.Regions[0].Label, result.Regions[1].Label)
	}
	if len(result.Failures) != 1 || result.Failures[0].Index != 1 {
		t.Fatalf("expected failure at index 1, got %+v", result.Failures)
	}
	var unknown *UnknownClassError
	if !errors.As(result.Failures[0].Err, &unknown) || unknown.ClassID != 17 {
		t.Fatalf("expected UnknownClassError for id 17, got %v", result.Failures[0].Err)
	}
}

func TestConvertUnknownClassAbortBatch(t *testing.T) {
	dets := []Detection{
		{ClassID: 0, Confidence: 0.9, Box: [4]float64{0.5, 0.5, 0.2, 0.2}},
		{ClassID: 9, Confidence: 0.8, Box: [4]float64{0.5, 0.5, 0.2, 0.2}},
	}

	result, err := Convert(dets, 100, 100, testClasses, Options{Policy: PolicyAbortBatch})
	if err == nil {
		t.Fatal("expected error")
	}
	var unknown *UnknownClassError
	if !errors.As(err, &unknown) || unknown.Index != 1 {
		t.Fatalf("expected UnknownClassError at index 1, got %v", err)
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation marker, got %v", err)
	}
	if len(result.Regions) != 0 {
		t.Fatalf("expected no regions on abort, got %d", len(result.Regions))
	}
}

func TestConvertRejectsInvalidDimensions(t *testing.T) {
	dets := []Detection{{ClassID: 0, Box: [4]float64{0.5, 0.5, 0.1, 0.1}}}
	for _, dims := range [][2]int{{0, 100}, {100, 0}, {-1, 5}} {
		if _, err := Convert(dets, dims[0], dims[1], testClasses, Options{}); !errors.Is(err, ErrInvalidDimensions) {
			t.Fatalf("expected ErrInvalidDimensions for %v, got %v", dims, err)
		}
	}
}

func TestConvertInvalidBoxes(t *testing.T) {
	cases := []struct {
		name string
		det  Detection
		opts Options
	}{
		{"negative center width", Detection{Box: [4]float64{0.5, 0.5, -0.1, 0.2}}, Options{}},
		{"inverted corners", Detection{Box: [4]float64{300, 100, 100, 400}, Convention: ConventionCorner}, Options{}},
		{"nan coordinate", Detection{Box: [4]float64{math.NaN(), 0.5, 0.1, 0.1}}, Options{Clamp: true}},
		{"infinite confidence", Detection{Confidence: math.Inf(1), Box: [4]float64{0.5, 0.5, 0.1, 0.1}}, Options{}},
		{"out of bounds without clamp", Detection{Box: [4]float64{0.95, 0.5, 0.2, 0.2}}, Options{}},
		{"entirely outside with clamp", Detection{Box: [4]float64{1.5, 0.5, 0.2, 0.2}}, Options{Clamp: true}},
		{"negative width is never clamped", Detection{Box: [4]float64{0.5, 0.5, -0.2, 0.2}}, Options{Clamp: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Convert([]Detection{tc.det}, 100, 100, testClasses, tc.opts)
			if err != nil {
				t.Fatalf("Convert returned error: %v", err)
			}
			if len(result.Regions) != 0 || len(result.Failures) != 1 {
				t.Fatalf("expected a single failure, got %+v", result)
			}
			var invalid *InvalidBoxError
			if !errors.As(result.Failures[0].Err, &invalid) {
				t.Fatalf("expected InvalidBoxError, got %v", result.Failures[0].Err)
			}
		})
	}
}

func TestConvertInvalidBoxAbortsBatch(t *testing.T) {
	dets := []Detection{{ClassID: 0, Box: [4]float64{0.5, 0.5, -0.1, 0.2}}}
	_, err := Convert(dets, 100, 100, testClasses, Options{Policy: PolicyAbortBatch})
	var invalid *InvalidBoxError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidBoxError, got %v", err)
	}
}

func TestConvertClampTrimsOverhang(t *testing.T) {
	dets := []Detection{
		{ClassID: 0, Confidence: 0.6, Box: [4]float64{0.95, 0.05, 0.2, 0.2}},
		{ClassID: 1, Confidence: 0.4, Box: [4]float64{0.5, 0.5, 0.2, 0.2}},
	}

	result, err := Convert(dets, 100, 100, testClasses, Options{Clamp: true})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if result.Clamped != 1 || len(result.Failures) != 0 {
		t.Fatalf("expected one clamped region, got %+v", result)
	}
	assertRegion(t, result.Regions[0], 85, 0, 15, 15)
	assertRegion(t, result.Regions[1], 40, 40, 20, 20)
}

func TestConvertToleratesEdgeNoise(t *testing.T) {
	// Fractions converted to percent can land a hair past the image edge.
	dets := []Detection{{ClassID: 0, Box: [4]float64{0.55, 0.5, 0.9, 1.0}}}

	result, err := Convert(dets, 100, 100, testClasses, Options{})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	if len(result.Regions) != 1 || result.Clamped != 0 {
		t.Fatalf("expected region within tolerance, got %+v", result)
	}
}

func TestConvertKeepsInputOrder(t *testing.T) {
	dets := []Detection{
		{ClassID: 0, Confidence: 0.1, Box: [4]float64{0.9, 0.9, 0.1, 0.1}},
		{ClassID: 1, Confidence: 0.9, Box: [4]float64{0.1, 0.1, 0.1, 0.1}},
		{ClassID: 2, Confidence: 0.5, Box: [4]float64{0.5, 0.5, 0.1, 0.1}},
	}

	result, err := Convert(dets, 10, 10, testClasses, Options{})
	if err != nil {
		t.Fatalf("Convert returned error: %v", err)
	}
	for i, region := range result.Regions {
		if region.ClassID != i || region.ID != regionID(i) {
			t.Fatalf("region %d out of order: %+v", i, region)
		}
	}
}

func TestConvertIsIdempotent(t *testing.T) {
	dets := []Detection{
		{ClassID: 0, Confidence: 0.91, Box: [4]float64{0.31, 0.42, 0.13, 0.27}},
		{ClassID: 5, Confidence: 0.2, Box: [4]float64{0.5, 0.5, 0.1, 0.1}},
		{ClassID: 2, Confidence: 0.33, Box: [4]float64{12, 7, 130, 99}, Convention: ConventionCorner},
	}

	encode := func() []byte {
		result, err := Convert(dets, 640, 480, testClasses, Options{})
		if err != nil {
			t.Fatalf("Convert returned error: %v", err)
		}
		data, err := json.Marshal(BuildPrediction(7, result.Regions, 640, 480, PredictionMeta{ModelVersion: "yolo"}))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return data
	}
	first, second := encode(), encode()
	if string(first) != string(second) {
		t.Fatalf("expected byte-identical output\nfirst:  %s\nsecond: %s", first, second)
	}
}

func TestParseConventionAndPolicy(t *testing.T) {
	if got, err := ParseConvention(" Corner "); err != nil || got != ConventionCorner {
		t.Fatalf("ParseConvention = %q, %v", got, err)
	}
	if _, err := ParseConvention("xywh"); err == nil {
		t.Fatal("expected error for unknown convention")
	}
	if got, err := ParsePolicy(""); err != nil || got != PolicySkipAndWarn {
		t.Fatalf("ParsePolicy(\"\") = %q, %v", got, err)
	}
	if got, err := ParsePolicy("abort-batch"); err != nil || got != PolicyAbortBatch {
		t.Fatalf("ParsePolicy = %q, %v", got, err)
	}
	if _, err := ParsePolicy("ignore"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
