package yolo

import (
	"regexp"
	"strconv"
	"strings"
)

// Progress is one parsed progress line.
type Progress struct {
	Phase   string
	Current int
	Total   int
	Percent float64
	Message string
}

var (
	// "      3/30      2.1G      1.234      0.987 ..." epoch rows of the
	// training table.
	epochPattern = regexp.MustCompile(`^\s*(\d+)/(\d+)\s+\S`)
	// "image 3/20 /data/images/a.jpg: 640x480 2 persons, 12.3ms"
	imagePattern = regexp.MustCompile(`^image (\d+)/(\d+) (.+?): `)
)

func parseTrainProgress(line string) (Progress, bool) {
	match := epochPattern.FindStringSubmatch(line)
	if match == nil {
		return Progress{}, false
	}
	current, total, ok := fraction(match[1], match[2])
	if !ok {
		return Progress{}, false
	}
	return Progress{
		Phase:   "epoch",
		Current: current,
		Total:   total,
		Percent: float64(current) / float64(total) * 100,
		Message: strings.TrimSpace(line),
	}, true
}

func parsePredictProgress(line string) (Progress, bool) {
	match := imagePattern.FindStringSubmatch(line)
	if match == nil {
		return Progress{}, false
	}
	current, total, ok := fraction(match[1], match[2])
	if !ok {
		return Progress{}, false
	}
	return Progress{
		Phase:   "image",
		Current: current,
		Total:   total,
		Percent: float64(current) / float64(total) * 100,
		Message: match[3],
	}, true
}

func fraction(a, b string) (int, int, bool) {
	current, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, false
	}
	total, err := strconv.Atoi(b)
	if err != nil || total <= 0 || current > total {
		return 0, 0, false
	}
	return current, total, true
}
