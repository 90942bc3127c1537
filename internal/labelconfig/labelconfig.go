// Package labelconfig renders the Label Studio labeling interface for
// bounding-box projects.
package labelconfig

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Palette is the background colour cycle assigned to labels in order.
var Palette = []string{
	"red", "blue", "green", "yellow", "purple", "orange", "pink", "cyan",
	"magenta", "lime", "teal", "indigo", "violet", "brown", "maroon", "gold",
	"silver", "navy", "coral", "salmon", "turquoise", "olive", "chocolate",
	"lavender", "khaki", "plum", "orchid", "skyblue", "crimson", "darkgreen",
}

// Options names the controls of the generated view.
type Options struct {
	FromName       string
	ToName         string
	ScoreThreshold float64
}

// Color returns the palette colour of the label at index.
func Color(index int) string {
	if index < 0 {
		index = -index
	}
	return Palette[index%len(Palette)]
}

// Build renders a <View> with one image and a RectangleLabels control holding
// one <Label> per class name.
func Build(names []string, opts Options) (string, error) {
	if len(names) == 0 {
		return "", errors.New("at least one label is required")
	}
	if opts.FromName == "" {
		opts.FromName = "label"
	}
	if opts.ToName == "" {
		opts.ToName = "image"
	}
	if opts.ScoreThreshold < 0 || opts.ScoreThreshold > 1 {
		return "", fmt.Errorf("score threshold %v outside [0,1]", opts.ScoreThreshold)
	}

	var b strings.Builder
	b.WriteString("<View>\n")
	fmt.Fprintf(&b, "  <Image name=\"%s\" value=\"$image\"/>\n", escape(opts.ToName))
	fmt.Fprintf(&b, "  <RectangleLabels name=\"%s\" toName=\"%s\" model_score_threshold=\"%s\">\n",
		escape(opts.FromName), escape(opts.ToName), strconv.FormatFloat(opts.ScoreThreshold, 'f', -1, 64))
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			return "", fmt.Errorf("label %d is empty", i)
		}
		fmt.Fprintf(&b, "    <Label value=\"%s\" background=\"%s\"/>\n", escape(name), Color(i))
	}
	b.WriteString("  </RectangleLabels>\n")
	b.WriteString("</View>\n")
	return b.String(), nil
}

func escape(value string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(value))
	return buf.String()
}
