package convert

import "labelloop/internal/services/labelstudio"

// Default control names of the generated labeling config.
const (
	DefaultFromName = "label"
	DefaultToName   = "image"
)

// PredictionMeta names the model and labeling-config controls a prediction
// is attached to.
type PredictionMeta struct {
	ModelVersion string
	FromName     string
	ToName       string
}

// BuildPrediction assembles the prediction payload for a task. The overall
// score is the mean region score, or 0 without regions.
func BuildPrediction(taskID int, regions []Region, width, height int, meta PredictionMeta) labelstudio.Prediction {
	fromName := meta.FromName
	if fromName == "" {
		fromName = DefaultFromName
	}
	toName := meta.ToName
	if toName == "" {
		toName = DefaultToName
	}

	results := make([]labelstudio.Result, 0, len(regions))
	var total float64
	for _, region := range regions {
		score := region.Score
		total += score
		results = append(results, labelstudio.Result{
			ID:             region.ID,
			FromName:       fromName,
			ToName:         toName,
			Type:           labelstudio.ResultTypeRectangleLabels,
			OriginalWidth:  width,
			OriginalHeight: height,
			ImageRotation:  0,
			Value: labelstudio.RegionValue{
				X:               region.X,
				Y:               region.Y,
				Width:           region.Width,
				Height:          region.Height,
				Rotation:        0,
				RectangleLabels: []string{region.Label},
			},
			Score: &score,
		})
	}

	var mean float64
	if len(regions) > 0 {
		mean = total / float64(len(regions))
	}
	return labelstudio.Prediction{
		Task:         taskID,
		ModelVersion: meta.ModelVersion,
		Score:        mean,
		Result:       results,
	}
}
