package consensus

import (
	"math"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// StageWeights are the fixed contributions of each stage to the final confidence.
var StageWeights = map[models.Stage]float64{
	models.StageResearch: 0.10,
	models.StagePlan:     0.15,
	models.StageCode:     0.30,
	models.StageValidate: 0.25,
	models.StageSecurity: 0.20,
}

const (
	// StageFloor is the stage confidence below which the aggregate is capped.
	StageFloor = 30
	// FloorCap is the highest aggregate allowed when any stage is below StageFloor.
	FloorCap = 50
)

// Aggregate folds stage confidences into a final score in [0,100]. Weights
// are renormalised over the weighted stages present, so a single-stage run
// scores that stage's confidence. Any stage below StageFloor caps the result
// at FloorCap.
func Aggregate(stages []models.StageAnalysis) int {
	var sum, weight float64
	floorBreached := false

	for _, s := range stages {
		if s.Confidence < StageFloor {
			floorBreached = true
		}
		w, ok := StageWeights[s.Stage]
		if !ok {
			continue
		}
		sum += w * float64(clamp(s.Confidence))
		weight += w
	}

	score := 0
	if weight > 0 {
		score = int(math.Round(sum / weight))
	} else if len(stages) > 0 {
		// Only unweighted stages ran.
		for _, s := range stages {
			score += clamp(s.Confidence)
		}
		score /= len(stages)
	}

	if floorBreached && score > FloorCap {
		score = FloorCap
	}
	return clamp(score)
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
