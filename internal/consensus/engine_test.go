package consensus

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/pkg/models"
)

func completed(outputs ...string) []models.AgentInstance {
	out := make([]models.AgentInstance, len(outputs))
	for i, o := range outputs {
		out[i] = models.AgentInstance{Status: models.AgentStatusCompleted, Output: o}
	}
	return out
}

func TestAnalyze_IdenticalOutputs(t *testing.T) {
	e := NewEngine()
	a := e.Analyze(context.Background(), models.StageCode, completed("same answer", "same answer", "Same, answer!"), 0)

	assert.Equal(t, 100, a.Confidence)
	assert.False(t, a.NeedsRerun)
	assert.Equal(t, 1.0, a.PassRate)
	assert.Equal(t, 0, a.BestIndex)
	assert.Equal(t, 3, a.Agreement.Pairs)
}

func TestAnalyze_DisagreementTriggersRerun(t *testing.T) {
	e := NewEngine()
	a := e.Analyze(context.Background(), models.StagePlan, completed("alpha beta", "gamma delta"), 0)

	assert.Equal(t, 0, a.Confidence)
	assert.True(t, a.NeedsRerun)
}

func TestAnalyze_ThresholdOverride(t *testing.T) {
	e := NewEngine(WithThreshold(90))
	instances := completed("a b c", "a b d")

	a := e.Analyze(context.Background(), models.StageCode, instances, 0)
	assert.Equal(t, 50, a.Confidence)
	assert.True(t, a.NeedsRerun)

	a = e.Analyze(context.Background(), models.StageCode, instances, 40)
	assert.False(t, a.NeedsRerun)
	assert.Equal(t, 90, e.Threshold())
}

func TestAnalyze_PassRateAndFailures(t *testing.T) {
	e := NewEngine()
	instances := []models.AgentInstance{
		{Status: models.AgentStatusCompleted, Output: "the fix"},
		{Status: models.AgentStatusFailed, Output: "partial"},
		{Status: models.AgentStatusCancelled},
		{Status: models.AgentStatusFailed},
	}

	a := e.Analyze(context.Background(), models.StageCode, instances, 0)
	assert.Equal(t, 0.25, a.PassRate)
	assert.Equal(t, "the fix", a.Best)
	assert.Equal(t, 25, a.Confidence, "a lone success is scaled by pass rate")
}

func TestAnalyze_NoSuccesses(t *testing.T) {
	e := NewEngine()
	a := e.Analyze(context.Background(), models.StageCode, []models.AgentInstance{{Status: models.AgentStatusFailed}}, 0)

	assert.Equal(t, 0, a.Confidence)
	assert.Equal(t, -1, a.BestIndex)
	assert.Empty(t, a.Best)
	assert.True(t, a.NeedsRerun)
}

func TestAnalyze_FactCheckOnlySubtracts(t *testing.T) {
	e := NewEngine(WithFactChecker(DefaultPlaceholderChecker()))

	clean := e.Analyze(context.Background(), models.StageCode, completed("func Add() int { return 1 }"), 0)
	assert.Equal(t, 100, clean.Confidence)

	stub := e.Analyze(context.Background(), models.StageCode, completed("func Add() int { panic(\"not implemented\") } // TODO: implement"), 0)
	assert.Equal(t, 80, stub.Confidence)

	low := e.Analyze(context.Background(), models.StageCode, []models.AgentInstance{
		{Status: models.AgentStatusCompleted, Output: "lorem ipsum not implemented your code here placeholder implementation"},
		{Status: models.AgentStatusFailed},
		{Status: models.AgentStatusFailed},
		{Status: models.AgentStatusFailed},
		{Status: models.AgentStatusFailed},
	}, 0)
	assert.Equal(t, 0, low.Confidence, "penalty never drives confidence below zero")
}

type fixedEmbedder struct {
	m   Matrix
	err error
}

func (f fixedEmbedder) Matrix(context.Context, []string) (Matrix, error) { return f.m, f.err }

func TestAnalyze_SemanticBlend(t *testing.T) {
	emb := fixedEmbedder{m: Matrix{{1, 1}, {1, 1}}}
	e := NewEngine(WithSemantic(emb, 0.5))

	a := e.Analyze(context.Background(), models.StageResearch, completed("alpha beta", "gamma delta"), 0)
	assert.Equal(t, 50, a.Confidence)
}

func TestAnalyze_SemanticBlendDoesNotChangeSelection(t *testing.T) {
	// Embeddings say the third output agrees with everything; token overlap
	// says the first two agree with each other.
	emb := fixedEmbedder{m: Matrix{
		{1, 0, 1},
		{0, 1, 1},
		{1, 1, 1},
	}}
	e := NewEngine(WithSemantic(emb, 0.9))

	outputs := []string{"alpha beta gamma", "alpha beta gamma", "zeta eta theta"}
	a := e.Analyze(context.Background(), models.StageCode, completed(outputs...), 0)

	assert.Equal(t, 0, a.BestIndex)
	assert.Equal(t, SelectBest(outputs), a.BestIndex)
	assert.Equal(t, "alpha beta gamma", a.Best)
	assert.Equal(t, 63, a.Confidence)
}

func TestAnalyze_SemanticFailureFallsBack(t *testing.T) {
	e := NewEngine(WithSemantic(fixedEmbedder{err: errors.New("offline")}, 0.5))

	a := e.Analyze(context.Background(), models.StageResearch, completed("alpha beta", "gamma delta"), 0)
	assert.Equal(t, 0, a.Confidence)
}

func TestAnalyze_ConfidenceAlwaysInRange(t *testing.T) {
	e := NewEngine(WithFactChecker(&PlaceholderChecker{Markers: []string{"x"}, PerMarker: 500, Max: 500}))
	inputs := [][]models.AgentInstance{
		nil,
		completed(""),
		completed("x"),
		completed("x", "x", "x"),
		completed("a", "b", "c", "d"),
		{{Status: models.AgentStatusFailed, Output: "x"}},
	}
	for _, in := range inputs {
		a := e.Analyze(context.Background(), models.StageCode, in, 0)
		assert.GreaterOrEqual(t, a.Confidence, 0)
		assert.LessOrEqual(t, a.Confidence, 100)
	}
}

func TestNeedsRerun(t *testing.T) {
	assert.True(t, NeedsRerun(79, 80))
	assert.False(t, NeedsRerun(80, 80))
	assert.False(t, NeedsRerun(0, 0))
}

func TestPassRate(t *testing.T) {
	assert.Equal(t, 0.0, PassRate(nil))
	assert.Equal(t, 0.5, PassRate([]models.AgentInstance{
		{Status: models.AgentStatusCompleted},
		{Status: models.AgentStatusFailed},
	}))
}

// letterEmbedding maps text to letter frequencies so similar texts get
// similar vectors without a model.
func letterEmbedding(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 27)
	for _, r := range text {
		if r >= 'a' && r <= 'z' {
			v[r-'a']++
		}
	}
	v[26] = 1
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

func TestChromemEmbedder(t *testing.T) {
	emb := NewChromemEmbedder(letterEmbedding)

	m, err := emb.Matrix(context.Background(), []string{"abc abc", "abc abc", "zzzz"})
	require.NoError(t, err)
	require.Len(t, m, 3)

	assert.InDelta(t, 1.0, m[0][1], 1e-4)
	assert.InDelta(t, m[0][1], m[1][0], 1e-4)
	assert.Less(t, m[0][2], 0.5)
	assert.Equal(t, 1.0, m[2][2])
}

func TestChromemEmbedder_SingleText(t *testing.T) {
	m, err := NewChromemEmbedder(letterEmbedding).Matrix(context.Background(), []string{"one"})
	require.NoError(t, err)
	assert.Equal(t, Matrix{{1}}, m)
}

func TestPlaceholderChecker(t *testing.T) {
	c := DefaultPlaceholderChecker()
	assert.Equal(t, 0, c.Penalty("complete code"))
	assert.Equal(t, 10, c.Penalty("return errors.New(\"Not Implemented\")"))
	assert.Equal(t, 30, c.Penalty("not implemented, TODO: implement, lorem ipsum, your code here"))
}
