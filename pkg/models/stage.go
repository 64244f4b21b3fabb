package models

// Stage is one phase of the pipeline.
type Stage string

const (
	StageResearch   Stage = "research"
	StagePlan       Stage = "plan"
	StageCode       Stage = "code"
	StageValidate   Stage = "validate"
	StageSecurity   Stage = "security"
	StageSynthesize Stage = "synthesize"
)

// AllStages lists every stage in execution order.
var AllStages = []Stage{
	StageResearch,
	StagePlan,
	StageCode,
	StageValidate,
	StageSecurity,
	StageSynthesize,
}

// Valid returns true if the stage is a known value.
func (s Stage) Valid() bool {
	switch s {
	case StageResearch, StagePlan, StageCode, StageValidate, StageSecurity, StageSynthesize:
		return true
	default:
		return false
	}
}

// Role returns the agent role that executes the stage.
func (s Stage) Role() Role {
	switch s {
	case StageResearch:
		return RoleResearcher
	case StagePlan:
		return RolePlanner
	case StageCode:
		return RoleCoder
	case StageValidate:
		return RoleValidator
	case StageSecurity:
		return RoleSecurity
	case StageSynthesize:
		return RoleSynthesizer
	default:
		return ""
	}
}

// Agreement summarises pairwise similarity across a stage's outputs.
type Agreement struct {
	// Pairs is the number of output pairs compared.
	Pairs int `json:"pairs"`
	// Mean is the average pairwise similarity in [0,1].
	Mean float64 `json:"mean"`
	// Min is the lowest pairwise similarity in [0,1].
	Min float64 `json:"min"`
	// Max is the highest pairwise similarity in [0,1].
	Max float64 `json:"max"`
}

// StageAnalysis is the judgment over one stage's agent instances.
type StageAnalysis struct {
	// Stage is the analysed stage.
	Stage Stage `json:"stage"`
	// Confidence is the agreement score, always in [0,100].
	Confidence int `json:"confidence"`
	// Agreement is the pairwise similarity summary.
	Agreement Agreement `json:"agreement"`
	// Best is the selected output text.
	Best string `json:"best,omitempty"`
	// BestIndex is the index of Best among successful outputs, -1 if none.
	BestIndex int `json:"best_index"`
	// PassRate is the fraction of instances that exited successfully.
	PassRate float64 `json:"pass_rate"`
	// NeedsRerun is true iff Confidence is below the threshold.
	NeedsRerun bool `json:"needs_rerun"`
	// Attempts is how many times the stage was executed.
	Attempts int `json:"attempts"`
	// Degraded marks a stage forced forward after exhausting reruns.
	Degraded bool `json:"degraded,omitempty"`
}
