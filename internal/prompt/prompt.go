// Package prompt builds the stage-specific instructions sent to agents.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/swarm/pkg/models"
)

// maxPriorChars bounds how much of each earlier stage's output is quoted.
const maxPriorChars = 8000

// PriorOutput is the selected output of an earlier stage.
type PriorOutput struct {
	Stage      models.Stage
	Output     string
	Confidence int
}

// Input is everything the builder needs for one stage attempt.
type Input struct {
	Stage       models.Stage
	Mode        models.Mode
	Task        string
	Intent      string
	Attachments []models.Attachment
	// Prior holds earlier stages' selected outputs in execution order.
	Prior []PriorOutput
	// Attempt is 1 for the first execution of a stage.
	Attempt int
	// PreviousConfidence is the confidence of the last attempt when rerunning.
	PreviousConfidence int
}

// ScopeGuidance keeps every agent on the submitted task.
const ScopeGuidance = `## Scope Guidance

Stay focused on the task below. Do not expand scope with unrelated
refactoring, bug fixes or features. Other agents handle the other stages
of this pipeline.
`

var stageInstructions = map[models.Stage]string{
	models.StageResearch: `## Your Stage: Research

Investigate the problem. Identify the relevant files, libraries, constraints
and prior art. Report facts you verified, not guesses. End with a short list
of open risks.`,
	models.StagePlan: `## Your Stage: Plan

Produce an implementation plan as a numbered list of concrete steps. Each
step starts with a short title on its own line, followed by one or two
sentences of detail. Do not write the implementation.`,
	models.StageCode: `## Your Stage: Code

Implement the task. Follow the plan when one is provided. Write complete,
working code with no placeholders. Finish with a summary of the changes.`,
	models.StageValidate: `## Your Stage: Validate

Review the implementation against the task and the plan. Run or reason
through the tests. List every defect with its location, then state PASS or
FAIL on the last line.`,
	models.StageSecurity: `## Your Stage: Security Review

Audit the implementation for security issues: injection, unsafe input
handling, secrets exposure, auth gaps, unsafe dependencies. List findings by
severity, then state PASS or FAIL on the last line.`,
	models.StageSynthesize: `## Your Stage: Synthesize

Merge the stage outputs above into one final answer for the user. Keep the
implementation from the code stage, apply fixes raised by validation and
security review, and omit discussion of the pipeline itself.`,
}

var chatInstructions = `## Your Task

Answer the request directly and completely.`

// Build returns the prompt for one stage attempt.
func Build(in Input) string {
	var sb strings.Builder

	sb.WriteString(ScopeGuidance)
	sb.WriteString("\n## Task\n\n")
	sb.WriteString(strings.TrimSpace(in.Task))
	sb.WriteString("\n")

	if in.Intent != "" {
		sb.WriteString("\nIntent: ")
		sb.WriteString(in.Intent)
		sb.WriteString("\n")
	}

	if len(in.Attachments) > 0 {
		sb.WriteString("\n## Attachments\n")
		for _, a := range in.Attachments {
			sb.WriteString(fmt.Sprintf("\n### %s\n\n", a.Name))
			sb.WriteString(clip(a.Content, maxPriorChars))
			sb.WriteString("\n")
		}
	}

	if len(in.Prior) > 0 {
		sb.WriteString("\n## Earlier Stages\n")
		for _, p := range in.Prior {
			sb.WriteString(fmt.Sprintf("\n### %s (confidence %d)\n\n", titleCase(string(p.Stage)), p.Confidence))
			sb.WriteString(clip(p.Output, maxPriorChars))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	if in.Mode == models.ModeChat {
		sb.WriteString(chatInstructions)
	} else {
		sb.WriteString(stageInstructions[in.Stage])
	}
	sb.WriteString("\n")

	if in.Attempt > 1 {
		sb.WriteString(fmt.Sprintf("\n## Retry\n\nThis is attempt %d. Parallel agents disagreed on the previous attempt (agreement %d/100). Be precise and stick to the task as stated.\n",
			in.Attempt, in.PreviousConfidence))
	}

	return sb.String()
}

func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[truncated]"
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
