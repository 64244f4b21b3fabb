package orchestrator

import (
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/swarm/pkg/models"
)

var (
	numberedStep = regexp.MustCompile(`(?i)^\s*(?:#{1,6}\s*)?(?:step\s+)?(\d+)[.):]\s+(.+)$`)
	bulletStep   = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)
	heading      = regexp.MustCompile(`^\s*#{1,6}\s+(.+)$`)
	emphasis     = strings.NewReplacer("**", "", "__", "", "`", "")
)

// ParsePlan extracts a step list from plan-stage output. Numbered steps are
// preferred; bullets are used only when there are no numbered steps. Lines
// following a step are its description. Returns nil if no steps are found.
func ParsePlan(text string) *models.Plan {
	lines := strings.Split(text, "\n")

	plan := parseSteps(lines, numberedStep, 2)
	if plan == nil {
		plan = parseSteps(lines, bulletStep, 1)
	}
	if plan == nil {
		return nil
	}

	for _, line := range lines {
		if m := heading.FindStringSubmatch(line); m != nil && !numberedStep.MatchString(line) {
			plan.Title = clean(m[1])
			break
		}
	}
	if plan.Title == "" {
		plan.Title = "Implementation plan"
	}
	return plan
}

func parseSteps(lines []string, pattern *regexp.Regexp, group int) *models.Plan {
	plan := &models.Plan{}
	var desc []string

	flush := func() {
		if n := len(plan.Steps); n > 0 && len(desc) > 0 {
			extra := strings.Join(desc, " ")
			if plan.Steps[n-1].Description != "" {
				extra = plan.Steps[n-1].Description + " " + extra
			}
			plan.Steps[n-1].Description = extra
		}
		desc = desc[:0]
	}

	for _, line := range lines {
		if m := pattern.FindStringSubmatch(line); m != nil {
			flush()
			title, detail := splitTitle(clean(m[group]))
			plan.Steps = append(plan.Steps, models.PlanStep{
				Index:       len(plan.Steps) + 1,
				Title:       title,
				Description: detail,
			})
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(plan.Steps) == 0 || heading.MatchString(line) {
			continue
		}
		desc = append(desc, clean(trimmed))
	}
	flush()

	if len(plan.Steps) == 0 {
		return nil
	}
	return plan
}

// splitTitle separates "Title: detail" or "Title - detail".
func splitTitle(s string) (string, string) {
	for _, sep := range []string{": ", " - ", " – "} {
		if i := strings.Index(s, sep); i > 0 {
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+len(sep):])
		}
	}
	return s, ""
}

func clean(s string) string {
	return strings.TrimSpace(emphasis.Replace(s))
}

// RenderPlan encodes a plan as YAML.
func RenderPlan(plan *models.Plan) (string, error) {
	out, err := yaml.Marshal(plan)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
