package consensus

import "strings"

// FactChecker returns a non-negative penalty for an output.
type FactChecker interface {
	Penalty(output string) int
}

// PlaceholderChecker penalises outputs that contain stub markers instead of
// complete work.
type PlaceholderChecker struct {
	// Markers are matched case-insensitively.
	Markers []string
	// PerMarker is subtracted for each distinct marker found.
	PerMarker int
	// Max bounds the total penalty.
	Max int
}

// DefaultPlaceholderChecker returns the built-in stub markers.
func DefaultPlaceholderChecker() *PlaceholderChecker {
	return &PlaceholderChecker{
		Markers: []string{
			"not implemented",
			"todo: implement",
			"http.statusnotimplemented",
			"lorem ipsum",
			"placeholder implementation",
			"your code here",
		},
		PerMarker: 10,
		Max:       30,
	}
}

func (c *PlaceholderChecker) Penalty(output string) int {
	lower := strings.ToLower(output)
	penalty := 0
	for _, m := range c.Markers {
		if strings.Contains(lower, m) {
			penalty += c.PerMarker
		}
	}
	if penalty > c.Max {
		penalty = c.Max
	}
	return penalty
}
