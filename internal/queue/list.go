package queue

import (
	"sort"

	"github.com/ShayCichocki/swarm/internal/state"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func filterRuns(runs []*models.Run, f state.Filter) []*models.Run {
	out := runs[:0]
	for _, r := range runs {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Owner != "" && r.Owner != f.Owner {
			continue
		}
		if f.SessionID != "" && r.SessionID != f.SessionID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].QueuedAt.Equal(out[j].QueuedAt) {
			return out[i].QueuedAt.After(out[j].QueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func paginate(runs []*models.Run, f state.Filter) []*models.Run {
	if f.Offset >= len(runs) {
		return []*models.Run{}
	}
	runs = runs[f.Offset:]
	if len(runs) > f.Limit {
		runs = runs[:f.Limit]
	}
	return runs
}
