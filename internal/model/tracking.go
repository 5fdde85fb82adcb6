package model

import "slices"

// Tracking lists reddit post ids that were already turned into videos.
type Tracking struct {
	Done []string `json:"done"`
}

func (t *Tracking) IsDone(id string) bool {
	if t == nil {
		return false
	}
	return slices.Contains(t.Done, id)
}

// MarkDone appends id once. It reports whether the list changed.
func (t *Tracking) MarkDone(id string) bool {
	if t.IsDone(id) {
		return false
	}
	t.Done = append(t.Done, id)
	return true
}

// Trim keeps the newest max jobs.
func (idx *JobsIndex) Trim(max int) {
	if idx == nil || max <= 0 || len(idx.Items) <= max {
		return
	}
	idx.Items = slices.Clone(idx.Items[len(idx.Items)-max:])
}
