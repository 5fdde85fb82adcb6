package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/model"
)

// Tracker persists the ids of stories that were already rendered.
type Tracker struct {
	path string
	mu   sync.Mutex
}

func NewTracker(path string) *Tracker {
	return &Tracker{path: path}
}

func (t *Tracker) load() (model.Tracking, error) {
	var tr model.Tracking
	b, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) || len(b) == 0 {
		return tr, nil
	}
	if err != nil {
		return tr, err
	}
	if err := json.Unmarshal(b, &tr); err != nil {
		return tr, fmt.Errorf("parse %s: %w", t.path, err)
	}
	return tr, nil
}

func (t *Tracker) IsDone(id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, err := t.load()
	if err != nil {
		return false, err
	}
	return tr.IsDone(id), nil
}

// Done returns every tracked id.
func (t *Tracker) Done() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, err := t.load()
	return tr.Done, err
}

// MarkComplete appends id and rewrites the file when it was not tracked yet.
func (t *Tracker) MarkComplete(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, err := t.load()
	if err != nil {
		return err
	}
	if !tr.MarkDone(id) {
		return nil
	}
	b, err := json.Marshal(tr)
	if err != nil {
		return err
	}
	return cache.WriteFile(t.path, b)
}

// appendAIStory adds one record to the json array at path.
func appendAIStory(path string, s model.AIStory) error {
	var list []model.AIStory
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		if err := json.Unmarshal(b, &list); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	list = append(list, s)
	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return cache.WriteFile(path, b)
}
