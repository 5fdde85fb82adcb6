// Package progress reports long-running steps. Reporters are passed explicitly
// to whatever emits progress; nothing here is global.
package progress

import (
	"sync"
	"time"

	"story-video-gen/internal/logging"
)

// Reporter starts tracked tasks.
type Reporter interface {
	Begin(label string) Task
}

// Task receives fractional progress in [0,1]. Update and Done never block.
type Task interface {
	Update(fraction float64)
	Done()
}

// Nop ignores everything.
type Nop struct{}

func (Nop) Begin(string) Task { return nopTask{} }

type nopTask struct{}

func (nopTask) Update(float64) {}
func (nopTask) Done()          {}

// LogReporter writes progress lines to a logger. A task becomes visible only
// after AppearAfter has elapsed, so quick steps stay silent.
type LogReporter struct {
	log         *logging.Logger
	AppearAfter time.Duration
	Step        float64
}

func NewLogReporter(log *logging.Logger) *LogReporter {
	return &LogReporter{log: log, AppearAfter: 1500 * time.Millisecond, Step: 0.1}
}

func (r *LogReporter) Begin(label string) Task {
	t := &logTask{r: r, label: label, started: time.Now()}
	t.timer = time.AfterFunc(r.AppearAfter, t.appear)
	return t
}

type logTask struct {
	r       *LogReporter
	label   string
	started time.Time
	timer   *time.Timer

	mu       sync.Mutex
	visible  bool
	finished bool
	last     float64
	logged   float64
}

func (t *logTask) appear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.visible = true
	t.logged = t.last
	t.r.log.Infof("%s %3.0f%%", t.label, t.last*100)
}

func (t *logTask) Update(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = fraction
	if t.visible && !t.finished && fraction-t.logged >= t.r.Step {
		t.logged = fraction
		t.r.log.Infof("%s %3.0f%%", t.label, fraction*100)
	}
}

func (t *logTask) Done() {
	t.timer.Stop()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return
	}
	t.finished = true
	if t.visible {
		t.r.log.Infof("%s ✓ done in %s", t.label, time.Since(t.started).Round(time.Millisecond))
	}
}

// Visible reports whether the task was ever displayed.
func Visible(t Task) bool {
	lt, ok := t.(*logTask)
	if !ok {
		return false
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.visible
}
