package progress

import (
	"testing"
	"time"

	"story-video-gen/internal/logging"
)

func TestFastTaskNeverAppears(t *testing.T) {
	r := NewLogReporter(logging.Nop())
	r.AppearAfter = time.Hour

	task := r.Begin("quick")
	task.Update(0.5)
	task.Done()
	if Visible(task) {
		t.Fatalf("task finished before the delay but was shown")
	}
}

func TestSlowTaskAppears(t *testing.T) {
	r := NewLogReporter(logging.Nop())
	r.AppearAfter = time.Millisecond

	task := r.Begin("slow")
	task.Update(0.2)
	deadline := time.Now().Add(2 * time.Second)
	for !Visible(task) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !Visible(task) {
		t.Fatalf("task never appeared")
	}
	task.Update(1.5)
	task.Done()
	task.Done()
}

func TestNopReporter(t *testing.T) {
	var r Reporter = Nop{}
	task := r.Begin("x")
	task.Update(1)
	task.Done()
	if Visible(task) {
		t.Fatalf("nop task reported visible")
	}
}
