package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/progress"
)

// Executor runs a binary. Tests replace it with a fake.
type Executor interface {
	Execute(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error
}

type execExecutor struct{}

func (execExecutor) Execute(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}

// Result is what a successful invocation leaves behind.
type Result struct {
	Cmd    string
	Stdout string
	Stderr string

	// OutTime is the last out_time_ms progress value in seconds. HasOutTime is
	// false when ffmpeg never reported one.
	OutTime    float64
	HasOutTime bool
}

// ExecError is a failed invocation with everything ffmpeg printed.
type ExecError struct {
	Cmd    string
	Stdout string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("ffmpeg error: %v\ncommand: %s\nstderr:\n%s", e.Err, e.Cmd, strings.TrimSpace(e.Stderr))
	if out := strings.TrimSpace(e.Stdout); out != "" {
		msg += "\nstdout:\n" + out
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// Runner executes Commands, at most Concurrency at a time.
type Runner struct {
	Binary  string
	Threads int

	exec     Executor
	sem      chan struct{}
	log      *logging.Logger
	reporter progress.Reporter
}

type RunnerOption func(*Runner)

func WithExecutor(e Executor) RunnerOption { return func(r *Runner) { r.exec = e } }

func WithReporter(p progress.Reporter) RunnerOption { return func(r *Runner) { r.reporter = p } }

// WithConcurrency bounds parallel ffmpeg processes. Under heavy load extra
// processes fail with "pthread_create() failed: Resource temporarily unavailable".
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.sem = make(chan struct{}, n)
		}
	}
}

func NewRunner(log *logging.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		Binary:   "ffmpeg",
		Threads:  runtime.NumCPU(),
		exec:     execExecutor{},
		sem:      make(chan struct{}, 1),
		log:      log,
		reporter: progress.Nop{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run executes c. Subprocess failures are never retried here.
//
// ffmpeg writes to a hidden sibling of c.Output that is renamed into place
// only after a clean exit, so a failed or killed run never leaves a file at
// c.Output.
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	target := c.Output
	if !isNullOutput(target) {
		c.Output = PartialPath(target)
		defer os.Remove(c.Output)
	}
	args := c.Args(r.Threads)
	line := CommandLine(r.Binary, args)
	label := c.Label
	if label == "" {
		label = "ffmpeg"
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{Cmd: line}, ctx.Err()
	}
	defer func() { <-r.sem }()

	task := r.reporter.Begin(label)
	defer task.Done()

	var stdout, stderr bytes.Buffer
	pw := &progressWriter{task: task, expected: c.ExpectedDuration}
	started := time.Now()
	r.log.Infof("[FFMPEG] %s: %s", label, line)
	err := r.exec.Execute(ctx, r.Binary, args, io.MultiWriter(&stdout, pw), &stderr)
	pw.flush()

	res := Result{Cmd: line, Stdout: stdout.String(), Stderr: stderr.String()}
	res.OutTime, res.HasOutTime = pw.last()
	if err != nil {
		r.log.Errorf("[FFMPEG] ✗ %s failed after %s: %v", label, time.Since(started).Round(time.Millisecond), err)
		return res, &ExecError{Cmd: line, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	}
	if !isNullOutput(target) {
		if !cache.ExistsNonEmpty(c.Output) {
			err := errors.New("no output file was written")
			r.log.Errorf("[FFMPEG] ✗ %s: %v (%s)", label, err, target)
			return res, &ExecError{Cmd: line, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
		}
		if err := os.Rename(c.Output, target); err != nil {
			return res, fmt.Errorf("ffmpeg: move output into place: %w", err)
		}
	}
	task.Update(1)
	r.log.Infof("[FFMPEG] ✓ %s done in %s", label, time.Since(started).Round(time.Millisecond))
	return res, nil
}

// PartialPath is where Run lets ffmpeg write before the output is complete.
// The extension is kept because ffmpeg picks the muxer from it.
func PartialPath(output string) string {
	dir, base := filepath.Split(output)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".partial"+ext)
}

func isNullOutput(p string) bool {
	return p == "-" || p == os.DevNull || p == "/dev/null"
}

// progressWriter parses `-progress` key=value lines as they stream in.
type progressWriter struct {
	task     progress.Task
	expected float64

	mu      sync.Mutex
	buf     []byte
	outTime float64
	hasOut  bool
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.line(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.line(string(w.buf))
		w.buf = nil
	}
}

func (w *progressWriter) line(l string) {
	key, val, ok := strings.Cut(strings.TrimSpace(l), "=")
	if !ok || key != "out_time_ms" {
		return
	}
	us, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil || us < 0 {
		return
	}
	w.outTime = float64(us) / 1e6
	w.hasOut = true
	if w.expected > 0 {
		w.task.Update(w.outTime / w.expected)
	}
}

func (w *progressWriter) last() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outTime, w.hasOut
}

// Summary is the first line of err, for log lines that should not carry the
// full ffmpeg transcript.
func Summary(err error) string {
	if err == nil {
		return ""
	}
	var ee *ExecError
	if errors.As(err, &ee) && ee.Err != nil {
		return ee.Err.Error()
	}
	first, _, _ := strings.Cut(err.Error(), "\n")
	return first
}
