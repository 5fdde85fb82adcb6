// Package ffmpegtest provides a scriptable stand-in for the ffmpeg binary.
package ffmpegtest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Fake records every invocation. It writes the output file (the last
// argument) with the joined arguments as content, so equal commands produce
// equal bytes.
type Fake struct {
	// OutTime, if set, returns the seconds to report as out_time_ms for a call.
	OutTime func(args []string) (float64, bool)
	// Fail, if set, makes a call fail with the returned error.
	Fail func(args []string) error

	mu    sync.Mutex
	calls [][]string
}

func (f *Fake) Execute(_ context.Context, _ string, args []string, stdout, stderr io.Writer) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	f.mu.Unlock()

	if f.Fail != nil {
		if err := f.Fail(args); err != nil {
			fmt.Fprintf(stderr, "fake ffmpeg: %v\n", err)
			return err
		}
	}
	if f.OutTime != nil {
		if sec, ok := f.OutTime(args); ok {
			fmt.Fprintf(stdout, "frame=1\nout_time_ms=%d\nprogress=continue\n", int64(sec/2*1e6))
			fmt.Fprintf(stdout, "out_time_ms=%d\nprogress=end\n", int64(sec*1e6+0.5))
		}
	}
	out := args[len(args)-1]
	if out == "-" || out == os.DevNull {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte(strings.Join(args, " ")), 0o644)
}

// Calls returns a copy of the recorded argument lists.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many calls contained every given substring in some argument.
func (f *Fake) Count(subs ...string) int {
	n := 0
	for _, c := range f.Calls() {
		if Has(c, subs...) {
			n++
		}
	}
	return n
}

// Has reports whether args contain each of subs within some argument.
func Has(args []string, subs ...string) bool {
	for _, s := range subs {
		found := false
		for _, a := range args {
			if strings.Contains(a, s) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// InputOf returns the path following the first "-i".
func InputOf(args []string) string {
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// Value returns the argument that follows flag, or "".
func Value(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
