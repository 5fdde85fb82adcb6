package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewTruncatesAndMirrorsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.log")
	if err := os.WriteFile(path, []byte("stale line\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	l, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Infof("not mirrored")
	l.Error(errors.New("boom"))
	l.Error(nil)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if strings.Contains(got, "stale line") {
		t.Fatalf("errors file was not truncated: %q", got)
	}
	if strings.Contains(got, "not mirrored") {
		t.Fatalf("info line leaked into errors file: %q", got)
	}
	if strings.Count(got, "boom") != 1 {
		t.Fatalf("expected exactly one error line, got %q", got)
	}
}

func TestNopDoesNotPanic(t *testing.T) {
	l := Nop()
	l.Infof("x")
	l.Warnf("y")
	l.Errorf("z %d", 1)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
