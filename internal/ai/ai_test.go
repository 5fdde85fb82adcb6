package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"story-video-gen/internal/logging"
)

type scriptedChat struct {
	replies []string
	err     error
	calls   int
	last    []Message
}

func (s *scriptedChat) Chat(_ context.Context, history []Message) (string, error) {
	s.calls++
	s.last = append([]Message(nil), history...)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", errors.New("no more replies")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func newTestWriter(c Chatter) *Writer {
	w := NewWriter(c, nil, logging.Nop())
	w.Policy = w.Policy.Immediate()
	w.Policy.MaxAttempts = 1
	w.Retries = 2
	return w
}

func TestRemoveAIExtras(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Here is the rewritten story:\nOnce upon a time", "Once upon a time"},
		{"Title:\nMy Title", "My Title"},
		{"Once upon a time\nthere was", "Once upon a time\nthere was"},
		{"Here we go, a story", "Here we go, a story"},
	}
	for _, c := range cases {
		if got := removeAIExtras(c.in); got != c.want {
			t.Errorf("removeAIExtras(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsValidAIResponse(t *testing.T) {
	long := strings.Repeat("word ", 40)
	cases := []struct {
		in   string
		min  int
		want bool
	}{
		{long, 150, true},
		{"short", 150, false},
		{"I'm sorry, " + long, 150, false},
		{"I cannot " + long, 150, false},
		{"Sorry " + long, 150, false},
		{"A good title", 5, true},
		{"Tiny", 5, false},
	}
	for _, c := range cases {
		if got := isValidAIResponse(c.in, c.min); got != c.want {
			t.Errorf("isValidAIResponse(%.20q, %d) = %v, want %v", c.in, c.min, got, c.want)
		}
	}
}

func TestChunkByTokens(t *testing.T) {
	parts := []string{strings.Repeat("a", 40), strings.Repeat("b", 40), strings.Repeat("c", 40)}
	// 10 tokens each, budget 25 with 5 overhead: two sentences fit in the first group.
	got := chunkByTokens(parts, 5, 25)
	if len(got) != 2 {
		t.Fatalf("got %d chunks: %q", len(got), got)
	}
	// Overhead alone exceeds the budget: one sentence per chunk.
	if got := chunkByTokens(parts, 100, 25); len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
}

func TestGenerateStory(t *testing.T) {
	story := "It began on a quiet night. " + strings.Repeat("Then something strange happened. ", 10)
	chat := &scriptedChat{replies: []string{
		"Here is your story:\n" + story,
		"Sorry, I can't make it longer.",
		"\"The Night Everything Changed\"",
	}}
	w := newTestWriter(chat)
	w.DesiredLength = 10000
	w.Retries = 1

	title, content, err := w.GenerateStory(context.Background(), "a spooky night")
	if err != nil {
		t.Fatalf("GenerateStory: %v", err)
	}
	if content != strings.TrimSpace(story) {
		t.Fatalf("content = %q", content)
	}
	if title != "The Night Everything Changed" {
		t.Fatalf("title = %q", title)
	}
	if chat.last[len(chat.last)-1].Content != content {
		t.Fatalf("title prompt should end with the story, got %+v", chat.last[len(chat.last)-1])
	}
}

func TestGenerateStoryFailsWithoutContent(t *testing.T) {
	w := newTestWriter(&scriptedChat{err: errors.New("boom")})
	if _, _, err := w.GenerateStory(context.Background(), "x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRewriteAsksForMoreThenPolishes(t *testing.T) {
	original := "My neighbor kept stealing my packages. So I set a trap."
	first := strings.Repeat("I never thought my neighbor would steal from me. ", 4)
	polished := strings.Repeat("I never imagined the neighbor I trusted would take my packages. ", 4)
	chat := &scriptedChat{replies: []string{first, polished}}
	w := newTestWriter(chat)

	got, err := w.Rewrite(context.Background(), original)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != strings.TrimSpace(polished) {
		t.Fatalf("got %q", got)
	}
	if chat.calls != 2 {
		t.Fatalf("calls = %d, want 2", chat.calls)
	}
}

func TestRewriteFailOnError(t *testing.T) {
	refuse := &scriptedChat{replies: []string{"I'm sorry, I can't help.", "I'm sorry, I can't help.", "I'm sorry, I can't help."}}
	w := newTestWriter(refuse)
	if _, err := w.Rewrite(context.Background(), "Something happened. Then more happened."); err == nil {
		t.Fatalf("expected rewrite failure")
	}

	w = newTestWriter(&scriptedChat{err: errors.New("down")})
	w.FailOnError = false
	got, err := w.Rewrite(context.Background(), "Something happened. Then more happened.")
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got != "Something happened. Then more happened." {
		t.Fatalf("got %q, want the original kept", got)
	}
}

func TestOpenAIChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Model != "gpt-test" || len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello there"}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI("k", srv.URL+"/v1/", "gpt-test", srv.Client())
	got, err := o.Chat(context.Background(), []Message{{RoleSystem, "be nice"}, {RoleUser, "hi"}})
	if err != nil || got != "hello there" {
		t.Fatalf("got %q, %v", got, err)
	}
}
