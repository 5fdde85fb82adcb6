package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
)

func TestTrackerMarkComplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reddit", "tracking.json")
	tr := NewTracker(path)

	if done, err := tr.IsDone("a"); err != nil || done {
		t.Fatalf("empty tracker: done=%v err=%v", done, err)
	}
	for _, id := range []string{"a", "b", "a"} {
		if err := tr.MarkComplete(id); err != nil {
			t.Fatalf("MarkComplete(%s): %v", id, err)
		}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"done":["a","b"]}` {
		t.Fatalf("tracking.json = %s", b)
	}
	if done, _ := NewTracker(path).IsDone("b"); !done {
		t.Fatalf("b should be done after reload")
	}
}

type fakeWriter struct {
	title, content string
	err            error
}

func (f fakeWriter) GenerateStory(context.Context, string) (string, string, error) {
	return f.title, f.content, f.err
}

func TestAISourceRecordsStories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openai.json")
	src := NewAI(fakeWriter{title: " A Title ", content: "**Bold** start. The end."}, "prompt", path, logging.Nop())

	for i := 0; i < 2; i++ {
		s, err := src.Story(context.Background())
		if err != nil {
			t.Fatalf("Story: %v", err)
		}
		if s.Title != "A Title" || s.Content != "Bold start. The end." || s.ID == "" {
			t.Fatalf("story = %+v", s)
		}
	}
	var list []model.AIStory
	b, _ := os.ReadFile(path)
	if err := json.Unmarshal(b, &list); err != nil || len(list) != 2 || list[0].Prompt != "prompt" {
		t.Fatalf("log = %s (%v)", b, err)
	}
	if err := src.MarkComplete("x"); err != nil {
		t.Fatal(err)
	}
}

func TestAISourcePropagatesErrors(t *testing.T) {
	src := NewAI(fakeWriter{err: errors.New("quota")}, "p", filepath.Join(t.TempDir(), "x.json"), logging.Nop())
	if _, err := src.Story(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

type redditPost struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"selftext"`
	Sub      string `json:"subreddit"`
	Comments int    `json:"num_comments"`
	Self     bool   `json:"is_self"`
	NSFW     bool   `json:"over_18"`
	Stickied bool   `json:"stickied"`
}

func listing(posts ...redditPost) map[string]any {
	children := make([]map[string]any, 0, len(posts))
	for _, p := range posts {
		children = append(children, map[string]any{"kind": "t3", "data": p})
	}
	return map[string]any{"kind": "Listing", "data": map[string]any{"children": children, "after": ""}}
}

func newFakeReddit(t *testing.T, top map[string][]redditPost, single *redditPost) (*httptest.Server, *[]string) {
	var windows []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimSuffix(r.URL.Path, ".json")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(path, "/comments/") && single != nil:
			json.NewEncoder(w).Encode([]any{listing(*single), listing()})
		case strings.HasSuffix(path, "/top"):
			window := r.URL.Query().Get("t")
			windows = append(windows, window)
			json.NewEncoder(w).Encode(listing(top[window]...))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &windows
}

func newTestReddit(t *testing.T, srv *httptest.Server, cfg internal.StoryConfig) *Reddit {
	client, err := reddit.NewReadonlyClient(reddit.WithBaseURL(srv.URL), reddit.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatal(err)
	}
	r := newRedditWithClient(client, cfg, NewTracker(filepath.Join(t.TempDir(), "tracking.json")), logging.Nop())
	r.Policy = r.Policy.Immediate()
	r.pick = func(n int) (int, error) { return n - 1, nil }
	return r
}

func TestRedditGet(t *testing.T) {
	post := redditPost{ID: "abc", Title: " Title ", Body: "Hello &#x200B; **world**", Sub: "tifu", Self: true}
	srv, _ := newFakeReddit(t, nil, &post)
	r := newTestReddit(t, srv, internal.StoryConfig{RedditPostID: "abc"})

	s, err := r.Story(context.Background())
	if err != nil {
		t.Fatalf("Story: %v", err)
	}
	if s.ID != "abc" || s.Title != "Title" || s.Content != "Hello  world" || s.Subreddit != "tifu" {
		t.Fatalf("story = %+v", s)
	}
}

func TestRedditRandomFiltersAndWidens(t *testing.T) {
	body := strings.Repeat("word ", 20)
	top := map[string][]redditPost{
		"hour": {
			{ID: "link", Title: "not self", Body: body, Self: false},
			{ID: "sticky", Title: "rules", Body: body, Self: true, Stickied: true},
			{ID: "short", Title: "tiny", Body: "hi", Self: true},
		},
		"day": {
			{ID: "nsfw", Title: "n", Body: body, Self: true, NSFW: true},
			{ID: "done", Title: "d", Body: body, Self: true},
			{ID: "good", Title: "Good", Body: body, Self: true, Comments: 3},
		},
	}
	srv, windows := newFakeReddit(t, top, nil)
	cfg := internal.StoryConfig{
		RedditRandom:           true,
		RedditRandomSubreddits: []string{"r/tifu"},
		RedditRandomLimit:      10,
		RedditRandomMinLength:  30,
	}
	r := newTestReddit(t, srv, cfg)
	if err := r.MarkComplete("done"); err != nil {
		t.Fatal(err)
	}

	s, err := r.Story(context.Background())
	if err != nil {
		t.Fatalf("Story: %v", err)
	}
	if s.ID != "good" {
		t.Fatalf("picked %q, want good", s.ID)
	}
	if fmt.Sprint(*windows) != "[hour day]" {
		t.Fatalf("windows = %v", *windows)
	}
}

func TestRedditRandomExhausted(t *testing.T) {
	srv, windows := newFakeReddit(t, map[string][]redditPost{}, nil)
	r := newTestReddit(t, srv, internal.StoryConfig{RedditRandomSubreddits: []string{"a", "b"}, RedditRandomLimit: 5})
	_, err := r.Random(context.Background())
	if err == nil || !strings.Contains(err.Error(), "reddit_random_limit") {
		t.Fatalf("err = %v", err)
	}
	if len(*windows) != 12 {
		t.Fatalf("requests = %d, want 6 windows x 2 subreddits", len(*windows))
	}
}

func TestRedditEligibleMaxLength(t *testing.T) {
	r := &Reddit{cfg: internal.StoryConfig{RedditRandomMinLength: 1, RedditRandomMaxLength: 5}}
	if r.eligible(&reddit.Post{ID: "x", IsSelfPost: true, Body: "too long body"}, nil) {
		t.Fatalf("post over max length accepted")
	}
	if !r.eligible(&reddit.Post{ID: "y", IsSelfPost: true, Body: "ok"}, nil) {
		t.Fatalf("short post rejected")
	}
}

func TestNewRejectsUnknownSource(t *testing.T) {
	if _, err := New(context.Background(), internal.StoryConfig{Source: "rss"}, Deps{Log: logging.Nop()}); err == nil {
		t.Fatalf("expected error")
	}
}
