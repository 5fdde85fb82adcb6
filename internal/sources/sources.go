// Package sources fetches the story a video is made from.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"story-video-gen/internal"
	"story-video-gen/internal/cache"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
)

// RequestTimeout bounds every story API call.
const RequestTimeout = 10 * time.Second

// Source yields one story per call and remembers which ones were used.
type Source interface {
	Story(ctx context.Context) (model.Story, error)
	MarkComplete(id string) error
}

// TitleShooter captures the title of a story as it appears on its site.
type TitleShooter interface {
	TitleScreenshot(ctx context.Context, story model.Story) ([]byte, error)
}

// StoryWriter generates new stories from a prompt.
type StoryWriter interface {
	GenerateStory(ctx context.Context, prompt string) (title, content string, err error)
}

type Deps struct {
	Dirs       cache.Dirs
	Writer     StoryWriter
	HTTPClient *http.Client
	Log        *logging.Logger
}

// New resolves cfg.Source into a Source.
func New(ctx context.Context, cfg internal.StoryConfig, d Deps) (Source, error) {
	hc := d.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: RequestTimeout}
	}
	switch cfg.Source {
	case "reddit":
		return NewReddit(ctx, cfg, NewTracker(filepath.Join(d.Dirs.Reddit, "tracking.json")), hc, d.Log)
	case "ai":
		if d.Writer == nil {
			return nil, fmt.Errorf("ai story source needs a writer")
		}
		return NewAI(d.Writer, cfg.OpenAINewStoryPrompt, filepath.Join(d.Dirs.AI, cfg.AIType+".json"), d.Log), nil
	default:
		return nil, fmt.Errorf("unknown story source %q", cfg.Source)
	}
}
