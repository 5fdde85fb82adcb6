package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/text"
)

// AI writes a fresh story for every call and logs it to a json file.
type AI struct {
	writer  StoryWriter
	prompt  string
	logPath string
	log     *logging.Logger
	now     func() time.Time
}

func NewAI(w StoryWriter, prompt, logPath string, log *logging.Logger) *AI {
	return &AI{writer: w, prompt: prompt, logPath: logPath, log: log, now: time.Now}
}

func (a *AI) Story(ctx context.Context) (model.Story, error) {
	a.log.Infof("ai: generating a story for %q", a.prompt)
	title, content, err := a.writer.GenerateStory(ctx, a.prompt)
	if err != nil {
		return model.Story{}, err
	}
	title = strings.TrimSpace(title)
	content = text.StripMarkdown(content)
	rec := model.AIStory{Epoch: a.now().Unix(), Prompt: a.prompt, Title: title, Content: content}
	if err := appendAIStory(a.logPath, rec); err != nil {
		return model.Story{}, fmt.Errorf("record ai story: %w", err)
	}
	return model.Story{
		ID:      cache.DeriveKey(a.prompt, title, content)[:16],
		Title:   title,
		Content: content,
		Source:  "ai",
	}, nil
}

// MarkComplete is a no-op: generated stories are never offered twice.
func (a *AI) MarkComplete(string) error { return nil }
