// Package ai rewrites and generates stories with a chat model.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"story-video-gen/internal"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/retry"
	"story-video-gen/internal/text"
)

// RequestTimeout bounds one chat completion call.
const RequestTimeout = 10 * time.Second

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Chatter is a single chat completion backend.
type Chatter interface {
	Chat(ctx context.Context, history []Message) (string, error)
}

const (
	temperature = 0.9
	followUp    = "Make the story longer/more detailed"
	assistantOK = "Sure! What is the story?"
	avoidWords  = "Avoid using swear words and words that may not be allowed, like: gun, drug, shoot, kill, suicide, etc."
)

// Writer holds the rewrite and generation loops shared by every backend.
type Writer struct {
	chat     Chatter
	splitter text.Splitter
	log      *logging.Logger

	Retries        int
	FailOnError    bool
	ChunkMaxTokens int
	RewriteLength  float64
	DesiredLength  int
	MinLength      int
	Policy         retry.Policy
}

// New resolves cfg.AIType into a Writer backed by OpenAI or Gemini.
func New(ctx context.Context, cfg internal.StoryConfig, splitter text.Splitter, hc *http.Client, log *logging.Logger) (*Writer, error) {
	if hc == nil {
		hc = &http.Client{Timeout: RequestTimeout}
	}
	var c Chatter
	switch cfg.AIType {
	case "openai":
		c = NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, cfg.OpenAIModel, hc)
	case "gemini":
		g, err := NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, hc)
		if err != nil {
			return nil, err
		}
		c = g
	default:
		return nil, fmt.Errorf("unknown ai type %q", cfg.AIType)
	}
	w := NewWriter(c, splitter, log)
	w.Retries = cfg.OpenAIRetries
	w.FailOnError = cfg.OpenAIRewriteRetryFailOnError
	w.ChunkMaxTokens = cfg.OpenAIRewriteChunkMaxTokens
	w.RewriteLength = cfg.OpenAIRewriteLength
	w.DesiredLength = cfg.OpenAINewStoryDesiredLength
	w.MinLength = cfg.OpenAINewStoryMinLength
	return w, nil
}

func NewWriter(c Chatter, splitter text.Splitter, log *logging.Logger) *Writer {
	if splitter == nil {
		splitter = text.RuleSplitter{}
	}
	return &Writer{
		chat:           c,
		splitter:       splitter,
		log:            log,
		Retries:        5,
		FailOnError:    true,
		ChunkMaxTokens: 1000,
		RewriteLength:  1,
		DesiredLength:  500,
		MinLength:      10,
		Policy:         retry.Default(),
	}
}

// Rewrite retells content in first person, chunk by chunk, then runs one
// polishing pass over the joined result.
func (w *Writer) Rewrite(ctx context.Context, content string) (string, error) {
	lengthWord := "longer"
	if w.RewriteLength < 1 {
		lengthWord = "shorter"
	}
	system := "The user will present you with a story. You must rewrite the story in first person. " +
		"Rewrite the story to the same or " + lengthWord + " length, keeping the same details, but make it " +
		"extremely addictive to listen to, with many cliffhangers. Use language and words that the average " +
		"social media user can understand. " + avoidWords
	user := "Rewrite this story to be more addictive. Your output will be published, so make sure to only output the new story."

	chunks := chunkByTokens(w.splitter.Split(content), estimateTokens(system+user+assistantOK), w.ChunkMaxTokens)
	if len(chunks) == 0 {
		return content, nil
	}

	var rewritten []string
	for i, chunk := range chunks {
		target := float64(estimateTokens(chunk)) * w.RewriteLength
		out := w.converse(ctx, []Message{
			{RoleSystem, system},
			{RoleUser, user},
			{RoleAssistant, assistantOK},
			{RoleUser, chunk},
		}, func(s string) bool { return float64(estimateTokens(s)) >= target }, estimateTokens, 150)
		if out == "" {
			if w.FailOnError {
				return "", fmt.Errorf("ai rewrite failed on part %d/%d", i+1, len(chunks))
			}
			w.log.Warnf("ai: rewrite of part %d/%d failed, keeping the original", i+1, len(chunks))
			out = chunk
		}
		rewritten = append(rewritten, out)
	}

	joined := strings.Join(rewritten, " ")
	target := estimateTokens(joined)
	final := w.converse(ctx, []Message{
		{RoleSystem, "The user will present you with a story. You must output the same story with any issues fixed, " +
			"and possibly expand the story to be longer. Your goal is to output a story that can be read to an audience. " +
			"This story must make sense and have a lot of cliffhangers, to keep the audience interested. Keep the same " +
			"story details and possibly add more. " + avoidWords + " Make your story about 5 minutes in spoken length."},
		{RoleUser, "I have a story for you to review. Your output will be published, so make sure to only output the story. " +
			"Do NOT include any extra information in your response besides the story."},
		{RoleAssistant, assistantOK},
		{RoleUser, joined},
	}, func(s string) bool { return estimateTokens(s) >= target }, estimateTokens, 150)
	if final == "" {
		return joined, nil
	}
	return final, nil
}

// GenerateStory writes a new story from prompt, then titles it.
func (w *Writer) GenerateStory(ctx context.Context, prompt string) (title, content string, err error) {
	runeLen := func(s string) int { return len([]rune(s)) }
	content = w.converse(ctx, []Message{
		{RoleSystem, fmt.Sprintf("The user will present you with an idea for a story. You must create a story for that idea. "+
			"Your goal is to output a story that can be read to an audience. Make sure the first sentence is very attention "+
			"grabbing, as most viewers lose interest after 10 seconds. This story must make sense and have a lot of "+
			"cliffhangers, to keep the audience interested. %s Make your story about %d characters long.", avoidWords, w.DesiredLength)},
		{RoleUser, "I have a story idea for you to write. Your output will be published, so make sure to only output the story. " +
			"Do NOT include any extra information in your response besides the story."},
		{RoleAssistant, "Sure! What is the story idea?"},
		{RoleUser, prompt},
	}, func(s string) bool { return runeLen(s) >= w.DesiredLength }, runeLen, 150)
	if content == "" {
		return "", "", errors.New("ai failed to create a story")
	}
	if runeLen(content) < w.MinLength {
		return "", "", fmt.Errorf("ai failed to generate a story of at least %d characters", w.MinLength)
	}

	title = w.converse(ctx, []Message{
		{RoleSystem, "The user will present you with a story. You must create an attention grabbing title for that story. " +
			"Your goal is to output a title that can be read to an audience. Make sure the title is very attention grabbing, " +
			"as most viewers lose interest after 10 seconds. This title should get the audience interested. " + avoidWords},
		{RoleUser, "I have a story for you to title. Your output will be published, so make sure to only output the title. " +
			"Do NOT include any extra information in your response besides the title."},
		{RoleAssistant, assistantOK},
		{RoleUser, content},
	}, func(s string) bool { return runeLen(s) >= 5 }, runeLen, 5)
	if title == "" {
		return "", "", errors.New("ai failed to title the story")
	}
	return strings.Trim(strings.TrimSpace(title), `"`), content, nil
}

// converse asks repeatedly until done reports true or the retries run out.
// An answer is kept only if it is valid and bigger than the previous one, in
// which case the model is asked to expand it.
func (w *Writer) converse(ctx context.Context, history []Message, done func(string) bool, size func(string) int, minLength int) string {
	best := ""
	for attempt := 0; attempt <= w.Retries && !done(best); attempt++ {
		reply, err := retry.DoValue(ctx, w.Policy, func(ctx context.Context) (string, error) {
			return w.chat.Chat(ctx, history)
		})
		if err != nil {
			w.log.Warnf("ai: chat attempt %d: %v", attempt+1, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}
		reply = strings.TrimSpace(removeAIExtras(reply))
		if size(reply) > size(best) && isValidAIResponse(reply, minLength) {
			best = reply
			history = append(history, Message{RoleAssistant, best}, Message{RoleUser, followUp})
		}
	}
	return best
}

// chunkByTokens groups sentences until a group's estimated tokens, including
// the prompt overhead in base, reach max.
func chunkByTokens(parts []string, base, max int) []string {
	var out []string
	for len(parts) > 0 {
		tokens := base
		var group []string
		for tokens < max && len(parts) > 0 {
			tokens += estimateTokens(parts[0])
			group = append(group, parts[0])
			parts = parts[1:]
		}
		if len(group) == 0 {
			group, parts = parts[:1], parts[1:]
		}
		out = append(out, strings.Join(group, " "))
	}
	return out
}

// estimateTokens uses the ~4 characters per token rule of thumb.
func estimateTokens(s string) int {
	n := len([]rune(s))
	return (n + 3) / 4
}

// removeAIExtras drops a leading "Here is the story:" style line.
func removeAIExtras(s string) string {
	lines := strings.Split(s, "\n")
	first := strings.ToLower(strings.TrimSpace(lines[0]))
	if (strings.Contains(first, "here") && strings.HasSuffix(first, "story:")) || strings.HasSuffix(first, "title:") {
		return strings.Join(lines[1:], "\n")
	}
	return s
}

var refusals = []string{"i can't", "i cannot", "i can not", "sorry", "i'm sorry", "i am sorry", "i apologize"}

func isValidAIResponse(s string, minLength int) bool {
	lower := strings.ToLower(s)
	for _, r := range refusals {
		if strings.HasPrefix(lower, r) {
			return false
		}
	}
	return len([]rune(lower)) > minLength
}
