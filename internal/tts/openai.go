package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"story-video-gen/internal"
)

// OpenAI calls the audio speech endpoint, spaced to stay under RPM.
type OpenAI struct {
	client openai.Client
	model  string
	voice  string

	mu       sync.Mutex
	interval time.Duration
	next     time.Time
}

func NewOpenAI(cfg internal.TTSConfig, hc *http.Client) *OpenAI {
	// Retries happen in the caller's backoff policy, not in the SDK.
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey), option.WithHTTPClient(hc), option.WithMaxRetries(0)}
	if strings.TrimSpace(cfg.OpenAIAPIBase) != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIAPIBase))
	}
	rpm := cfg.OpenAITTSRPM
	if rpm <= 0 {
		rpm = 50
	}
	return &OpenAI{
		client:   openai.NewClient(opts...),
		model:    cfg.OpenAIModel,
		voice:    strings.TrimSuffix(cfg.Voice, "-hd"),
		interval: time.Minute / time.Duration(rpm),
	}
}

// wait blocks until the next request slot.
func (o *OpenAI) wait(ctx context.Context) error {
	o.mu.Lock()
	now := time.Now()
	slot := o.next
	if slot.Before(now) {
		slot = now
	}
	o.next = slot.Add(o.interval)
	o.mu.Unlock()

	d := time.Until(slot)
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *OpenAI) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := o.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := o.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(o.model),
		Voice:          openai.AudioSpeechNewParamsVoice(o.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: %w", err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("openai tts: empty audio")
	}
	return b, nil
}
