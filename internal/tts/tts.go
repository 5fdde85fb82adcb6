// Package tts turns text into narration audio. The provider is chosen once
// from the job config.
package tts

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"story-video-gen/internal"
	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/text"
)

// RequestTimeout bounds every provider HTTP call.
const RequestTimeout = 10 * time.Second

// Provider synthesizes one piece of text into mp3 bytes.
type Provider interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Deps carries what chunked providers need to stitch their parts together.
type Deps struct {
	Runner       *ffmpeg.Runner
	TmpDir       string
	AudioBitrate int
	HTTPClient   *http.Client
}

// New resolves cfg.Source into a Provider.
func New(cfg internal.TTSConfig, d Deps) (Provider, error) {
	hc := d.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: RequestTimeout}
	}
	switch cfg.Source {
	case "google-translate":
		g := &GoogleTranslate{Lang: cfg.Voice, client: hc}
		return newChunked(g.synthesizePart, 200, cfg.DemuxConcat, d), nil
	case "tiktok":
		t := &TikTok{Voice: cfg.Voice, SessionID: cfg.TikTokSessionID, client: hc}
		return newChunked(t.synthesizePart, 300, cfg.DemuxConcat, d), nil
	case "openai":
		return NewOpenAI(cfg, hc), nil
	default:
		return nil, fmt.Errorf("unknown tts source %q", cfg.Source)
	}
}

// chunked splits long text for backends with request size limits and joins
// the parts with the ffmpeg concat path.
type chunked struct {
	part  func(ctx context.Context, text string) ([]byte, error)
	max   int
	demux bool
	deps  Deps
}

func newChunked(part func(context.Context, string) ([]byte, error), max int, demux bool, d Deps) *chunked {
	return &chunked{part: part, max: max, demux: demux, deps: d}
}

func (c *chunked) Synthesize(ctx context.Context, s string) ([]byte, error) {
	parts := text.Chunk(s, c.max)
	if len(parts) == 0 {
		return nil, fmt.Errorf("tts: nothing to say")
	}
	if len(parts) == 1 {
		return c.part(ctx, parts[0])
	}
	if c.deps.Runner == nil {
		return nil, fmt.Errorf("tts: %d parts but no ffmpeg runner to join them", len(parts))
	}

	key := cache.DeriveKey(s)
	dir := c.deps.TmpDir
	if dir == "" {
		dir = os.TempDir()
	}
	var files []string
	defer func() {
		for _, f := range files {
			os.Remove(f)
		}
	}()
	for i, p := range parts {
		b, err := c.part(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("tts part %d/%d: %w", i+1, len(parts), err)
		}
		f := filepath.Join(dir, key+"-part-"+strconv.Itoa(i+1)+".mp3")
		if err := cache.WriteFile(f, b); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	combined := filepath.Join(dir, key+"-combined.mp3")
	defer os.Remove(combined)
	if _, err := c.deps.Runner.Concat(ctx, ffmpeg.ConcatOptions{
		Files:        files,
		Output:       combined,
		AudioBitrate: c.deps.AudioBitrate,
		Demuxer:      c.demux,
		Label:        "🎵 Combining TTS parts",
	}); err != nil {
		return nil, err
	}
	return os.ReadFile(combined)
}
