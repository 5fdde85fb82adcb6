package internal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
story:
  source: reddit
  reddit_post_id: abc123
  reddit_client_id: id
  reddit_client_secret: secret
  reddit_refresh_token: token
video:
  url: https://www.youtube.com/watch?v=xyz
audio:
  url: https://www.bensound.com/royalty-free-music/track/x
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY", "REDDIT_CLIENT_ID",
		"REDDIT_CLIENT_SECRET", "REDDIT_USERNAME", "REDDIT_PASSWORD", "REDDIT_REFRESH_TOKEN",
		"TIKTOK_SESSION_ID", "OPENAI_BASE_URL"} {
		t.Setenv(k, "")
	}
}

func mustParse(t *testing.T, doc string) Config {
	t.Helper()
	cfg, err := ParseConfig([]byte(doc))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	return cfg
}

func TestParseConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg := mustParse(t, validYAML)

	if cfg.Video.Width != 1080 || cfg.Video.Height != 1920 {
		t.Fatalf("video size = %dx%d", cfg.Video.Width, cfg.Video.Height)
	}
	if !cfg.Video.AccurateRenderMethod || cfg.Audio.Bitrate != 256 {
		t.Fatalf("accurate=%v bitrate=%d, want true/256", cfg.Video.AccurateRenderMethod, cfg.Audio.Bitrate)
	}
	if cfg.TTS.Voice != "en" {
		t.Fatalf("default google voice = %q", cfg.TTS.Voice)
	}
	if cfg.TTS.ExtraSilence != 0.3 {
		t.Fatalf("extra silence = %v", cfg.TTS.ExtraSilence)
	}
	if !cfg.Story.ScreenshotTitle() {
		t.Fatalf("screenshot title should default on without ai rewrite")
	}
}

func TestParseConfigJSON(t *testing.T) {
	clearEnv(t)
	doc := `{"story":{"source":"ai","openai_api_key":"k","openai_new_story_prompt":"a story about a cat"},
"video":{"url":"v.mp4","accurate_render_method":false},"audio":{"url":"a.mp3"},
"tts":{"source":"openai","openai_api_key":"k"}}`
	cfg := mustParse(t, doc)
	if cfg.Audio.Bitrate != 320 {
		t.Fatalf("non-accurate default bitrate = %d, want 320", cfg.Audio.Bitrate)
	}
	if cfg.TTS.Voice != "alloy" || cfg.TTS.OpenAITTSRPM != 50 {
		t.Fatalf("openai defaults voice=%q rpm=%d", cfg.TTS.Voice, cfg.TTS.OpenAITTSRPM)
	}
	if cfg.Story.ScreenshotTitle() {
		t.Fatalf("screenshot title only applies to reddit")
	}
}

func TestValidateReportsEveryIssue(t *testing.T) {
	clearEnv(t)
	doc := `
story:
  source: reddit
video:
  url: ""
  speed: 0.1
  trim_method: middle
audio:
  url: a.mp3
  volume: 2
tts:
  source: carrier-pigeon
`
	_, err := ParseConfig([]byte(doc))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	want := []string{
		"story.reddit_client_id",
		"story.reddit_client_secret",
		"story.reddit_refresh_token OR",
		"story.reddit_random_subreddits",
		"video.url is required",
		"video.speed",
		"video.trim_method",
		"audio.volume",
		"tts.source",
	}
	msg := verr.Error()
	if !strings.HasPrefix(msg, "config had the following issues:") {
		t.Fatalf("unexpected header: %q", msg)
	}
	for _, w := range want {
		if !strings.Contains(msg, w) {
			t.Errorf("missing issue %q in:\n%s", w, msg)
		}
	}
}

func TestValidateAccurateAudioBitrate(t *testing.T) {
	clearEnv(t)
	_, err := ParseConfig([]byte(validYAML + "  bitrate: 320\n"))
	if err == nil || !strings.Contains(err.Error(), "audio.bitrate") {
		t.Fatalf("320 kbit/s should be rejected in accurate mode, got %v", err)
	}
}

func TestEnvFillsSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDDIT_CLIENT_ID", "from-env")
	doc := strings.Replace(validYAML, "  reddit_client_id: id\n", "", 1)
	cfg := mustParse(t, doc)
	if cfg.Story.RedditClientID != "from-env" {
		t.Fatalf("client id = %q", cfg.Story.RedditClientID)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
}

func TestFingerprint(t *testing.T) {
	clearEnv(t)
	base := mustParse(t, validYAML)
	fp := base.Fingerprint()

	changed := map[string]func(c *Config){
		"voice":        func(c *Config) { c.TTS.Voice = "fr" },
		"tts speed":    func(c *Config) { c.TTS.Speed = 1.25 },
		"tts volume":   func(c *Config) { c.TTS.Volume = 0.5 },
		"accurate":     func(c *Config) { c.Video.AccurateRenderMethod = false },
		"replacements": func(c *Config) { c.Replacements.AudioOnly = [][]string{{"AITA", "am I the a-hole"}} },
		"font":         func(c *Config) { c.Captions.Font = "Other" },
	}
	for name, mut := range changed {
		t.Run(name, func(t *testing.T) {
			c := base
			mut(&c)
			if c.Fingerprint() == fp {
				t.Fatalf("changing %s did not change the fingerprint", name)
			}
		})
	}

	same := map[string]func(c *Config){
		"audio bitrate": func(c *Config) { c.Audio.Bitrate = 128 },
		"video bitrate": func(c *Config) { c.Video.Bitrate = 1000 },
		"trim":          func(c *Config) { c.Video.TrimMethod = "keep_end" },
		"demux":         func(c *Config) { c.TTS.DemuxConcat = false },
		"secret":        func(c *Config) { c.TTS.OpenAIAPIKey = "sk-other" },
	}
	for name, mut := range same {
		t.Run(name, func(t *testing.T) {
			c := base
			mut(&c)
			if c.Fingerprint() != fp {
				t.Fatalf("changing %s changed the fingerprint", name)
			}
		})
	}
}

func TestLoadServiceConfig(t *testing.T) {
	t.Setenv("FFMPEG_CONCURRENCY", "4")
	t.Setenv("POSTS_CHAT_ID", "-100123")
	t.Setenv("S3_BUCKET", "b")
	t.Setenv("S3_ACCESS_KEY", "a")
	t.Setenv("S3_SECRET_ACCESS_KEY", "s")
	cfg := LoadServiceConfig()
	if cfg.FFmpegConcurrency != 4 || cfg.PostsChatID != -100123 {
		t.Fatalf("concurrency=%d chat=%d", cfg.FFmpegConcurrency, cfg.PostsChatID)
	}
	if !cfg.S3Enabled() {
		t.Fatalf("S3 should be enabled")
	}
}
