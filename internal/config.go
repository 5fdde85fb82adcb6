package internal

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"story-video-gen/internal/cache"
)

// Config is one render job, read from a YAML or JSON file.
type Config struct {
	Story        StoryConfig    `yaml:"story"`
	Video        VideoConfig    `yaml:"video"`
	Audio        AudioConfig    `yaml:"audio"`
	TTS          TTSConfig      `yaml:"tts"`
	Captions     CaptionsConfig `yaml:"captions"`
	Replacements Replacements   `yaml:"replacements"`
	Cleanup      CleanupConfig  `yaml:"cleanup"`
	Publish      PublishConfig  `yaml:"publish"`
}

type StoryConfig struct {
	Source string `yaml:"source"`
	AIType string `yaml:"ai_type"`

	OpenAIAPIKey                  string  `yaml:"openai_api_key"`
	OpenAIAPIBase                 string  `yaml:"openai_api_base"`
	OpenAIModel                   string  `yaml:"openai_model"`
	GeminiAPIKey                  string  `yaml:"gemini_api_key"`
	GeminiModel                   string  `yaml:"gemini_model"`
	OpenAIRetries                 int     `yaml:"openai_retries"`
	OpenAIRewriteRetryFailOnError bool    `yaml:"openai_rewrite_retry_fail_on_error"`
	OpenAIRewriteChunkMaxTokens   int     `yaml:"openai_rewrite_chunk_max_tokens"`
	OpenAIRewriteLength           float64 `yaml:"openai_rewrite_length"`
	OpenAINewStoryPrompt          string  `yaml:"openai_new_story_prompt"`
	OpenAINewStoryDesiredLength   int     `yaml:"openai_new_story_desired_length"`
	OpenAINewStoryMinLength       int     `yaml:"openai_new_story_min_length"`
	AIRewrite                     bool    `yaml:"ai_rewrite"`

	RedditPostID               string  `yaml:"reddit_post_id"`
	RedditClientID             string  `yaml:"reddit_client_id"`
	RedditClientSecret         string  `yaml:"reddit_client_secret"`
	RedditUserAgent            string  `yaml:"reddit_user_agent"`
	RedditRefreshToken         string  `yaml:"reddit_refresh_token"`
	RedditUsername             string  `yaml:"reddit_username"`
	RedditPassword             string  `yaml:"reddit_password"`
	RedditScreenshotTitle      *bool   `yaml:"reddit_screenshot_title"`
	RedditScreenshotTitleTheme string  `yaml:"reddit_screenshot_title_theme"`
	RedditScreenshotTitleZoom  float64 `yaml:"reddit_screenshot_title_zoom"`

	RedditRandom            bool     `yaml:"reddit_random"`
	RedditRandomLimit       int      `yaml:"reddit_random_limit"`
	RedditRandomSubreddits  []string `yaml:"reddit_random_subreddits"`
	RedditRandomMinComments int      `yaml:"reddit_random_min_comments"`
	RedditRandomMinLength   int      `yaml:"reddit_random_min_length"`
	RedditRandomMaxLength   int      `yaml:"reddit_random_max_length"` // 0 = unlimited
	RedditRandomAllowNSFW   bool     `yaml:"reddit_random_allow_nsfw"`
}

// ScreenshotTitle reports whether the reddit title segment uses a screenshot.
func (s StoryConfig) ScreenshotTitle() bool {
	return s.Source == "reddit" && s.RedditScreenshotTitle != nil && *s.RedditScreenshotTitle
}

type VideoConfig struct {
	URL                    string  `yaml:"url"`
	Speed                  float64 `yaml:"speed"`
	Volume                 float64 `yaml:"volume"`
	ResizeMethod           string  `yaml:"resize_method"`
	CropStyleWidth         string  `yaml:"crop_style_width"`
	CropStyleHeight        string  `yaml:"crop_style_height"`
	ScalePad               bool    `yaml:"scale_pad"`
	ScalePadColor          string  `yaml:"scale_pad_color"`
	TrimMethod             string  `yaml:"trim_method"`
	Loop                   bool    `yaml:"loop"`
	Width                  int     `yaml:"width"`
	Height                 int     `yaml:"height"`
	Bitrate                int     `yaml:"bitrate"` // kbit/s
	AutocorrectTTSDuration bool    `yaml:"autocorrect_tts_duration"`
	AccurateRenderMethod   bool    `yaml:"accurate_render_method"`
	OutputFormat           string  `yaml:"output_format"`
}

type AudioConfig struct {
	URL        string  `yaml:"url"`
	Speed      float64 `yaml:"speed"`
	Volume     float64 `yaml:"volume"`
	Loop       bool    `yaml:"loop"`
	TrimMethod string  `yaml:"trim_method"`
	Bitrate    int     `yaml:"bitrate"` // kbit/s, 0 until defaults are applied
}

type TTSConfig struct {
	Source          string  `yaml:"source"`
	Voice           string  `yaml:"voice"`
	Speed           float64 `yaml:"speed"`
	Volume          float64 `yaml:"volume"`
	DemuxConcat     bool    `yaml:"demux_concat"`
	ExtraSilence    float64 `yaml:"extra_silence"`
	TikTokSessionID string  `yaml:"tiktok_session_id"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	OpenAIAPIBase   string  `yaml:"openai_api_base"`
	OpenAIModel     string  `yaml:"openai_model"`
	OpenAITTSRPM    int     `yaml:"openai_tts_rpm"`
}

type CaptionsConfig struct {
	NLPSplitter string `yaml:"nlp_splitter"`
	Padding     struct {
		Height       int `yaml:"height"`
		BetweenLines int `yaml:"between_lines"`
		Width        int `yaml:"width"`
	} `yaml:"padding"`
	Background  string  `yaml:"background"`
	Color       string  `yaml:"color"`
	StrokeColor string  `yaml:"stroke_color"`
	StrokeWidth float64 `yaml:"stroke_width"`
	Font        string  `yaml:"font"`
	FontSize    float64 `yaml:"font_size"`
}

// Replacements holds [from, to] word pairs.
type Replacements struct {
	TextAndAudio [][]string `yaml:"text-and-audio"`
	TextOnly     [][]string `yaml:"text-only"`
	AudioOnly    [][]string `yaml:"audio-only"`
}

type CleanupConfig struct {
	BackgroundAudio bool `yaml:"background_audio"`
	BackgroundVideo bool `yaml:"background_video"`
	TTS             bool `yaml:"tts"`
	Captions        bool `yaml:"captions"`
}

type PublishConfig struct {
	Platforms   []string `yaml:"platforms"`
	Privacy     string   `yaml:"privacy"`
	Tags        []string `yaml:"tags"`
	Description string   `yaml:"description"`
}

var (
	trimMethods      = []string{"keep_start", "keep_end", "random"}
	audioBitrates    = []int{8, 16, 24, 32, 40, 48, 64, 80, 96, 112, 128, 160, 192, 224, 256}
	openAIVoices     = []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"}
	publishPlatforms = []string{"youtube", "telegram", "s3"}
)

// DefaultConfig returns a config with every default that does not depend on
// another field. Decoding a file on top of it keeps the defaults for absent keys.
func DefaultConfig() Config {
	var c Config

	c.Story.AIType = "openai"
	c.Story.OpenAIAPIBase = "https://api.openai.com/v1"
	c.Story.OpenAIModel = "gpt-3.5-turbo-16k"
	c.Story.GeminiModel = "gemini-2.0-flash"
	c.Story.OpenAIRetries = 5
	c.Story.OpenAIRewriteRetryFailOnError = true
	c.Story.OpenAIRewriteChunkMaxTokens = 1000
	c.Story.OpenAIRewriteLength = 1
	c.Story.OpenAINewStoryDesiredLength = 500
	c.Story.OpenAINewStoryMinLength = 10
	c.Story.RedditUserAgent = "story-video-gen"
	c.Story.RedditScreenshotTitleTheme = "dark"
	c.Story.RedditScreenshotTitleZoom = 2
	c.Story.RedditRandom = true
	c.Story.RedditRandomLimit = 50
	c.Story.RedditRandomMinLength = 30

	c.Video.Speed = 1
	c.Video.Volume = 0
	c.Video.ResizeMethod = "crop"
	c.Video.CropStyleWidth = "center"
	c.Video.CropStyleHeight = "center"
	c.Video.ScalePad = true
	c.Video.ScalePadColor = "black"
	c.Video.TrimMethod = "random"
	c.Video.Loop = true
	c.Video.Width = 1080
	c.Video.Height = 1920
	c.Video.Bitrate = 25000
	c.Video.AutocorrectTTSDuration = true
	c.Video.AccurateRenderMethod = true
	c.Video.OutputFormat = "mp4"

	c.Audio.Speed = 1
	c.Audio.Volume = 0.15
	c.Audio.Loop = true
	c.Audio.TrimMethod = "keep_start"

	c.TTS.Source = "google-translate"
	c.TTS.Speed = 1
	c.TTS.Volume = 1
	c.TTS.DemuxConcat = true
	c.TTS.ExtraSilence = 0.3
	c.TTS.OpenAIAPIBase = "https://api.openai.com/v1"
	c.TTS.OpenAIModel = "tts-1"

	c.Captions.NLPSplitter = "rules"
	c.Captions.Padding.Height = 200
	c.Captions.Padding.BetweenLines = 10
	c.Captions.Padding.Width = 200
	c.Captions.Background = "rgba(0, 0, 0, 0)"
	c.Captions.Color = "white"
	c.Captions.StrokeColor = "black"
	c.Captions.StrokeWidth = 5
	c.Captions.Font = "Roboto-Regular"
	c.Captions.FontSize = 50

	c.Cleanup.TTS = true
	c.Cleanup.Captions = true

	c.Publish.Privacy = "public"
	return c
}

// LoadConfig reads, defaults and validates a job config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%q does not exist", path)
		}
		return Config{}, err
	}
	cfg, err := ParseConfig(b)
	if err != nil {
		return cfg, fmt.Errorf("%q: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig accepts YAML or JSON.
func ParseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("invalid config document: %w", err)
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv fills empty secrets from the environment.
func (c *Config) ApplyEnv() {
	c.Story.OpenAIAPIKey = firstNonEmpty(c.Story.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	c.Story.GeminiAPIKey = firstNonEmpty(c.Story.GeminiAPIKey, os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))
	c.Story.RedditClientID = firstNonEmpty(c.Story.RedditClientID, os.Getenv("REDDIT_CLIENT_ID"))
	c.Story.RedditClientSecret = firstNonEmpty(c.Story.RedditClientSecret, os.Getenv("REDDIT_CLIENT_SECRET"))
	c.Story.RedditUsername = firstNonEmpty(c.Story.RedditUsername, os.Getenv("REDDIT_USERNAME"))
	c.Story.RedditPassword = firstNonEmpty(c.Story.RedditPassword, os.Getenv("REDDIT_PASSWORD"))
	c.Story.RedditRefreshToken = firstNonEmpty(c.Story.RedditRefreshToken, os.Getenv("REDDIT_REFRESH_TOKEN"))
	c.TTS.OpenAIAPIKey = firstNonEmpty(c.TTS.OpenAIAPIKey, os.Getenv("OPENAI_API_KEY"))
	c.TTS.TikTokSessionID = firstNonEmpty(c.TTS.TikTokSessionID, os.Getenv("TIKTOK_SESSION_ID"))
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		c.Story.OpenAIAPIBase = base
		c.TTS.OpenAIAPIBase = base
	}
}

// ApplyDefaults fills defaults that depend on other fields.
func (c *Config) ApplyDefaults() {
	if c.Audio.Bitrate == 0 {
		c.Audio.Bitrate = 256
		if !c.Video.AccurateRenderMethod {
			c.Audio.Bitrate = 320
		}
	}
	if c.TTS.Voice == "" {
		switch c.TTS.Source {
		case "tiktok":
			c.TTS.Voice = "en_male_narration"
		case "openai":
			c.TTS.Voice = "alloy"
		default:
			c.TTS.Voice = "en"
		}
	}
	if c.TTS.OpenAITTSRPM == 0 {
		c.TTS.OpenAITTSRPM = 50
		if c.TTS.OpenAIModel == "tts-1-hd" {
			c.TTS.OpenAITTSRPM = 3
		}
	}
	if c.Story.RedditScreenshotTitle == nil {
		v := !c.Story.AIRewrite
		c.Story.RedditScreenshotTitle = &v
	}
}

// ValidationError lists every violation found in a config.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config had the following issues:\n" + strings.Join(e.Issues, "\n")
}

// Validate reports all violations at once.
func (c Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}
	oneOf := func(field, v string, allowed []string) {
		if !slices.Contains(allowed, v) {
			add("%s must be one of %v, got %q", field, allowed, v)
		}
	}
	between := func(field string, v, lo, hi float64) {
		if v < lo || v > hi {
			add("%s must be between %g and %g, got %g", field, lo, hi, v)
		}
	}

	s := c.Story
	oneOf("story.source", s.Source, []string{"reddit", "ai"})
	oneOf("story.ai_type", s.AIType, []string{"openai", "gemini"})
	if s.Source == "ai" || s.AIRewrite {
		switch s.AIType {
		case "openai":
			if s.OpenAIAPIKey == "" {
				add("story.openai_api_key is required")
			}
			if s.OpenAIModel == "" {
				add("story.openai_model is required")
			}
		case "gemini":
			if s.GeminiAPIKey == "" {
				add("story.gemini_api_key is required")
			}
		}
		if s.OpenAIRetries < 0 {
			add("story.openai_retries must be >= 0")
		}
	}
	if s.Source == "ai" && strings.TrimSpace(s.OpenAINewStoryPrompt) == "" {
		add("story.openai_new_story_prompt is required")
	}
	if s.Source == "reddit" {
		if s.RedditClientID == "" {
			add("story.reddit_client_id is required")
		}
		if s.RedditClientSecret == "" {
			add("story.reddit_client_secret is required")
		}
		if s.RedditRefreshToken == "" && (s.RedditUsername == "" || s.RedditPassword == "") {
			add("story.reddit_refresh_token OR (story.reddit_username AND story.reddit_password) is required")
		}
		if s.RedditPostID == "" && !s.RedditRandom {
			add("story.reddit_post_id OR story.reddit_random is required")
		}
		if s.RedditPostID == "" && s.RedditRandom {
			if len(s.RedditRandomSubreddits) == 0 {
				add("story.reddit_random_subreddits must have at least 1 entry")
			}
			if s.RedditRandomLimit <= 0 {
				add("story.reddit_random_limit must be > 0")
			}
			if s.RedditRandomMaxLength > 0 && s.RedditRandomMaxLength < s.RedditRandomMinLength {
				add("story.reddit_random_max_length must be >= story.reddit_random_min_length")
			}
		}
		if s.ScreenshotTitle() {
			oneOf("story.reddit_screenshot_title_theme", s.RedditScreenshotTitleTheme, []string{"dark", "light"})
			if s.RedditScreenshotTitleZoom <= 0 {
				add("story.reddit_screenshot_title_zoom must be > 0")
			}
		}
	}

	v := c.Video
	if v.URL == "" {
		add("video.url is required")
	}
	between("video.speed", v.Speed, 0.5, 100)
	between("video.volume", v.Volume, 0, 1)
	oneOf("video.resize_method", v.ResizeMethod, []string{"crop", "scale"})
	oneOf("video.crop_style_width", v.CropStyleWidth, []string{"left", "center", "right"})
	oneOf("video.crop_style_height", v.CropStyleHeight, []string{"top", "center", "bottom"})
	oneOf("video.trim_method", v.TrimMethod, trimMethods)
	oneOf("video.output_format", v.OutputFormat, []string{"mp4", "webm"})
	if v.Width < 1 {
		add("video.width must be >= 1")
	}
	if v.Height < 1 {
		add("video.height must be >= 1")
	}
	if v.Bitrate <= 0 {
		add("video.bitrate must be > 0")
	}

	a := c.Audio
	if a.URL == "" {
		add("audio.url is required")
	}
	between("audio.speed", a.Speed, 0.5, 100)
	between("audio.volume", a.Volume, 0, 1)
	oneOf("audio.trim_method", a.TrimMethod, trimMethods)
	allowed := audioBitrates
	if !v.AccurateRenderMethod {
		allowed = append(slices.Clone(audioBitrates), 320)
	}
	if !slices.Contains(allowed, a.Bitrate) {
		add("audio.bitrate must be one of %v, got %d", allowed, a.Bitrate)
	}

	t := c.TTS
	oneOf("tts.source", t.Source, []string{"google-translate", "tiktok", "openai"})
	between("tts.speed", t.Speed, 0.5, 100)
	between("tts.volume", t.Volume, 0, 1)
	if t.ExtraSilence < 0 {
		add("tts.extra_silence must be >= 0")
	}
	switch t.Source {
	case "tiktok":
		if t.TikTokSessionID == "" {
			add("tts.tiktok_session_id is required")
		}
	case "openai":
		if t.OpenAIAPIKey == "" {
			add("tts.openai_api_key is required")
		}
		if t.OpenAIModel == "" {
			add("tts.openai_model is required")
		}
		oneOf("tts.voice", t.Voice, openAIVoices)
		if t.OpenAITTSRPM <= 0 {
			add("tts.openai_tts_rpm must be > 0")
		}
	}

	cp := c.Captions
	oneOf("captions.nlp_splitter", cp.NLPSplitter, []string{"rules"})
	if cp.FontSize <= 0 {
		add("captions.font_size must be > 0")
	}
	if cp.StrokeWidth < 0 {
		add("captions.stroke_width must be >= 0")
	}
	if cp.Padding.Width < 0 || cp.Padding.Height < 0 || cp.Padding.BetweenLines < 0 {
		add("captions.padding values must be >= 0")
	}
	if 2*cp.Padding.Width >= v.Width && v.Width > 0 {
		add("captions.padding.width leaves no room for text at video.width=%d", v.Width)
	}

	for name, rules := range map[string][][]string{
		"text-and-audio": c.Replacements.TextAndAudio,
		"text-only":      c.Replacements.TextOnly,
		"audio-only":     c.Replacements.AudioOnly,
	} {
		for i, pair := range rules {
			if len(pair) != 2 {
				add("replacements.%s[%d] must be a [from, to] pair", name, i)
			} else if pair[0] == "" {
				add("replacements.%s[%d] has an empty search word", name, i)
			}
		}
	}

	for _, p := range c.Publish.Platforms {
		oneOf("publish.platforms", p, publishPlatforms)
	}
	if c.Publish.Privacy != "" {
		oneOf("publish.privacy", c.Publish.Privacy, []string{"public", "unlisted", "private"})
	}

	if len(issues) > 0 {
		slices.Sort(issues)
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Fingerprint hashes every setting that changes segment artifacts. Bitrates,
// trim policies, cleanup and publish settings are not part of it.
func (c Config) Fingerprint() string {
	return cache.ParamsKey(struct {
		TTS          TTSConfig
		Captions     CaptionsConfig
		Width        int
		Height       int
		Accurate     bool
		Replacements Replacements
	}{
		TTS:          c.ttsFingerprint(),
		Captions:     c.Captions,
		Width:        c.Video.Width,
		Height:       c.Video.Height,
		Accurate:     c.Video.AccurateRenderMethod,
		Replacements: c.Replacements,
	})
}

// ttsFingerprint drops credentials and pacing from the tts section.
func (c Config) ttsFingerprint() TTSConfig {
	t := c.TTS
	t.OpenAIAPIKey = ""
	t.TikTokSessionID = ""
	t.OpenAIAPIBase = ""
	t.OpenAITTSRPM = 0
	t.DemuxConcat = false
	if t.Source != "openai" {
		t.OpenAIModel = ""
	}
	return t
}

// ServiceConfig drives the long-running `serve` mode and is read from env.
type ServiceConfig struct {
	HTTPAddr          string
	WorkDir           string
	DefaultConfigPath string
	ScheduleCron      string
	FFmpegConcurrency int

	TelegramToken string
	PostsChatID   int64

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	JobsJSONKey string
	OutputsKey  string

	YouTubeClientSecrets string
	YouTubeToken         string
}

func LoadServiceConfig() ServiceConfig {
	wd, _ := os.Getwd()
	cfg := ServiceConfig{
		HTTPAddr:          firstNonEmpty(os.Getenv("HTTP_ADDR"), ":8080"),
		WorkDir:           firstNonEmpty(os.Getenv("WORK_DIR"), wd),
		DefaultConfigPath: firstNonEmpty(os.Getenv("DEFAULT_CONFIG"), "config.json"),
		ScheduleCron:      os.Getenv("SCHEDULE_CRON"),
		FFmpegConcurrency: 1,

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    firstNonEmpty(os.Getenv("S3_REGION"), "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: firstNonEmpty(os.Getenv("S3_ACCESS_KEY"), os.Getenv("S3_ACCESS_KEY_ID")),
		S3SecretKey: firstNonEmpty(os.Getenv("S3_SECRET_ACCESS_KEY"), os.Getenv("S3_SECRET_ACCESS_KEY_ID")),
		JobsJSONKey: "jobs.json",
		OutputsKey:  "outputs/",

		YouTubeClientSecrets: os.Getenv("YOUTUBE_CLIENT_SECRETS"),
		YouTubeToken:         os.Getenv("YOUTUBE_TOKEN"),
	}

	if v := os.Getenv("FFMPEG_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FFmpegConcurrency = n
		}
	}
	if v := firstNonEmpty(os.Getenv("POSTS_CHAT_ID"), os.Getenv("POSTS_CHATID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.PostsChatID = n
		}
	}
	return cfg
}

// S3Enabled reports whether object storage settings are complete.
func (c ServiceConfig) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func firstNonEmpty(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}
