// Package video is the render pipeline: it turns a story into narrated,
// captioned segments, fits the background media around them and composes the
// final file.
package video

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"story-video-gen/internal"
	"story-video-gen/internal/ai"
	"story-video-gen/internal/cache"
	"story-video-gen/internal/caption"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/media"
	"story-video-gen/internal/model"
	"story-video-gen/internal/progress"
	"story-video-gen/internal/retry"
	"story-video-gen/internal/s3"
	"story-video-gen/internal/sources"
	"story-video-gen/internal/text"
	"story-video-gen/internal/tts"
)

// Rewriter rewrites story content before it is narrated.
type Rewriter interface {
	Rewrite(ctx context.Context, content string) (string, error)
}

// Deps are the collaborators of one Generator. Runner, Source, Images, TTS
// and Media are required.
type Deps struct {
	Dirs     cache.Dirs
	Runner   *ffmpeg.Runner
	Prober   ffmpeg.Prober
	Source   sources.Source
	Rewriter Rewriter
	Images   ImageRenderer
	TTS      tts.Provider
	Media    media.Downloader
	Reporter progress.Reporter
	Log      *logging.Logger
}

// Result describes one finished render.
type Result struct {
	Output   string
	Story    model.Story
	Timeline model.Timeline
	Elapsed  time.Duration
}

type Generator struct {
	cfg      internal.Config
	dirs     cache.Dirs
	source   sources.Source
	rewriter Rewriter
	images   ImageRenderer
	splitter text.Splitter
	log      *logging.Logger

	segments   *SegmentRenderer
	assembler  *Assembler
	background *Background
	composer   *Composer

	Policy retry.Policy
}

func New(cfg internal.Config, d Deps) (*Generator, error) {
	if d.Runner == nil || d.Source == nil || d.Images == nil || d.TTS == nil || d.Media == nil {
		return nil, errors.New("video: runner, source, images, tts and media are required")
	}
	if cfg.Story.AIRewrite && d.Rewriter == nil {
		return nil, errors.New("video: ai_rewrite is set but no rewriter was given")
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.Reporter == nil {
		d.Reporter = progress.Nop{}
	}
	splitter, err := text.NewSplitter(cfg.Captions.NLPSplitter)
	if err != nil {
		return nil, err
	}
	if err := d.Dirs.Ensure(); err != nil {
		return nil, err
	}

	oracle := ffmpeg.NewOracle(d.Runner, d.Prober, d.Log)
	fp := cfg.Fingerprint()
	accurate := cfg.Video.AccurateRenderMethod
	segments := &SegmentRenderer{
		runner:      d.Runner,
		oracle:      oracle,
		images:      d.Images,
		tts:         d.TTS,
		log:         d.Log,
		fingerprint: fp,
		captionsDir: d.Dirs.Captions,
		ttsDir:      d.Dirs.TTS,
		textOnly:    text.NewReplacer(cfg.Replacements.TextOnly),
		audioOnly:   text.NewReplacer(cfg.Replacements.AudioOnly),
		speed:       cfg.TTS.Speed,
		volume:      cfg.TTS.Volume,
		accurate:    accurate,
		Policy:      retry.Default(),
	}
	return &Generator{
		cfg:      cfg,
		dirs:     d.Dirs,
		source:   d.Source,
		rewriter: d.Rewriter,
		images:   d.Images,
		splitter: splitter,
		log:      d.Log,
		segments: segments,
		assembler: &Assembler{
			segments:     segments,
			runner:       d.Runner,
			oracle:       oracle,
			images:       d.Images,
			reporter:     d.Reporter,
			log:          d.Log,
			fingerprint:  fp,
			ttsDir:       d.Dirs.TTS,
			extraSilence: cfg.TTS.ExtraSilence,
			accurate:     accurate,
			demux:        cfg.TTS.DemuxConcat,
			audioBitrate: cfg.Audio.Bitrate,
			videoBitrate: cfg.Video.Bitrate,
		},
		background: &Background{
			media:      d.Media,
			runner:     d.Runner,
			oracle:     oracle,
			log:        d.Log,
			videoDir:   d.Dirs.BgVideo,
			audioDir:   d.Dirs.BgAudio,
			randInt63n: cryptoInt63n,
		},
		composer: &Composer{runner: d.Runner, video: cfg.Video, audio: cfg.Audio},
		Policy:   retry.Default(),
	}, nil
}

// SetRetryPolicy replaces the backoff used for network-bound steps.
func (g *Generator) SetRetryPolicy(p retry.Policy) {
	g.Policy = p
	g.segments.Policy = p
}

// Generate renders one video and returns the output path.
func (g *Generator) Generate(ctx context.Context) (string, error) {
	res, err := g.Run(ctx)
	return res.Output, err
}

// Run is Generate with the intermediate results kept.
func (g *Generator) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	var res Result

	videoFile, err := g.background.Video(ctx, g.cfg.Video.URL, g.cfg.Video.Speed, g.cfg.Video.Volume)
	if err != nil {
		return res, err
	}
	audioFile, err := g.background.Audio(ctx, g.cfg.Audio.URL, g.cfg.Audio.Speed, g.cfg.Audio.Volume)
	if err != nil {
		return res, err
	}

	story, err := g.story(ctx)
	if err != nil {
		return res, err
	}
	res.Story = story
	g.log.Infof("video: story %s %q (%d chars)", story.ID, story.Title, len(story.Content))

	sentences := g.splitter.Split(strings.Join(strings.Fields(story.Content), " "))
	tl, err := g.assembler.Assemble(ctx, story.Title, story.TitleImage, sentences)
	if err != nil {
		return res, err
	}
	res.Timeline = tl
	g.log.Infof("🎥 Video will be %s long!", time.Duration(tl.TotalDuration*float64(time.Second)).Round(time.Millisecond))

	bgVideo, err := g.background.Fit(ctx, videoFile, FitOptions{
		Kind: "video", Loop: g.cfg.Video.Loop, Trim: TrimMethod(g.cfg.Video.TrimMethod), Total: tl.TotalDuration,
	})
	if err != nil {
		return res, err
	}
	bgAudio, err := g.background.Fit(ctx, audioFile, FitOptions{
		Kind: "audio", Loop: g.cfg.Audio.Loop, Trim: TrimMethod(g.cfg.Audio.TrimMethod), Total: tl.TotalDuration,
	})
	if err != nil {
		return res, err
	}

	out := filepath.Join(g.dirs.Output, text.OutputName(story.Title, g.cfg.Video.OutputFormat))
	err = g.composer.Compose(ctx, ComposeInput{
		Timeline:    tl,
		Video:       bgVideo,
		Audio:       bgAudio,
		Output:      out,
		Accurate:    g.cfg.Video.AccurateRenderMethod,
		Autocorrect: g.cfg.Video.AutocorrectTTSDuration,
	})
	if err != nil {
		return res, err
	}
	res.Output = out

	if err := g.source.MarkComplete(story.ID); err != nil {
		g.log.Errorf("video: mark story %s complete: %v", story.ID, err)
	}
	g.cleanup()
	res.Elapsed = time.Since(started)
	g.log.Infof("🎉 render finished in %s: %s", res.Elapsed.Round(time.Millisecond), out)
	return res, nil
}

// story fetches, rewrites and applies the text-and-audio rules.
func (g *Generator) story(ctx context.Context) (model.Story, error) {
	s, err := g.source.Story(ctx)
	if err != nil {
		return s, fmt.Errorf("story: %w", err)
	}
	if g.cfg.Story.AIRewrite {
		g.log.Infof("video: rewriting story %s", s.ID)
		rewritten, err := g.rewriter.Rewrite(ctx, s.Content)
		if err != nil {
			return s, fmt.Errorf("rewrite story: %w", err)
		}
		s.Content = rewritten
	}
	both := text.NewReplacer(g.cfg.Replacements.TextAndAudio)
	s.Title = both.Replace(s.Title)
	s.Content = both.Replace(s.Content)

	if s.TitleImage == "" && g.cfg.Story.ScreenshotTitle() {
		if shooter, ok := g.source.(sources.TitleShooter); ok {
			img, err := g.titleScreenshot(ctx, shooter, s)
			if err != nil {
				return s, err
			}
			s.TitleImage = img
		}
	}
	return s, nil
}

func (g *Generator) titleScreenshot(ctx context.Context, shooter sources.TitleShooter, s model.Story) (string, error) {
	st := g.cfg.Story
	path := cache.PathFor(cache.DeriveKey(g.cfg.Fingerprint(), "screenshot", s.ID,
		st.RedditScreenshotTitleTheme, ffmpeg.FormatSeconds(st.RedditScreenshotTitleZoom)), g.dirs.Captions, ".png")
	if cache.ExistsNonEmpty(path) {
		return path, nil
	}
	raw, err := retry.DoValue(ctx, g.Policy, func(ctx context.Context) ([]byte, error) {
		return shooter.TitleScreenshot(ctx, s)
	})
	if err != nil {
		return "", fmt.Errorf("title screenshot: %w", err)
	}
	fitted, err := g.images.Resize(raw)
	if err != nil {
		return "", err
	}
	return path, cache.WriteFile(path, fitted)
}

func (g *Generator) cleanup() {
	c := g.cfg.Cleanup
	for _, d := range []struct {
		on  bool
		dir string
	}{
		{c.BackgroundAudio, g.dirs.BgAudio},
		{c.BackgroundVideo, g.dirs.BgVideo},
		{c.TTS, g.dirs.TTS},
		{c.Captions, g.dirs.Captions},
	} {
		if !d.on {
			continue
		}
		if err := cache.Clean(d.dir); err != nil {
			g.log.Warnf("video: cleanup %s: %v", d.dir, err)
		}
	}
}

// Env is the process-wide plumbing shared by every job.
type Env struct {
	Dirs       cache.Dirs
	Runner     *ffmpeg.Runner
	S3         s3.Client
	HTTPClient *http.Client
	Reporter   progress.Reporter
	Log        *logging.Logger
}

const (
	apiTimeout = 10 * time.Second
	// A rewrite chunk is about a thousand tokens of completion.
	llmTimeout = 2 * time.Minute
)

// httpClients derives the per-request bounded clients from hc. Media
// transfers use hc as given.
func httpClients(hc *http.Client) (api, llm *http.Client) {
	if hc == nil {
		hc = &http.Client{}
	}
	api = &http.Client{Transport: hc.Transport, Timeout: apiTimeout}
	llm = &http.Client{Transport: hc.Transport, Timeout: llmTimeout}
	return api, llm
}

// NewFromConfig wires the real providers for cfg.
func NewFromConfig(ctx context.Context, cfg internal.Config, env Env) (*Generator, error) {
	hc := env.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	api, llm := httpClients(hc)
	log := env.Log
	if log == nil {
		log = logging.Nop()
	}
	if err := env.Dirs.Ensure(); err != nil {
		return nil, err
	}

	splitter, err := text.NewSplitter(cfg.Captions.NLPSplitter)
	if err != nil {
		return nil, err
	}
	sd := sources.Deps{Dirs: env.Dirs, HTTPClient: api, Log: log}
	var rewriter Rewriter
	if cfg.Story.Source == "ai" || cfg.Story.AIRewrite {
		w, err := ai.New(ctx, cfg.Story, splitter, llm, log)
		if err != nil {
			return nil, err
		}
		sd.Writer = w
		rewriter = w
	}
	src, err := sources.New(ctx, cfg.Story, sd)
	if err != nil {
		return nil, err
	}

	cp := cfg.Captions
	images, err := caption.New(caption.Style{
		Width:         cfg.Video.Width,
		Height:        cfg.Video.Height,
		PaddingWidth:  cp.Padding.Width,
		PaddingHeight: cp.Padding.Height,
		BetweenLines:  cp.Padding.BetweenLines,
		Background:    cp.Background,
		Color:         cp.Color,
		StrokeColor:   cp.StrokeColor,
		StrokeWidth:   cp.StrokeWidth,
		Font:          cp.Font,
		FontSize:      cp.FontSize,
		FontsDir:      env.Dirs.Fonts,
	}, log)
	if err != nil {
		return nil, err
	}
	narrator, err := tts.New(cfg.TTS, tts.Deps{
		Runner:       env.Runner,
		TmpDir:       env.Dirs.TTS,
		AudioBitrate: cfg.Audio.Bitrate,
		HTTPClient:   api,
	})
	if err != nil {
		return nil, err
	}
	fetcher := media.New(media.Deps{
		HTTPClient: hc,
		Runner:     env.Runner,
		S3:         env.S3,
		Reporter:   env.Reporter,
		Log:        log,
	})

	return New(cfg, Deps{
		Dirs:     env.Dirs,
		Runner:   env.Runner,
		Source:   src,
		Rewriter: rewriter,
		Images:   images,
		TTS:      narrator,
		Media:    fetcher,
		Reporter: env.Reporter,
		Log:      log,
	})
}
