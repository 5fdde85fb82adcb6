package video

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/retry"
	"story-video-gen/internal/text"
	"story-video-gen/internal/tts"
)

// ImageRenderer draws caption cards and fits screenshots into the frame.
type ImageRenderer interface {
	Render(ctx context.Context, text string) ([]byte, error)
	Resize(png []byte) ([]byte, error)
}

// SegmentRenderer turns one piece of narration text into its caption image,
// narration audio and measured duration. Every artifact is cached by key.
type SegmentRenderer struct {
	runner *ffmpeg.Runner
	oracle *ffmpeg.Oracle
	images ImageRenderer
	tts    tts.Provider
	log    *logging.Logger

	fingerprint string
	captionsDir string
	ttsDir      string
	textOnly    *text.Replacer
	audioOnly   *text.Replacer
	speed       float64
	volume      float64
	accurate    bool

	Policy retry.Policy
}

func (s *SegmentRenderer) Key(txt string) string {
	return cache.DeriveKey(s.fingerprint, txt)
}

// Render produces the segment for txt. A non-empty override is used as the
// caption image as-is.
func (s *SegmentRenderer) Render(ctx context.Context, txt, override string) (model.Segment, error) {
	key := s.Key(txt)
	seg := model.Segment{
		Text:          txt,
		Key:           key,
		OverrideImage: override,
		ImageFile:     override,
		AudioFile:     cache.PathFor(key, s.ttsDir, ".mp3"),
	}
	if seg.ImageFile == "" {
		seg.ImageFile = cache.PathFor(key, s.captionsDir, ".png")
	}

	g, gctx := errgroup.WithContext(ctx)
	if !cache.ExistsNonEmpty(seg.ImageFile) {
		caption := text.CollapseSpaces(s.textOnly.Replace(txt))
		g.Go(func() error {
			img, err := retry.DoValue(gctx, s.Policy, func(ctx context.Context) ([]byte, error) {
				return s.images.Render(ctx, caption)
			})
			if err != nil {
				return fmt.Errorf("caption image for %q: %w", caption, err)
			}
			return cache.WriteFile(seg.ImageFile, img)
		})
	}
	if !cache.ExistsNonEmpty(seg.AudioFile) {
		spoken := s.audioOnly.Replace(txt)
		g.Go(func() error {
			audio, err := retry.DoValue(gctx, s.Policy, func(ctx context.Context) ([]byte, error) {
				return s.tts.Synthesize(ctx, spoken)
			})
			if err != nil {
				return fmt.Errorf("narration for %q: %w", spoken, err)
			}
			return cache.WriteFile(seg.AudioFile, audio)
		})
	}
	if err := g.Wait(); err != nil {
		return seg, err
	}

	if s.speed != 1 || s.volume != 1 {
		adjusted, err := s.adjust(ctx, seg.AudioFile)
		if err != nil {
			return seg, err
		}
		seg.AudioFile = adjusted
	}

	measured := seg.AudioFile
	if s.accurate {
		clip, err := s.clip(ctx, seg.AudioFile, seg.ImageFile)
		if err != nil {
			return seg, err
		}
		seg.VideoFile = clip
		measured = clip
	}
	d, err := s.oracle.Accurate(ctx, measured)
	if err != nil {
		return seg, err
	}
	seg.Duration = ceilCentis(d)
	return seg, nil
}

func (s *SegmentRenderer) adjust(ctx context.Context, src string) (string, error) {
	out := cache.PathFor(cache.ParamsKey(struct {
		Src    string
		Speed  float64
		Volume float64
	}{src, s.speed, s.volume}), s.ttsDir, ".mp3")
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	_, err := s.runner.Run(ctx, ffmpeg.Command{
		Label:         "🎵 Rendering speed/volume updated TTS section...",
		Inputs:        []ffmpeg.Input{{Path: src}},
		OutputOptions: []string{"-vn", "-af", audioFilter(s.speed, s.volume)},
		Output:        out,
	})
	return out, err
}

// clip renders the still caption over the narration as an alpha webm.
func (s *SegmentRenderer) clip(ctx context.Context, audio, image string) (string, error) {
	out := cache.PathFor(cache.DeriveKey(s.fingerprint, "clip", audio, image), s.ttsDir, ".webm")
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	_, err := s.runner.Run(ctx, ffmpeg.Command{
		Label:         "🎵 Rendering TTS section...",
		Inputs:        []ffmpeg.Input{{Path: audio}, {Path: image}},
		OutputOptions: []string{"-pix_fmt", "yuva420p"},
		Output:        out,
	})
	return out, err
}
