package video

import (
	"context"
	"fmt"
	"math"
	"strings"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/progress"
)

// Assembler renders the title and every sentence in order and joins their
// narration into one combined artifact.
type Assembler struct {
	segments *SegmentRenderer
	runner   *ffmpeg.Runner
	oracle   *ffmpeg.Oracle
	images   ImageRenderer
	reporter progress.Reporter
	log      *logging.Logger

	fingerprint  string
	ttsDir       string
	extraSilence float64
	accurate     bool
	demux        bool
	audioBitrate int
	videoBitrate int
}

// Assemble builds the timeline. titleImage, when set, replaces the rendered
// title caption.
func (a *Assembler) Assemble(ctx context.Context, title, titleImage string, sentences []string) (model.Timeline, error) {
	tl := model.Timeline{ExtraSilence: a.extraSilence}

	task := a.reporter.Begin("📝 Rendering captions and narration...")
	defer task.Done()
	total := float64(len(sentences) + 1)

	first, err := a.segments.Render(ctx, title, titleImage)
	if err != nil {
		return tl, fmt.Errorf("title segment: %w", err)
	}
	tl.Segments = append(tl.Segments, first)
	task.Update(1 / total)

	if a.extraSilence > 0 {
		if err := a.silence(ctx, &tl, first); err != nil {
			return tl, err
		}
	}

	for i, s := range sentences {
		seg, err := a.segments.Render(ctx, s, "")
		if err != nil {
			return tl, fmt.Errorf("segment %d: %w", i+1, err)
		}
		tl.Segments = append(tl.Segments, seg)
		task.Update(float64(i+2) / total)
	}

	if err := a.combine(ctx, &tl); err != nil {
		return tl, err
	}
	actual, err := a.oracle.Accurate(ctx, tl.CombinedFile)
	if err != nil {
		return tl, fmt.Errorf("combined narration duration: %w", err)
	}
	tl.CalculatedTotal = CalculatedTotal(tl.Segments, a.extraSilence)
	tl.ActualTotal = actual
	tl.TotalDuration, tl.Correction = Totals(tl.CalculatedTotal, actual, len(tl.Segments), a.accurate)
	a.log.Infof("video: narration calculated %.3fs, measured %.3fs, correction %.4fs per segment",
		tl.CalculatedTotal, tl.ActualTotal, tl.Correction)
	return tl, nil
}

// CalculatedTotal sums each segment plus its trailing silence.
func CalculatedTotal(segs []model.Segment, extraSilence float64) float64 {
	var sum float64
	for _, s := range segs {
		sum += s.Duration + extraSilence
	}
	return sum
}

// Totals returns the output duration and the per-segment overlay correction.
// Accurate renders trust the measured length. Otherwise the longer of the two
// wins and the difference is spread evenly over the segments.
func Totals(calculated, actual float64, n int, accurate bool) (total, correction float64) {
	if accurate || n == 0 {
		return actual, 0
	}
	return math.Max(calculated, actual), (actual - calculated) / float64(n)
}

// silence renders the shared gap clip from the title audio, looped to cover
// the gap and muted.
func (a *Assembler) silence(ctx context.Context, tl *model.Timeline, title model.Segment) error {
	extra := ffmpeg.FormatSeconds(a.extraSilence)
	key := cache.DeriveKey(a.fingerprint, "silence", extra)
	audio := cache.PathFor(key, a.ttsDir, ".mp3")
	if !cache.ExistsNonEmpty(audio) {
		loops := 1
		if title.Duration > 0 {
			loops = max(1, int(math.Ceil(a.extraSilence/title.Duration)))
		}
		_, err := a.runner.Run(ctx, ffmpeg.Command{
			Label:         "🎵 Rendering extra silence audio...",
			Inputs:        []ffmpeg.Input{{Path: title.AudioFile, StreamLoop: loops}},
			OutputOptions: []string{"-t", extra, "-vn", "-af", "volume=0"},
			Output:        audio,
		})
		if err != nil {
			return err
		}
	}
	tl.SilenceAudio = audio
	if !a.accurate {
		return nil
	}

	blank := cache.PathFor(cache.DeriveKey(a.fingerprint, "blank"), a.ttsDir, ".png")
	if !cache.ExistsNonEmpty(blank) {
		img, err := a.images.Render(ctx, " ")
		if err != nil {
			return fmt.Errorf("blank caption: %w", err)
		}
		if err := cache.WriteFile(blank, img); err != nil {
			return err
		}
	}
	video := cache.PathFor(key, a.ttsDir, ".webm")
	if !cache.ExistsNonEmpty(video) {
		_, err := a.runner.Run(ctx, ffmpeg.Command{
			Label:         "🎵 Rendering extra silence video...",
			Inputs:        []ffmpeg.Input{{Path: audio}, {Path: blank}},
			OutputOptions: []string{"-pix_fmt", "yuva420p"},
			Output:        video,
		})
		if err != nil {
			return err
		}
	}
	tl.SilenceVideo = video
	return nil
}

// combine concatenates the segments, with the silence clip after each one.
func (a *Assembler) combine(ctx context.Context, tl *model.Timeline) error {
	var parts []string
	for _, s := range tl.Segments {
		if a.accurate {
			parts = append(parts, s.VideoFile)
			if tl.SilenceVideo != "" {
				parts = append(parts, tl.SilenceVideo)
			}
			continue
		}
		parts = append(parts, s.AudioFile)
		if tl.SilenceAudio != "" {
			parts = append(parts, tl.SilenceAudio)
		}
	}

	ext, label, vbr := ".mp3", "🎵 Rendering combined TTS audio...", 0
	if a.accurate {
		ext, label, vbr = ".webm", "🎵 Rendering combined TTS...", a.videoBitrate
	}
	out := cache.PathFor(cache.DeriveKey(a.fingerprint, strings.Join(parts, "|")), a.ttsDir, ext)
	tl.CombinedFile = out
	if cache.ExistsNonEmpty(out) {
		return nil
	}
	_, err := a.runner.Concat(ctx, ffmpeg.ConcatOptions{
		Files:        parts,
		Output:       out,
		AudioBitrate: a.audioBitrate,
		VideoBitrate: vbr,
		Demuxer:      a.demux,
		Label:        label,
	})
	return err
}
