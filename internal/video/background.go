package video

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/media"
)

// ErrTooShort means a background track cannot cover the narration and
// looping is disabled for it.
var ErrTooShort = errors.New("background media is too short")

type TrimMethod string

const (
	KeepStart TrimMethod = "keep_start"
	KeepEnd   TrimMethod = "keep_end"
	Random    TrimMethod = "random"
)

// Track is a prepared background input and where to seek into it.
type Track struct {
	Path  string
	Start float64
}

// Background downloads and conditions the background video and audio.
type Background struct {
	media  media.Downloader
	runner *ffmpeg.Runner
	oracle *ffmpeg.Oracle
	log    *logging.Logger

	videoDir string
	audioDir string

	// randInt63n draws trim offsets; it must be uniform over [0, n).
	randInt63n func(n int64) (int64, error)
}

// Video fetches url and applies the speed/volume change. The video stream is
// copied when speed is 1.
func (b *Background) Video(ctx context.Context, url string, speed, volume float64) (string, error) {
	src, err := b.media.Download(ctx, url, b.videoDir)
	if err != nil {
		return "", fmt.Errorf("background video: %w", err)
	}
	if speed == 1 && volume == 1 {
		return src, nil
	}
	out := cache.PathFor(cache.ParamsKey(struct {
		Src    string
		Speed  float64
		Volume float64
	}{src, speed, volume}), b.videoDir, ext(src))
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	opts := []string{"-c:v", "copy"}
	if speed != 1 {
		opts = []string{"-filter:v", "setpts=PTS/" + ffmpeg.FormatSeconds(speed)}
	}
	opts = append(opts, "-filter:a", audioFilter(speed, volume))
	_, err = b.runner.Run(ctx, ffmpeg.Command{
		Label:         fmt.Sprintf("🎥 Rendering %s updated background video...", changed(speed, volume)),
		Inputs:        []ffmpeg.Input{{Path: src}},
		OutputOptions: opts,
		Output:        out,
	})
	return out, err
}

// Audio fetches url, extracts an mp3 track from it and applies the
// speed/volume change.
func (b *Background) Audio(ctx context.Context, url string, speed, volume float64) (string, error) {
	src, err := b.media.Download(ctx, url, b.audioDir)
	if err != nil {
		return "", fmt.Errorf("background audio: %w", err)
	}
	track, err := b.extract(ctx, src)
	if err != nil {
		return "", err
	}
	if speed == 1 && volume == 1 {
		return track, nil
	}
	out := cache.PathFor(cache.ParamsKey(struct {
		Src    string
		Speed  float64
		Volume float64
	}{track, speed, volume}), b.audioDir, ".mp3")
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	_, err = b.runner.Run(ctx, ffmpeg.Command{
		Label:         fmt.Sprintf("🎵 Rendering %s updated background audio...", changed(speed, volume)),
		Inputs:        []ffmpeg.Input{{Path: track}},
		OutputOptions: []string{"-af", audioFilter(speed, volume)},
		Output:        out,
	})
	return out, err
}

// extract copies the audio stream out of src, re-encoding only when the
// stream cannot be copied into mp3.
func (b *Background) extract(ctx context.Context, src string) (string, error) {
	if strings.EqualFold(filepath.Ext(src), ".mp3") {
		return src, nil
	}
	out := cache.PathFor(cache.ParamsKey(struct {
		Src  string
		Step string
	}{src, "extract"}), b.audioDir, ".mp3")
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	c := ffmpeg.Command{
		Label:         "🎵 Extracting audio from video...",
		Inputs:        []ffmpeg.Input{{Path: src}},
		OutputOptions: []string{"-vn", "-c:a", "copy"},
		Output:        out,
	}
	_, err := b.runner.Run(ctx, c)
	if err == nil {
		return out, nil
	}
	b.log.Warnf("video: audio stream of %s is not copyable, re-encoding: %s", src, ffmpeg.Summary(err))
	c.OutputOptions = []string{"-vn"}
	_, err = b.runner.Run(ctx, c)
	return out, err
}

// FitOptions controls how a track is stretched and cut to the narration.
type FitOptions struct {
	Kind  string // "video" or "audio", for messages
	Loop  bool
	Trim  TrimMethod
	Total float64
}

// Fit loops path when it is shorter than o.Total and picks the seek offset.
func (b *Background) Fit(ctx context.Context, path string, o FitOptions) (Track, error) {
	have, err := b.oracle.Approximate(ctx, path)
	if err != nil {
		return Track{}, err
	}
	if o.Total > have {
		if !o.Loop {
			return Track{}, fmt.Errorf("%w: background %s is %.2fs but the narration needs %.2fs, enable %s.loop or choose a longer %s",
				ErrTooShort, o.Kind, have, o.Total, o.Kind, o.Kind)
		}
		path, err = b.loop(ctx, path, LoopCount(o.Total, have), o.Kind)
		if err != nil {
			return Track{}, err
		}
	}
	start, err := b.trimStart(ctx, path, o)
	if err != nil {
		return Track{}, err
	}
	return Track{Path: path, Start: start}, nil
}

// LoopCount is the smallest n with n*have >= need.
func LoopCount(need, have float64) int {
	if have <= 0 {
		return 1
	}
	return max(1, int(math.Ceil(need/have)))
}

func (b *Background) loop(ctx context.Context, src string, loops int, kind string) (string, error) {
	dir := b.videoDir
	opts := []string{"-c:v", "copy", "-c:a", "copy"}
	label := "🎥 Rendering looped background video..."
	if kind == "audio" {
		dir = b.audioDir
		opts = []string{"-c:a", "copy"}
		label = "🎵 Rendering looped background audio..."
	}
	out := cache.PathFor(cache.ParamsKey(struct {
		Src   string
		Loops int
	}{src, loops}), dir, ext(src))
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	_, err := b.runner.Run(ctx, ffmpeg.Command{
		Label:         label,
		Inputs:        []ffmpeg.Input{{Path: src, StreamLoop: loops}},
		OutputOptions: opts,
		Output:        out,
	})
	return out, err
}

// trimStart needs the accurate duration for keep_end and random so the seek
// never runs past the end of the file.
func (b *Background) trimStart(ctx context.Context, path string, o FitOptions) (float64, error) {
	if o.Trim == KeepStart || o.Trim == "" {
		return 0, nil
	}
	d, err := b.oracle.Accurate(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("accurate background %s duration: %w", o.Kind, err)
	}
	spare := math.Max(0, d-o.Total)
	if o.Trim == KeepEnd {
		return spare, nil
	}
	const precision = 1_000_000
	n, err := b.randInt63n(int64(math.Floor(spare*precision)) + 1)
	if err != nil {
		return 0, err
	}
	return float64(n) / precision, nil
}
