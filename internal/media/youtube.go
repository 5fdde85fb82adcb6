package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/samber/lo"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/progress"
	"story-video-gen/internal/retry"
)

// YouTubeAPI is the part of *youtube.Client the downloader uses.
type YouTubeAPI interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

// YouTube downloads the best video-only and audio-only streams and muxes
// them into <videoID>.mp4 without re-encoding.
type YouTube struct {
	api      YouTubeAPI
	runner   *ffmpeg.Runner
	reporter progress.Reporter
	log      *logging.Logger
}

func (y *YouTube) Download(ctx context.Context, ref, dir string) (string, error) {
	video, err := y.api.GetVideoContext(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("youtube: get video %s: %w", ref, err)
	}
	out := filepath.Join(dir, video.ID+".mp4")
	if cache.ExistsNonEmpty(out) {
		y.log.Infof("youtube: reusing %s", out)
		return out, nil
	}

	vf, ok := bestFormat(video.Formats, "video/mp4", false)
	if !ok {
		return "", retry.Permanent(fmt.Errorf("youtube: %s has no mp4 video stream", video.ID))
	}
	af, ok := bestFormat(video.Formats, "audio/mp4", true)
	if !ok {
		return "", retry.Permanent(fmt.Errorf("youtube: %s has no m4a audio stream", video.ID))
	}
	if y.runner == nil {
		return "", retry.Permanent(errors.New("youtube: no ffmpeg runner to mux streams"))
	}

	videoTmp := out + ".video.tmp"
	audioTmp := out + ".audio.tmp"
	defer os.Remove(videoTmp)
	defer os.Remove(audioTmp)
	if err := y.stream(ctx, video, &vf, videoTmp, "⬇️ Downloading YouTube video..."); err != nil {
		return "", err
	}
	if err := y.stream(ctx, video, &af, audioTmp, "⬇️ Downloading YouTube audio..."); err != nil {
		return "", err
	}

	_, err = y.runner.Run(ctx, ffmpeg.Command{
		Label:         "🎥 Rendering YouTube video...",
		Inputs:        []ffmpeg.Input{{Path: videoTmp}, {Path: audioTmp}},
		Maps:          []string{"0:v", "1:a"},
		OutputOptions: []string{"-c:v", "copy", "-c:a", "copy", "-f", "mp4"},
		Output:        out,
	})
	if err != nil {
		return "", retry.Permanent(err)
	}
	return out, nil
}

func (y *YouTube) stream(ctx context.Context, v *youtube.Video, f *youtube.Format, path, label string) error {
	rc, size, err := y.api.GetStreamContext(ctx, v, f)
	if err != nil {
		return fmt.Errorf("youtube: stream itag %d: %w", f.ItagNo, err)
	}
	defer rc.Close()
	task := y.reporter.Begin(label)
	defer task.Done()
	return writeStream(path, rc, size, task)
}

// bestFormat picks the highest bitrate format of the given mime type. Audio
// formats must carry channels, video formats must not.
func bestFormat(formats youtube.FormatList, mime string, audio bool) (youtube.Format, bool) {
	candidates := lo.Filter(formats, func(f youtube.Format, _ int) bool {
		if !strings.HasPrefix(f.MimeType, mime) {
			return false
		}
		return (f.AudioChannels > 0) == audio
	})
	if len(candidates) == 0 {
		return youtube.Format{}, false
	}
	return lo.MaxBy(candidates, func(a, b youtube.Format) bool {
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.Bitrate > b.Bitrate
	}), true
}
