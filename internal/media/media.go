// Package media downloads background video and audio into the asset tree.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/progress"
	"story-video-gen/internal/retry"
	"story-video-gen/internal/s3"
)

// RequestTimeout bounds page and API lookups. File transfers are not bounded.
const RequestTimeout = 10 * time.Second

// Downloader fetches url into dir and returns the local file path.
type Downloader interface {
	Download(ctx context.Context, url, dir string) (string, error)
}

type Kind string

const (
	KindYouTube     Kind = "youtube"
	KindBensound    Kind = "bensound"
	KindSoundstripe Kind = "soundstripe"
	KindS3          Kind = "s3"
	KindHTTP        Kind = "http"
	KindLocal       Kind = "local"
)

// KindOf classifies a media reference.
func KindOf(ref string) Kind {
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "s3://"):
		return KindS3
	case strings.Contains(lower, "youtube.com/") || strings.Contains(lower, "youtu.be/"):
		return KindYouTube
	case strings.Contains(lower, "bensound.com"):
		return KindBensound
	case strings.Contains(lower, "soundstripe.com"):
		return KindSoundstripe
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		return KindHTTP
	default:
		return KindLocal
	}
}

type Deps struct {
	HTTPClient *http.Client
	Runner     *ffmpeg.Runner
	S3         s3.Client
	YouTube    YouTubeAPI
	Reporter   progress.Reporter
	Log        *logging.Logger
}

// Fetcher dispatches on the reference kind. Remote kinds are retried.
type Fetcher struct {
	hc       *http.Client
	youtube  *YouTube
	bensound *Bensound
	sstripe  *Soundstripe
	s3       s3.Client
	reporter progress.Reporter
	log      *logging.Logger

	Policy retry.Policy
}

func New(d Deps) *Fetcher {
	hc := d.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	rep := d.Reporter
	if rep == nil {
		rep = progress.Nop{}
	}
	yt := d.YouTube
	if yt == nil {
		yt = &youtube.Client{HTTPClient: hc}
	}
	f := &Fetcher{hc: hc, s3: d.S3, reporter: rep, log: d.Log, Policy: retry.Default()}
	f.youtube = &YouTube{api: yt, runner: d.Runner, reporter: rep, log: d.Log}
	f.bensound = &Bensound{fetcher: f}
	f.sstripe = &Soundstripe{APIBase: "https://api.soundstripe.com", fetcher: f}
	return f
}

func (f *Fetcher) Download(ctx context.Context, ref, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	kind := KindOf(ref)
	if kind == KindLocal {
		if !cache.ExistsNonEmpty(ref) {
			return "", fmt.Errorf("media file %q does not exist or is empty", ref)
		}
		return ref, nil
	}
	f.log.Infof("media: fetching %s (%s)", ref, kind)
	return retry.DoValue(ctx, f.Policy, func(ctx context.Context) (string, error) {
		switch kind {
		case KindYouTube:
			return f.youtube.Download(ctx, ref, dir)
		case KindBensound:
			return f.bensound.Download(ctx, ref, dir)
		case KindSoundstripe:
			return f.sstripe.Download(ctx, ref, dir)
		case KindS3:
			return f.fromS3(ctx, ref, dir)
		default:
			return f.fromHTTP(ctx, ref, dir)
		}
	})
}

func (f *Fetcher) fromS3(ctx context.Context, ref, dir string) (string, error) {
	bucket, key, ok := s3.ParseURL(ref)
	if !ok {
		return "", retry.Permanent(fmt.Errorf("invalid s3 url %q", ref))
	}
	if f.s3 == nil {
		return "", retry.Permanent(errors.New("s3 url given but object storage is not configured"))
	}
	if bucket != f.s3.Bucket() {
		return "", retry.Permanent(fmt.Errorf("s3 bucket %q does not match the configured bucket %q", bucket, f.s3.Bucket()))
	}
	out := filepath.Join(dir, path.Base(key))
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	if err := f.s3.DownloadFile(ctx, key, out); err != nil {
		if errors.Is(err, s3.ErrNotExist) {
			return "", retry.Permanent(err)
		}
		return "", err
	}
	return out, nil
}

func (f *Fetcher) fromHTTP(ctx context.Context, ref, dir string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", retry.Permanent(err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = cache.DeriveKey(ref)[:16]
	}
	out := filepath.Join(dir, name)
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	return out, f.save(ctx, ref, out, "⬇️ Downloading "+name)
}

// save streams url to out through a temp file.
func (f *Fetcher) save(ctx context.Context, ref, out, label string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return retry.Permanent(err)
	}
	resp, err := f.hc.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("get %s: status %d", ref, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		return err
	}
	task := f.reporter.Begin(label)
	defer task.Done()
	return writeStream(out, resp.Body, resp.ContentLength, task)
}

// writeStream copies r into path via a temp file, reporting progress when
// total is known.
func writeStream(path string, r io.Reader, total int64, task progress.Task) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, &countingReader{r: r, total: total, task: task})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type countingReader struct {
	r     io.Reader
	n     int64
	total int64
	task  progress.Task
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.total > 0 && c.task != nil {
		c.task.Update(float64(c.n) / float64(c.total))
	}
	return n, err
}
