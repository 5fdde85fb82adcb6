package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"story-video-gen/internal/logging"
)

// Screenshotter renders a reddit post in headless Chrome and captures its
// header element.
type Screenshotter struct {
	Theme    string
	Zoom     float64
	BaseURL  string
	Selector string
	Timeout  time.Duration
	log      *logging.Logger
}

func NewScreenshotter(theme string, zoom float64, log *logging.Logger) *Screenshotter {
	return &Screenshotter{
		Theme:    theme,
		Zoom:     zoom,
		BaseURL:  "https://www.reddit.com",
		Selector: `shreddit-post`,
		Timeout:  90 * time.Second,
		log:      log,
	}
}

func (s *Screenshotter) Capture(ctx context.Context, postID string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()
	cctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	cctx, cancel = context.WithTimeout(cctx, s.Timeout)
	defer cancel()

	scheme := "dark"
	if s.Theme == "light" {
		scheme = "light"
	}
	zoom := s.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	url := fmt.Sprintf("%s/comments/%s", s.BaseURL, postID)
	s.log.Infof("[CHROME] capturing %s (theme=%s zoom=%g)", url, scheme, zoom)

	var buf []byte
	err := chromedp.Run(cctx,
		chromedp.EmulateViewport(1080, 1920, chromedp.EmulateScale(zoom)),
		emulation.SetEmulatedMedia().WithFeatures([]*emulation.MediaFeature{{Name: "prefers-color-scheme", Value: scheme}}),
		chromedp.Navigate(url),
		chromedp.WaitVisible(s.Selector, chromedp.ByQuery),
		chromedp.Sleep(time.Second),
		chromedp.Screenshot(s.Selector, &buf, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("screenshot post %s: %w", postID, err)
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("screenshot post %s: empty image", postID)
	}
	s.log.Infof("[CHROME] ✓ captured %d bytes", len(buf))
	return buf, nil
}
