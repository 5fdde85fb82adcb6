package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"github.com/tidwall/gjson"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/retry"
)

var bensoundURL = regexp.MustCompile(`"url"\s*?:\s*?("[^"]+")`)

// Bensound scrapes the track page for the mp3 link.
type Bensound struct {
	fetcher *Fetcher
}

func (b *Bensound) Download(ctx context.Context, ref, dir string) (string, error) {
	mp3, err := b.trackURL(ref)
	if err != nil {
		return "", err
	}
	out := filepath.Join(dir, path.Base(mp3))
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	return out, b.fetcher.save(ctx, mp3, out, "⬇️ Downloading Bensound audio...")
}

func (b *Bensound) trackURL(page string) (string, error) {
	c := colly.NewCollector(colly.AllowURLRevisit())
	extensions.RandomUserAgent(c)
	c.SetRequestTimeout(RequestTimeout)
	if t := b.fetcher.hc.Transport; t != nil {
		c.WithTransport(t)
	}

	var found string
	var visitErr error
	c.OnResponse(func(r *colly.Response) {
		m := bensoundURL.FindSubmatch(r.Body)
		if m == nil {
			return
		}
		var u string
		if err := json.Unmarshal(m[1], &u); err == nil {
			found = u
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("bensound: %s: status %d: %w", page, r.StatusCode, err)
	})
	if err := c.Visit(page); err != nil && visitErr == nil {
		visitErr = fmt.Errorf("bensound: visit %s: %w", page, err)
	}
	if visitErr != nil {
		return "", visitErr
	}
	if found == "" {
		return "", retry.Permanent(fmt.Errorf("bensound: no track url on %s", page))
	}
	return found, nil
}

// Soundstripe resolves a song page to its primary mp3 through the public API.
type Soundstripe struct {
	APIBase string
	fetcher *Fetcher
}

func (s *Soundstripe) Download(ctx context.Context, ref, dir string) (string, error) {
	id := soundstripeID(ref)
	if id == "" {
		return "", retry.Permanent(fmt.Errorf("soundstripe: no song id in %q", ref))
	}
	mp3, err := s.trackURL(ctx, id)
	if err != nil {
		return "", err
	}
	name, _, _ := strings.Cut(path.Base(mp3), "?")
	out := filepath.Join(dir, name)
	if cache.ExistsNonEmpty(out) {
		return out, nil
	}
	return out, s.fetcher.save(ctx, mp3, out, "⬇️ Downloading Soundstripe audio...")
}

func (s *Soundstripe) trackURL(ctx context.Context, id string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(s.APIBase, "/")+"/app/songs/"+id, nil)
	if err != nil {
		return "", retry.Permanent(err)
	}
	resp, err := s.fetcher.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("soundstripe: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("soundstripe: song %s: status %d", id, resp.StatusCode)
	}
	u := gjson.GetBytes(body, `included.#(attributes.primary==true).attributes.file.versions.mp3.url`).String()
	if u == "" {
		return "", retry.Permanent(fmt.Errorf("soundstripe: song %s has no primary mp3", id))
	}
	return u, nil
}

// soundstripeID extracts the id after /songs/.
func soundstripeID(ref string) string {
	_, rest, ok := strings.Cut(ref, "/songs/")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "/")
	id, _, _ = strings.Cut(id, "?")
	return id
}
