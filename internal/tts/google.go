package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// GoogleTranslate uses the public translate_tts endpoint. Voice is a language code.
type GoogleTranslate struct {
	Lang    string
	BaseURL string
	client  *http.Client
}

func (g *GoogleTranslate) synthesizePart(ctx context.Context, text string) ([]byte, error) {
	base := g.BaseURL
	if base == "" {
		base = "https://translate.google.com/translate_tts"
	}
	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", g.Lang)
	q.Set("q", text)
	q.Set("ttsspeed", "1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google-translate tts: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google-translate tts: status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("google-translate tts: empty audio")
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
