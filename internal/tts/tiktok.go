package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
)

const tiktokUserAgent = "com.zhiliaoapp.musically/2022600030 (Linux; U; Android 7.1.2; es_ES; SM-G988N; Build/NRD90M;tt-ok/3.12.13.1)"

type TikTok struct {
	Voice     string
	SessionID string
	BaseURL   string
	client    *http.Client
}

func (t *TikTok) synthesizePart(ctx context.Context, text string) ([]byte, error) {
	endpoint := t.BaseURL
	if endpoint == "" {
		endpoint = "https://tiktok-tts.weilnet.workers.dev/api/generation"
	}
	payload, _ := json.Marshal(map[string]string{"text": text, "voice": t.Voice})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", tiktokUserAgent)
	req.Header.Set("Cookie", "sessionid="+t.SessionID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tiktok tts: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(body)
	if e := res.Get("error"); e.Exists() && e.String() != "" {
		return nil, fmt.Errorf("tiktok tts: %s", e.String())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tiktok tts: status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	data := res.Get("data").String()
	if data == "" {
		return nil, errors.New("tiktok tts: invalid response when generating voice")
	}
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("tiktok tts: decode audio: %w", err)
	}
	return audio, nil
}
