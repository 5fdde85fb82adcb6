package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"story-video-gen/internal"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/ffmpeg/ffmpegtest"
	"story-video-gen/internal/logging"
)

func TestTikTokDecodesAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != "en_male_narration" || r.Header.Get("Cookie") != "sessionid=sid" {
			t.Errorf("unexpected request %v %q", body, r.Header.Get("Cookie"))
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "data": base64.StdEncoding.EncodeToString([]byte("mp3:" + body["text"]))})
	}))
	defer srv.Close()

	tk := &TikTok{Voice: "en_male_narration", SessionID: "sid", BaseURL: srv.URL, client: srv.Client()}
	b, err := tk.synthesizePart(context.Background(), "hello")
	if err != nil || string(b) != "mp3:hello" {
		t.Fatalf("got %q, %v", b, err)
	}
}

func TestTikTokReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"Text too long"}`))
	}))
	defer srv.Close()
	tk := &TikTok{BaseURL: srv.URL, client: srv.Client()}
	if _, err := tk.synthesizePart(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "Text too long") {
		t.Fatalf("err = %v", err)
	}
}

func TestGoogleTranslateChunksAndJoins(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if len(r.URL.Query().Get("q")) > 200 || r.URL.Query().Get("tl") != "en" {
			t.Errorf("bad query %v", r.URL.Query())
		}
		w.Write([]byte("ID3 part"))
	}))
	defer srv.Close()

	fake := &ffmpegtest.Fake{}
	deps := Deps{
		Runner: ffmpeg.NewRunner(logging.Nop(), ffmpeg.WithExecutor(fake)),
		TmpDir: t.TempDir(),
	}
	g := &GoogleTranslate{Lang: "en", BaseURL: srv.URL, client: srv.Client()}
	p := newChunked(g.synthesizePart, 200, true, deps)

	long := strings.Repeat("word ", 100)
	b, err := p.Synthesize(context.Background(), long)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if requests.Load() != 3 {
		t.Fatalf("requests = %d, want 3 chunks of <=200 chars", requests.Load())
	}
	if len(fake.Calls()) != 1 || len(b) == 0 {
		t.Fatalf("parts should be joined by one concat, calls=%d", len(fake.Calls()))
	}

	if _, err := p.Synthesize(context.Background(), "short"); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls()) != 1 {
		t.Fatalf("single chunk should not need ffmpeg")
	}
}

func TestGoogleTranslateStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	g := &GoogleTranslate{Lang: "en", BaseURL: srv.URL, client: srv.Client()}
	if _, err := g.synthesizePart(context.Background(), "x"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

func TestOpenAISpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/audio/speech") {
			t.Errorf("path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != "nova" || body["model"] != "tts-1" {
			t.Errorf("body %v", body)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3 bytes"))
	}))
	defer srv.Close()

	cfg := internal.TTSConfig{Source: "openai", Voice: "nova-hd", OpenAIModel: "tts-1", OpenAIAPIKey: "k", OpenAIAPIBase: srv.URL + "/v1", OpenAITTSRPM: 6000}
	p, err := New(cfg, Deps{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.Synthesize(context.Background(), "hi")
	if err != nil || string(b) != "mp3 bytes" {
		t.Fatalf("got %q, %v", b, err)
	}
}

func TestOpenAIMakesOneRequestPerAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	cfg := internal.TTSConfig{Source: "openai", Voice: "nova", OpenAIModel: "tts-1", OpenAIAPIKey: "k", OpenAIAPIBase: srv.URL + "/v1", OpenAITTSRPM: 6000}
	p, err := New(cfg, Deps{HTTPClient: srv.Client()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected an error")
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("requests = %d, want 1", n)
	}
}

func TestOpenAIRateSpacing(t *testing.T) {
	o := &OpenAI{interval: 50 * time.Millisecond}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := o.wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if el := time.Since(start); el < 100*time.Millisecond {
		t.Fatalf("three calls took %v, want >= 100ms", el)
	}
}

func TestNewUnknownSource(t *testing.T) {
	if _, err := New(internal.TTSConfig{Source: "espeak"}, Deps{}); err == nil {
		t.Fatalf("unknown source accepted")
	}
}
