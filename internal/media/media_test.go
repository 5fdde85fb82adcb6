package media

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kkdai/youtube/v2"

	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/ffmpeg/ffmpegtest"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/s3/s3test"
)

func newTestFetcher(d Deps) *Fetcher {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	f := New(d)
	f.Policy = f.Policy.Immediate()
	return f
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		"https://www.youtube.com/watch?v=abc":                      KindYouTube,
		"https://youtu.be/abc":                                     KindYouTube,
		"https://www.bensound.com/royalty-free-music/track/dreams": KindBensound,
		"https://app.soundstripe.com/songs/1234":                   KindSoundstripe,
		"s3://bucket/bg/video.mp4":                                 KindS3,
		"https://cdn.example.com/loop.mp4":                         KindHTTP,
		"/srv/media/loop.mp4":                                      KindLocal,
	}
	for ref, want := range cases {
		if got := KindOf(ref); got != want {
			t.Errorf("KindOf(%q) = %s, want %s", ref, got, want)
		}
	}
}

func TestHTTPDownloadIsReused(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("video-bytes"))
	}))
	defer srv.Close()

	f := newTestFetcher(Deps{HTTPClient: srv.Client()})
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		p, err := f.Download(context.Background(), srv.URL+"/clips/loop.mp4", dir)
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		if filepath.Base(p) != "loop.mp4" {
			t.Fatalf("path = %s", p)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits = %d, want 1", hits.Load())
	}
}

func TestHTTPNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(Deps{HTTPClient: srv.Client()})
	if _, err := f.Download(context.Background(), srv.URL+"/missing.mp4", t.TempDir()); err == nil {
		t.Fatalf("expected error")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestLocalFile(t *testing.T) {
	f := newTestFetcher(Deps{})
	p := filepath.Join(t.TempDir(), "bg.mp4")
	if _, err := f.Download(context.Background(), p, t.TempDir()); err == nil {
		t.Fatalf("missing local file accepted")
	}
	os.WriteFile(p, []byte("x"), 0o644)
	got, err := f.Download(context.Background(), p, t.TempDir())
	if err != nil || got != p {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestS3Download(t *testing.T) {
	store := s3test.New("media")
	store.PutBytes(context.Background(), "bg/minecraft.mp4", []byte("mp4"), "video/mp4")
	f := newTestFetcher(Deps{S3: store})

	p, err := f.Download(context.Background(), "s3://media/bg/minecraft.mp4", t.TempDir())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if b, _ := os.ReadFile(p); string(b) != "mp4" {
		t.Fatalf("content = %q", b)
	}
	if _, err := f.Download(context.Background(), "s3://other/bg/minecraft.mp4", t.TempDir()); err == nil ||
		!strings.Contains(err.Error(), "does not match") {
		t.Fatalf("bucket mismatch: err = %v", err)
	}
}

func TestSoundstripe(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/songs/1234":
			w.Write([]byte(`{"included":[
{"attributes":{"primary":false,"file":{"versions":{"mp3":{"url":"` + srv.URL + `/files/alt.mp3"}}}}},
{"attributes":{"primary":true,"file":{"versions":{"mp3":{"url":"` + srv.URL + `/files/main.mp3?sig=1"}}}}}]}`))
		case "/files/main.mp3":
			w.Write([]byte("ID3 main"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(Deps{HTTPClient: srv.Client()})
	f.sstripe.APIBase = srv.URL
	p, err := f.Download(context.Background(), "https://app.soundstripe.com/songs/1234/some-title", t.TempDir())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if filepath.Base(p) != "main.mp3" {
		t.Fatalf("path = %s", p)
	}
}

func TestBensoundScrapesTrackURL(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/royalty-free-music/track/dreams":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(`<html><script>var player = {"title":"Dreams", "url" : "` + srv.URL + `/music/bensound-dreams.mp3"};</script></html>`))
		case "/music/bensound-dreams.mp3":
			w.Write([]byte("ID3 dreams"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(Deps{HTTPClient: srv.Client()})
	p, err := f.bensound.Download(context.Background(), srv.URL+"/royalty-free-music/track/dreams", t.TempDir())
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if b, _ := os.ReadFile(p); string(b) != "ID3 dreams" {
		t.Fatalf("content = %q", b)
	}
}

type fakeYouTube struct {
	video   *youtube.Video
	streams []int
}

func (f *fakeYouTube) GetVideoContext(context.Context, string) (*youtube.Video, error) {
	return f.video, nil
}

func (f *fakeYouTube) GetStreamContext(_ context.Context, _ *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error) {
	f.streams = append(f.streams, format.ItagNo)
	return io.NopCloser(strings.NewReader("stream")), 6, nil
}

func TestYouTubeMuxesBestStreams(t *testing.T) {
	yt := &fakeYouTube{video: &youtube.Video{ID: "vid123", Formats: youtube.FormatList{
		{ItagNo: 18, MimeType: `video/mp4; codecs="avc1"`, Height: 360, AudioChannels: 2},
		{ItagNo: 137, MimeType: `video/mp4; codecs="avc1"`, Height: 1080, Bitrate: 4000},
		{ItagNo: 136, MimeType: `video/mp4; codecs="avc1"`, Height: 720, Bitrate: 2000},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a"`, Bitrate: 128, AudioChannels: 2},
		{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a"`, Bitrate: 48, AudioChannels: 2},
		{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160, AudioChannels: 2},
	}}}
	fake := &ffmpegtest.Fake{}
	runner := ffmpeg.NewRunner(logging.Nop(), ffmpeg.WithExecutor(fake))
	f := newTestFetcher(Deps{YouTube: yt, Runner: runner})
	dir := t.TempDir()

	p, err := f.Download(context.Background(), "https://www.youtube.com/watch?v=vid123", dir)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if p != filepath.Join(dir, "vid123.mp4") {
		t.Fatalf("path = %s", p)
	}
	if len(yt.streams) != 2 || yt.streams[0] != 137 || yt.streams[1] != 140 {
		t.Fatalf("streams = %v, want [137 140]", yt.streams)
	}
	calls := fake.Calls()
	if len(calls) != 1 || !ffmpegtest.Has(calls[0], "0:v", "1:a", "copy") {
		t.Fatalf("mux calls = %v", calls)
	}

	// Second call reuses the muxed file.
	if _, err := f.Download(context.Background(), "https://www.youtube.com/watch?v=vid123", dir); err != nil {
		t.Fatal(err)
	}
	if len(fake.Calls()) != 1 {
		t.Fatalf("expected no second mux")
	}
}

func TestSoundstripeID(t *testing.T) {
	cases := map[string]string{
		"https://app.soundstripe.com/songs/1234":           "1234",
		"https://app.soundstripe.com/songs/1234/title?x=1": "1234",
		"https://app.soundstripe.com/songs/99?ref=a":       "99",
		"https://app.soundstripe.com/playlists/1":          "",
	}
	for in, want := range cases {
		if got := soundstripeID(in); got != want {
			t.Errorf("soundstripeID(%q) = %q, want %q", in, got, want)
		}
	}
}
