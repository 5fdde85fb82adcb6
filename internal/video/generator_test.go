package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"story-video-gen/internal"
	"story-video-gen/internal/cache"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/ffmpeg/ffmpegtest"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
	"story-video-gen/internal/retry"
)

type fakeTTS struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeTTS) Synthesize(_ context.Context, s string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return []byte("audio:" + s), nil
}

func (f *fakeTTS) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeImages struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeImages) Render(_ context.Context, s string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
	return []byte("image:" + s), nil
}

func (f *fakeImages) Resize(b []byte) ([]byte, error) {
	return append([]byte("fit:"), b...), nil
}

func (f *fakeImages) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeSource struct {
	story     model.Story
	completed []string
}

func (f *fakeSource) Story(context.Context) (model.Story, error) { return f.story, nil }

func (f *fakeSource) MarkComplete(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

// fakeMedia drops a marker file named after the url into dir.
type fakeMedia struct {
	calls int
}

func (f *fakeMedia) Download(_ context.Context, url, dir string) (string, error) {
	f.calls++
	p := filepath.Join(dir, filepath.Base(url))
	if !cache.ExistsNonEmpty(p) {
		if err := os.WriteFile(p, []byte("media:"+filepath.Base(dir)), 0o644); err != nil {
			return "", err
		}
	}
	return p, nil
}

// harness measures fake media by looking at what the fake ffmpeg wrote into
// each file: narration bytes carry their text, derived files carry the
// arguments that produced them.
type harness struct {
	t      *testing.T
	cfg    internal.Config
	dirs   cache.Dirs
	fake   *ffmpegtest.Fake
	exec   ffmpeg.Executor // overrides fake when set
	tts    *fakeTTS
	images *fakeImages
	source *fakeSource
	media  *fakeMedia

	speech   map[string]float64
	combined float64
	bgVideo  float64
	bgAudio  float64
}

func newHarness(t *testing.T, accurate bool) *harness {
	t.Helper()
	cfg := internal.DefaultConfig()
	cfg.Story.Source = "ai"
	cfg.Video.URL = "https://cdn.example.com/minecraft.mp4"
	cfg.Video.AccurateRenderMethod = accurate
	cfg.Audio.URL = "https://cdn.example.com/lofi.mp3"
	cfg.Cleanup = internal.CleanupConfig{}
	cfg.ApplyDefaults()

	h := &harness{
		t:      t,
		cfg:    cfg,
		dirs:   cache.NewDirs(t.TempDir()),
		tts:    &fakeTTS{},
		images: &fakeImages{},
		source: &fakeSource{story: model.Story{
			ID:      "abc123",
			Title:   "Hello World",
			Content: "First sentence here.\n\nSecond one   follows.",
		}},
		media: &fakeMedia{},
		speech: map[string]float64{
			"Hello World":          1.0,
			"First sentence here.": 3.0,
			"Second one follows.":  2.5,
		},
		combined: 7.5,
		bgVideo:  60,
		bgAudio:  120,
	}
	h.fake = &ffmpegtest.Fake{OutTime: func(args []string) (float64, bool) {
		if ffmpegtest.Value(args, "-f") != "null" {
			return 0, false
		}
		return h.measure(ffmpegtest.InputOf(args))
	}}
	return h
}

func (h *harness) measure(path string) (float64, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	c := string(b)
	loops := 1
	if n, err := strconv.Atoi(ffmpegtest.Value(strings.Fields(c), "-stream_loop")); err == nil {
		loops = n + 1
	}
	switch {
	case strings.HasPrefix(c, "audio:"):
		d, ok := h.speech[strings.TrimPrefix(c, "audio:")]
		return d, ok
	case strings.Contains(c, "concat"):
		return h.combined, true
	}
	// Clips and speed/volume passes name the narration they were made from.
	for text, d := range h.speech {
		if strings.Contains(c, h.audioPath(text)) {
			return d, true
		}
	}
	switch {
	case strings.Contains(c, h.dirs.BgVideo) || c == "media:bg-video":
		return h.bgVideo * float64(loops), true
	case strings.Contains(c, h.dirs.BgAudio) || c == "media:bg-audio":
		return h.bgAudio * float64(loops), true
	}
	return 0, false
}

func (h *harness) ProbeDuration(_ context.Context, path string) (float64, error) {
	if d, ok := h.measure(path); ok {
		return d, nil
	}
	return 0, fmt.Errorf("probe %s: unknown file", path)
}

func (h *harness) audioPath(text string) string {
	return cache.PathFor(cache.DeriveKey(h.cfg.Fingerprint(), text), h.dirs.TTS, ".mp3")
}

func (h *harness) generator() *Generator {
	h.t.Helper()
	var exec ffmpeg.Executor = h.fake
	if h.exec != nil {
		exec = h.exec
	}
	g, err := New(h.cfg, Deps{
		Dirs:   h.dirs,
		Runner: ffmpeg.NewRunner(logging.Nop(), ffmpeg.WithExecutor(exec)),
		Prober: h,
		Source: h.source,
		Images: h.images,
		TTS:    h.tts,
		Media:  h.media,
		Log:    logging.Nop(),
	})
	if err != nil {
		h.t.Fatalf("New: %v", err)
	}
	g.SetRetryPolicy(retry.Default().Immediate())
	return g
}

func (h *harness) finalCall() []string {
	h.t.Helper()
	var last []string
	for _, c := range h.fake.Calls() {
		if ffmpegtest.Has(c, "amix") {
			last = c
		}
	}
	if last == nil {
		h.t.Fatalf("no final render call in %d calls", len(h.fake.Calls()))
	}
	return last
}

func TestGenerateOverlayWindows(t *testing.T) {
	h := newHarness(t, false)
	res, err := h.generator().Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tl := res.Timeline
	if len(tl.Segments) != 3 {
		t.Fatalf("segments = %d, want 3", len(tl.Segments))
	}
	if tl.TotalDuration != 7.5 {
		t.Fatalf("total = %v, want 7.5", tl.TotalDuration)
	}
	if diff := tl.Correction - 0.1/3; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("correction = %v, want ~0.0333", tl.Correction)
	}

	args := h.finalCall()
	graph := ffmpegtest.Value(args, "-filter_complex")
	for _, want := range []string{
		"enable='between(t,0,1.033333)'",
		"enable='between(t,1.333333,4.366667)'",
		"enable='between(t,4.666667,7.2)'",
		"[0:a][1:a][2:a]amix=inputs=3[aout]",
	} {
		if !strings.Contains(graph, want) {
			t.Errorf("filter graph lacks %s\n%s", want, graph)
		}
	}
	if got := ffmpegtest.Value(args, "-t"); got != "7.5" {
		t.Errorf("-t = %s", got)
	}
	if n := strings.Count(strings.Join(args, " "), " -i "); n != 6 {
		t.Errorf("inputs = %d, want 3 + 3 captions", n)
	}

	want := filepath.Join(h.dirs.Output, "Hello_World.mp4")
	if res.Output != want || !cache.ExistsNonEmpty(want) {
		t.Fatalf("output = %s", res.Output)
	}
	if len(h.source.completed) != 1 || h.source.completed[0] != "abc123" {
		t.Fatalf("completed = %v", h.source.completed)
	}
}

func TestGenerateIsIdempotent(t *testing.T) {
	h := newHarness(t, false)
	g := h.generator()
	if _, err := g.Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	ttsCalls, imageCalls, ffmpegCalls := len(h.tts.Calls()), len(h.images.Calls()), len(h.fake.Calls())

	if _, err := g.Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(h.tts.Calls()); got != ttsCalls {
		t.Errorf("tts calls %d -> %d", ttsCalls, got)
	}
	if got := len(h.images.Calls()); got != imageCalls {
		t.Errorf("image calls %d -> %d", imageCalls, got)
	}
	calls := h.fake.Calls()[ffmpegCalls:]
	if len(calls) != 1 || !ffmpegtest.Has(calls[0], "amix") {
		t.Fatalf("second run ran %d ffmpeg calls, want only the final render: %v", len(calls), calls)
	}
}

func TestDuplicateSentenceIsSynthesizedOnce(t *testing.T) {
	h := newHarness(t, false)
	h.source.story.Content = "Same line again. Same line again."
	h.speech["Same line again."] = 2
	h.combined = 5.9

	res, err := h.generator().Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := h.tts.Calls(); len(got) != 2 {
		t.Fatalf("tts calls = %v, want title + one sentence", got)
	}
	s := res.Timeline.Segments
	if s[1].Key != s[2].Key || s[1].AudioFile != s[2].AudioFile || s[1].ImageFile != s[2].ImageFile {
		t.Fatalf("repeated sentence did not share artifacts: %+v / %+v", s[1], s[2])
	}
}

func TestGenerateTooShortWritesNothing(t *testing.T) {
	h := newHarness(t, false)
	h.cfg.Video.Loop = false
	h.bgVideo = 5

	_, err := h.generator().Generate(context.Background())
	if !errors.Is(err, ErrTooShort) {
		t.Fatalf("err = %v, want ErrTooShort", err)
	}
	if !strings.Contains(err.Error(), "enable video.loop") {
		t.Errorf("message is not actionable: %v", err)
	}
	entries, _ := os.ReadDir(h.dirs.Output)
	if len(entries) != 0 {
		t.Fatalf("output dir has %d entries", len(entries))
	}
	if h.fake.Count("amix") != 0 {
		t.Fatalf("final render ran")
	}
	if len(h.source.completed) != 0 {
		t.Fatalf("story marked complete after a failure")
	}
}

func TestGenerateLoopsShortBackground(t *testing.T) {
	h := newHarness(t, false)
	h.bgVideo = 3

	if _, err := h.generator().Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if h.fake.Count("-stream_loop", h.dirs.BgVideo) != 1 {
		t.Fatalf("expected one loop of the background video")
	}
	for _, c := range h.fake.Calls() {
		if ffmpegtest.Has(c, "-stream_loop") && ffmpegtest.Has(c, h.dirs.BgVideo) {
			if got := ffmpegtest.Value(c, "-stream_loop"); got != "3" {
				t.Fatalf("loops = %s, want 3", got)
			}
		}
	}
}

func TestGenerateAccurate(t *testing.T) {
	h := newHarness(t, true)
	res, err := h.generator().Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	tl := res.Timeline
	if tl.Correction != 0 || tl.TotalDuration != 7.5 {
		t.Fatalf("accurate totals: %+v", tl)
	}
	for _, s := range tl.Segments {
		if filepath.Ext(s.VideoFile) != ".webm" {
			t.Fatalf("segment %q has no clip", s.Text)
		}
	}
	if tl.SilenceVideo == "" || filepath.Ext(tl.CombinedFile) != ".webm" {
		t.Fatalf("silence video %q, combined %q", tl.SilenceVideo, tl.CombinedFile)
	}

	args := h.finalCall()
	graph := ffmpegtest.Value(args, "-filter_complex")
	if !strings.Contains(graph, "[0:v]setpts=PTS-STARTPTS[tts]") || strings.Contains(graph, "enable=") {
		t.Fatalf("graph = %s", graph)
	}
	if ffmpegtest.Value(args, "-c:v") != "libvpx-vp9" {
		t.Fatalf("narration input is not decoded with libvpx-vp9: %v", args)
	}
	if n := strings.Count(strings.Join(args, " "), " -i "); n != 3 {
		t.Errorf("inputs = %d, want 3", n)
	}
}

func TestReplacementsSplitCaptionAndNarration(t *testing.T) {
	h := newHarness(t, false)
	h.cfg.Replacements.TextOnly = [][]string{{"gonna", "going to"}}
	h.cfg.Replacements.AudioOnly = [][]string{{"lol", "laugh out loud"}}
	h.cfg.Replacements.TextAndAudio = [][]string{{"world", "planet"}}
	h.source.story.Content = "I am gonna lol."
	h.speech = map[string]float64{
		"Hello Planet":               1,
		"I am gonna laugh out loud.": 2,
	}
	h.combined = 3.6

	if _, err := h.generator().Generate(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(h.tts.Calls(), "|"); got != "Hello Planet|I am gonna laugh out loud." {
		t.Errorf("narrated %q", got)
	}
	images := strings.Join(h.images.Calls(), "|")
	if !strings.Contains(images, "I am going to lol.") || !strings.Contains(images, "Hello Planet") {
		t.Errorf("captions %q", images)
	}
}

func TestTTSSpeedVolumeIsCachedSeparately(t *testing.T) {
	h := newHarness(t, false)
	h.cfg.TTS.Speed = 1.25
	h.cfg.TTS.Volume = 0.8

	g := h.generator()
	seg, err := g.segments.Render(context.Background(), "Hello World", "")
	if err != nil {
		t.Fatal(err)
	}
	if seg.AudioFile == h.audioPath("Hello World") || !cache.ExistsNonEmpty(seg.AudioFile) {
		t.Fatalf("segment audio %s is not the adjusted file", seg.AudioFile)
	}
	if !cache.ExistsNonEmpty(h.audioPath("Hello World")) {
		t.Fatalf("raw narration not cached")
	}
	if seg.Duration != 1 {
		t.Fatalf("duration = %v", seg.Duration)
	}
	if h.fake.Count("volume=0.8,atempo=1.25") != 1 {
		t.Fatalf("speed/volume pass missing: %v", h.fake.Calls())
	}

	calls := len(h.fake.Calls())
	if _, err := g.segments.Render(context.Background(), "Hello World", ""); err != nil {
		t.Fatal(err)
	}
	if len(h.fake.Calls()) != calls || len(h.tts.Calls()) != 1 {
		t.Fatalf("second render was not served from cache")
	}
}

// killOnce fails the first call that match accepts after writing a few bytes
// to its output, like an ffmpeg process killed mid-encode. Every other call
// goes to the fake.
type killOnce struct {
	*ffmpegtest.Fake
	match func(args []string) bool

	mu     sync.Mutex
	killed string
}

func (k *killOnce) Execute(ctx context.Context, name string, args []string, stdout, stderr io.Writer) error {
	k.mu.Lock()
	if k.killed == "" && k.match(args) {
		k.killed = args[len(args)-1]
		k.mu.Unlock()
		if err := os.WriteFile(k.killed, []byte("TRUNCATED"), 0o644); err != nil {
			return err
		}
		return errors.New("signal: killed")
	}
	k.mu.Unlock()
	return k.Fake.Execute(ctx, name, args, stdout, stderr)
}

func TestKilledClipIsRenderedAgain(t *testing.T) {
	h := newHarness(t, true)
	k := &killOnce{Fake: h.fake, match: func(args []string) bool {
		return strings.HasSuffix(args[len(args)-1], ".webm") && ffmpegtest.Has(args, h.dirs.TTS, "yuva420p")
	}}
	h.exec = k

	if _, err := h.generator().Generate(context.Background()); err == nil {
		t.Fatal("first run should fail on the killed clip")
	}
	if k.killed == "" {
		t.Fatal("no clip render was killed")
	}
	entries, _ := os.ReadDir(h.dirs.TTS)
	for _, e := range entries {
		if b, _ := os.ReadFile(filepath.Join(h.dirs.TTS, e.Name())); string(b) == "TRUNCATED" {
			t.Fatalf("killed render left %s behind", e.Name())
		}
	}

	res, err := h.generator().Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if h.fake.Count(k.killed) != 1 {
		t.Fatalf("killed clip was not rendered again")
	}
	if res.Timeline.TotalDuration != 7.5 {
		t.Fatalf("total = %v", res.Timeline.TotalDuration)
	}
}
