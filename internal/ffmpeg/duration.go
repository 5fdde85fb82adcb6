package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/gjson"
	ffmpeggo "github.com/u2takey/ffmpeg-go"

	"story-video-gen/internal/cache"
	"story-video-gen/internal/logging"
	"story-video-gen/internal/model"
)

// Prober reads container metadata.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// FFProbe asks ffprobe for format.duration.
type FFProbe struct {
	Timeout time.Duration
}

func (p FFProbe) ProbeDuration(_ context.Context, path string) (float64, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	out, err := ffmpeggo.ProbeWithTimeout(path, timeout, ffmpeggo.KwArgs{})
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	d := gjson.Get(out, "format.duration")
	if !d.Exists() || d.Float() <= 0 {
		return 0, fmt.Errorf("ffprobe %s: no format.duration", path)
	}
	return d.Float(), nil
}

// Oracle measures media durations. Accurate results are cached in a
// `<file>.duration.json` sidecar keyed by the file's content hash.
type Oracle struct {
	runner *Runner
	prober Prober
	log    *logging.Logger
}

func NewOracle(r *Runner, p Prober, log *logging.Logger) *Oracle {
	if p == nil {
		p = FFProbe{}
	}
	return &Oracle{runner: r, prober: p, log: log}
}

// Duration dispatches on accurate.
func (o *Oracle) Duration(ctx context.Context, path string, accurate bool) (float64, error) {
	if accurate {
		return o.Accurate(ctx, path)
	}
	return o.Approximate(ctx, path)
}

// Approximate is the metadata-only probe.
func (o *Oracle) Approximate(ctx context.Context, path string) (float64, error) {
	return o.prober.ProbeDuration(ctx, path)
}

// Accurate decodes the whole file to a null muxer and takes the last reported
// out_time. A file that yields no progress falls back to the probe, and that
// value is not cached.
func (o *Oracle) Accurate(ctx context.Context, path string) (float64, error) {
	hash, err := cache.FileHash(path)
	if err != nil {
		return 0, fmt.Errorf("duration of %s: %w", path, err)
	}
	sidecar := SidecarPath(path)
	if rec, ok := readSidecar(sidecar); ok && rec.FileHash == hash {
		return rec.Duration, nil
	}

	res, err := o.runner.Run(ctx, Command{
		Label:         "⏳ Calculating duration",
		Inputs:        []Input{{Path: path}},
		OutputOptions: []string{"-f", "null"},
		Output:        "-",
	})
	if err != nil || !res.HasOutTime || res.OutTime <= 0 {
		if err != nil {
			o.log.Warnf("duration: full decode of %s failed, probing instead: %v", path, Summary(err))
		}
		// Not an accurate measurement, so no sidecar.
		return o.Approximate(ctx, path)
	}
	d := res.OutTime

	b, _ := json.Marshal(model.DurationRecord{FileHash: hash, Duration: d})
	if err := cache.WriteFile(sidecar, b); err != nil {
		o.log.Warnf("duration: could not write %s: %v", sidecar, err)
	}
	return d, nil
}

func SidecarPath(path string) string { return path + ".duration.json" }

func readSidecar(path string) (model.DurationRecord, bool) {
	var rec model.DurationRecord
	b, err := os.ReadFile(path)
	if err != nil || len(b) == 0 {
		return rec, false
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, false
	}
	return rec, rec.FileHash != "" && rec.Duration > 0
}
