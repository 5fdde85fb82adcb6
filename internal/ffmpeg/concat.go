package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"story-video-gen/internal/cache"
)

type ConcatOptions struct {
	Files        []string
	Output       string
	AudioBitrate int // kbit/s, 0 keeps ffmpeg's default
	VideoBitrate int
	// Demuxer selects the concat demuxer over the concat: protocol for the
	// stream-copy attempt.
	Demuxer bool
	Label   string
}

// Concat joins Files into Output. It tries a stream copy first and falls back
// to re-encoding through the concat filter when the copy fails.
func (r *Runner) Concat(ctx context.Context, o ConcatOptions) (Result, error) {
	if len(o.Files) == 0 {
		return Result{}, errors.New("concat: an input file list is required")
	}
	if o.Output == "" {
		return Result{}, errors.New("concat: an output file is required")
	}
	if len(o.Files) == 1 {
		if err := copyFile(o.Files[0], o.Output); err != nil {
			return Result{}, fmt.Errorf("concat: %w", err)
		}
		return Result{Cmd: CommandLine("cp", []string{o.Files[0], o.Output})}, nil
	}

	res, err := r.concatCopy(ctx, o)
	if err == nil {
		return res, nil
	}
	r.log.Warnf("[FFMPEG] stream-copy concat of %d files failed, re-encoding: %v", len(o.Files), Summary(err))
	return r.concatEncode(ctx, o)
}

func (r *Runner) concatCopy(ctx context.Context, o ConcatOptions) (Result, error) {
	c := Command{Label: o.Label, Output: o.Output}
	c.OutputOptions = append(bitrateOptions(o), "-c", "copy")
	if !o.Demuxer {
		c.Inputs = []Input{{Path: "concat:" + strings.Join(o.Files, "|")}}
		return r.Run(ctx, c)
	}

	list := o.Output + ".txt"
	var b strings.Builder
	for _, f := range o.Files {
		abs, err := filepath.Abs(f)
		if err != nil {
			return Result{}, err
		}
		b.WriteString("file '" + strings.ReplaceAll(abs, "'", `'\''`) + "'\n")
	}
	if err := os.WriteFile(list, []byte(b.String()), 0o644); err != nil {
		return Result{}, fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(list)
	c.Inputs = []Input{{Path: list, Options: []string{"-f", "concat", "-safe", "0"}}}
	return r.Run(ctx, c)
}

func (r *Runner) concatEncode(ctx context.Context, o ConcatOptions) (Result, error) {
	video := strings.EqualFold(filepath.Ext(o.Output), ".webm")
	c := Command{Label: o.Label, Output: o.Output}
	var pads []string
	for i, f := range o.Files {
		c.Inputs = append(c.Inputs, Input{Path: f})
		if video {
			pads = append(pads, fmt.Sprintf("%d:v", i))
		}
		pads = append(pads, fmt.Sprintf("%d:a", i))
	}
	v := 0
	outs := []string{"a"}
	if video {
		v = 1
		outs = []string{"v", "a"}
	}
	c.Filters = []Filter{{
		Inputs:  pads,
		Name:    "concat",
		Options: []Option{Opt("n", len(o.Files)), Opt("v", v), Opt("a", 1)},
		Outputs: outs,
	}}
	for _, out := range outs {
		c.Maps = append(c.Maps, "["+out+"]")
	}
	c.OutputOptions = bitrateOptions(o)
	if video {
		c.OutputOptions = append(c.OutputOptions, "-c:v", "libvpx-vp9", "-pix_fmt", "yuva420p", "-c:a", "libopus")
	} else {
		c.OutputOptions = append(c.OutputOptions, "-c:a", "libmp3lame")
	}
	return r.Run(ctx, c)
}

func bitrateOptions(o ConcatOptions) []string {
	var opts []string
	if o.AudioBitrate > 0 {
		opts = append(opts, "-b:a", fmt.Sprintf("%dk", o.AudioBitrate))
	}
	if o.VideoBitrate > 0 {
		opts = append(opts, "-b:v", fmt.Sprintf("%dk", o.VideoBitrate))
	}
	return opts
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	return cache.WriteFile(dst, data)
}
