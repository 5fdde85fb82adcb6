package video

import (
	"context"
	"fmt"
	"strconv"

	"story-video-gen/internal"
	"story-video-gen/internal/ffmpeg"
	"story-video-gen/internal/model"
)

// Composer builds the single final ffmpeg invocation.
type Composer struct {
	runner *ffmpeg.Runner
	video  internal.VideoConfig
	audio  internal.AudioConfig
}

// ComposeInput is everything the final render reads.
type ComposeInput struct {
	Timeline    model.Timeline
	Video       Track
	Audio       Track
	Output      string
	Accurate    bool
	Autocorrect bool
}

// Compose renders the output file. Failures are returned with ffmpeg's stderr
// and are not retried.
func (c *Composer) Compose(ctx context.Context, in ComposeInput) error {
	_, err := c.runner.Run(ctx, c.Command(in))
	return err
}

// Command is the final render: inputs [narration, background video,
// background audio, caption images...], a 3-way audio mix, frame geometry on
// the background and the caption overlays.
func (c *Composer) Command(in ComposeInput) ffmpeg.Command {
	tl := in.Timeline
	narration := ffmpeg.Input{Path: tl.CombinedFile}
	if in.Accurate {
		// The native vp9 decoder drops the alpha plane.
		narration.Options = []string{"-c:v", "libvpx-vp9"}
	}
	cmd := ffmpeg.Command{
		Label: "🎥 Rendering final video...",
		Inputs: []ffmpeg.Input{
			narration,
			{Path: in.Video.Path, Seek: in.Video.Start},
			{Path: in.Audio.Path, Seek: in.Audio.Start},
		},
		Output:           in.Output,
		ExpectedDuration: tl.TotalDuration,
	}

	filters := []ffmpeg.Filter{{
		Inputs:  []string{"0:a", "1:a", "2:a"},
		Name:    "amix",
		Options: []ffmpeg.Option{ffmpeg.Opt("inputs", 3)},
		Outputs: []string{"aout"},
	}}
	filters = append(filters, c.geometry("1:v", "bg")...)

	if in.Accurate {
		filters = append(filters,
			ffmpeg.Filter{Inputs: []string{"0:v"}, Name: "setpts", Options: []ffmpeg.Option{ffmpeg.Opt("", "PTS-STARTPTS")}, Outputs: []string{"tts"}},
			ffmpeg.Filter{Inputs: []string{"tts", "bg"}, Name: "scale2ref", Options: []ffmpeg.Option{ffmpeg.Opt("w", "iw"), ffmpeg.Opt("h", "ih")}, Outputs: []string{"ttsscaled", "bgref"}},
			ffmpeg.Filter{Inputs: []string{"bgref", "ttsscaled"}, Name: "overlay", Options: centered(), Outputs: []string{"vout"}},
		)
	} else {
		base := "bg"
		windows := tl.Windows(in.Autocorrect)
		for i, seg := range tl.Segments {
			idx := len(cmd.Inputs)
			cmd.Inputs = append(cmd.Inputs, ffmpeg.Input{Path: seg.ImageFile})
			n := strconv.Itoa(i)
			next := "base" + n
			if i == len(tl.Segments)-1 {
				next = "vout"
			}
			w := windows[i]
			filters = append(filters,
				ffmpeg.Filter{
					Inputs:  []string{fmt.Sprintf("%d:v", idx), base},
					Name:    "scale2ref",
					Options: []ffmpeg.Option{ffmpeg.Opt("w", "iw"), ffmpeg.Opt("h", "ih")},
					Outputs: []string{"cap" + n, "ref" + n},
				},
				ffmpeg.Filter{
					Inputs: []string{"ref" + n, "cap" + n},
					Name:   "overlay",
					Options: append(centered(), ffmpeg.Opt("enable", fmt.Sprintf("between(t,%s,%s)",
						ffmpeg.FormatSeconds(roundMicros(w.Start)), ffmpeg.FormatSeconds(roundMicros(w.End))))),
					Outputs: []string{next},
				},
			)
			base = next
		}
		if len(tl.Segments) == 0 {
			filters = append(filters, ffmpeg.Filter{Inputs: []string{"bg"}, Name: "null", Outputs: []string{"vout"}})
		}
	}

	cmd.Filters = filters
	cmd.Maps = []string{"[vout]", "[aout]"}
	cmd.OutputOptions = []string{
		"-t", ffmpeg.FormatSeconds(tl.TotalDuration),
		"-b:a", fmt.Sprintf("%dk", c.audio.Bitrate),
		"-b:v", fmt.Sprintf("%dk", c.video.Bitrate),
	}
	return cmd
}

func centered() []ffmpeg.Option {
	return []ffmpeg.Option{
		ffmpeg.Opt("x", "(main_w-overlay_w)/2"),
		ffmpeg.Opt("y", "(main_h-overlay_h)/2"),
	}
}

// geometry fits the background stream to the output frame, either by
// cropping to the aspect ratio or by scaling with optional letterboxing.
func (c *Composer) geometry(in, out string) []ffmpeg.Filter {
	v := c.video
	w, h := v.Width, v.Height
	if v.ResizeMethod == "crop" {
		x := map[string]string{"left": "0", "center": "(in_w-out_w)/2", "right": "(in_w-out_w)"}[v.CropStyleWidth]
		y := map[string]string{"top": "0", "center": "(in_h-out_h)/2", "bottom": "(in_h-out_h)"}[v.CropStyleHeight]
		cw, ch := "iw", "ih"
		if h > w {
			cw = fmt.Sprintf("ih*(%d/%d)", w, h)
		}
		if h < w {
			ch = fmt.Sprintf("iw*(%d/%d)", h, w)
		}
		return []ffmpeg.Filter{{
			Inputs:  []string{in},
			Name:    "crop",
			Options: []ffmpeg.Option{ffmpeg.Opt("", cw), ffmpeg.Opt("", ch), ffmpeg.Opt("", x), ffmpeg.Opt("", y)},
			Outputs: []string{out},
		}}
	}
	if !v.ScalePad {
		return []ffmpeg.Filter{
			{Inputs: []string{in}, Name: "scale", Options: []ffmpeg.Option{ffmpeg.Opt("w", w), ffmpeg.Opt("h", h)}, Outputs: []string{"scaled"}},
			{Inputs: []string{"scaled"}, Name: "setsar", Options: []ffmpeg.Option{ffmpeg.Opt("", 1)}, Outputs: []string{out}},
		}
	}
	aspect := ffmpeg.FormatSeconds(float64(w) / float64(h))
	return []ffmpeg.Filter{
		{
			Inputs: []string{in},
			Name:   "scale",
			Options: []ffmpeg.Option{
				ffmpeg.Opt("w", fmt.Sprintf("if(gt(a,%s),%d,trunc(%d*a/2)*2)", aspect, w, h)),
				ffmpeg.Opt("h", fmt.Sprintf("if(lt(a,%s),%d,trunc(%d/a/2)*2)", aspect, h, w)),
			},
			Outputs: []string{"scaled"},
		},
		{
			Inputs: []string{"scaled"},
			Name:   "pad",
			Options: []ffmpeg.Option{
				ffmpeg.Opt("w", w),
				ffmpeg.Opt("h", h),
				ffmpeg.Opt("x", fmt.Sprintf("if(gt(a,%s),0,(%d-iw)/2)", aspect, w)),
				ffmpeg.Opt("y", fmt.Sprintf("if(lt(a,%s),0,(%d-ih)/2)", aspect, h)),
				ffmpeg.Opt("color", v.ScalePadColor),
			},
			Outputs: []string{out},
		},
	}
}
