// Package ffmpeg drives the ffmpeg and ffprobe binaries from declarative
// command descriptions.
package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// Input is one -i argument with its input-side options.
type Input struct {
	Path       string
	Seek       float64 // -ss, seconds
	StreamLoop int     // -stream_loop, 0 means none
	Options    []string
}

// Option is one filter option. An empty Key makes it positional.
type Option struct {
	Key   string
	Value string
}

// Opt builds an Option, formatting numbers without trailing zeros.
func Opt(key string, value any) Option {
	return Option{Key: key, Value: formatValue(value)}
}

// Filter is one node of a filter graph with explicit pad labels.
type Filter struct {
	Inputs  []string
	Name    string
	Options []Option
	Outputs []string
}

// Command describes a single ffmpeg invocation that writes one output.
type Command struct {
	Label         string // shown by the progress reporter
	Inputs        []Input
	Filters       []Filter
	Maps          []string
	OutputOptions []string
	Output        string

	// ExpectedDuration turns out_time progress into a fraction. Zero disables it.
	ExpectedDuration float64
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return FormatSeconds(x)
	case int:
		return strconv.Itoa(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(x)
	}
}

// FormatSeconds prints a float with at most 6 decimals and no trailing zeros.
func FormatSeconds(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func quoteFilterValue(v string) string {
	if strings.ContainsAny(v, ",:;[]'") {
		return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
	}
	return v
}

func (f Filter) String() string {
	var b strings.Builder
	for _, in := range f.Inputs {
		b.WriteString("[" + in + "]")
	}
	b.WriteString(f.Name)
	for i, o := range f.Options {
		if i == 0 {
			b.WriteByte('=')
		} else {
			b.WriteByte(':')
		}
		if o.Key != "" {
			b.WriteString(o.Key + "=")
		}
		b.WriteString(quoteFilterValue(o.Value))
	}
	for _, out := range f.Outputs {
		b.WriteString("[" + out + "]")
	}
	return b.String()
}

// Graph joins filters into a -filter_complex value.
func Graph(filters []Filter) string {
	parts := make([]string, len(filters))
	for i, f := range filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, ";")
}

// Args renders the full argument list. Output is always force-overwritten and
// machine-readable progress goes to stdout.
func (c Command) Args(threads int) []string {
	args := []string{"-hide_banner", "-nostats", "-progress", "pipe:1"}
	for _, in := range c.Inputs {
		args = append(args, in.Options...)
		if in.StreamLoop != 0 {
			args = append(args, "-stream_loop", strconv.Itoa(in.StreamLoop))
		}
		if in.Seek > 0 {
			args = append(args, "-ss", FormatSeconds(in.Seek))
		}
		args = append(args, "-i", in.Path)
	}
	if len(c.Filters) > 0 {
		args = append(args, "-filter_complex", Graph(c.Filters))
	}
	for _, m := range c.Maps {
		args = append(args, "-map", m)
	}
	args = append(args, c.OutputOptions...)
	if threads > 0 {
		args = append(args, "-threads", strconv.Itoa(threads))
	}
	args = append(args, "-y", c.Output)
	return args
}

// CommandLine is a copy-pasteable rendering of name and args.
func CommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;()<>*?[]{}!#~=,") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
