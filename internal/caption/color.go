package caption

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"golang.org/x/image/colornames"
)

// ParseColor accepts CSS color names, #rgb, #rrggbb, #rrggbbaa, rgb() and rgba().
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "transparent" {
		return color.NRGBA{}, nil
	}
	if c, ok := colornames.Map[s]; ok {
		return color.NRGBA{R: c.R, G: c.G, B: c.B, A: c.A}, nil
	}
	if strings.HasPrefix(s, "#") {
		return parseHex(s[1:])
	}
	if open := strings.IndexByte(s, '('); open > 0 && strings.HasSuffix(s, ")") {
		fn := s[:open]
		parts := strings.Split(s[open+1:len(s)-1], ",")
		if (fn == "rgb" && len(parts) == 3) || (fn == "rgba" && len(parts) == 4) {
			var ch [3]uint8
			for i := 0; i < 3; i++ {
				v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
				if err != nil || v < 0 || v > 255 {
					return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
				}
				ch[i] = uint8(v + 0.5)
			}
			a := uint8(255)
			if len(parts) == 4 {
				v, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
				if err != nil || v < 0 || v > 1 {
					return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
				}
				a = uint8(v*255 + 0.5)
			}
			return color.NRGBA{R: ch[0], G: ch[1], B: ch[2], A: a}, nil
		}
	}
	return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
}

func parseHex(h string) (color.NRGBA, error) {
	if len(h) == 3 || len(h) == 4 {
		var b strings.Builder
		for _, r := range h {
			b.WriteRune(r)
			b.WriteRune(r)
		}
		h = b.String()
	}
	if len(h) == 6 {
		h += "ff"
	}
	if len(h) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color #%s", h)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color #%s", h)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
