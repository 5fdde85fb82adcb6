// Package caption draws caption cards: the sentence being narrated, centered
// and word-wrapped on a frame the size of the output video.
package caption

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"story-video-gen/internal/logging"
)

type Style struct {
	Width, Height int

	PaddingWidth  int
	PaddingHeight int
	BetweenLines  int

	Background  string
	Color       string
	StrokeColor string
	StrokeWidth float64
	Font        string
	FontSize    float64
	FontsDir    string
}

type Renderer struct {
	style Style
	face  font.Face

	bg, fg, stroke color.NRGBA
}

// New resolves colors and the font face once. A missing fonts/<Font>.ttf falls
// back to the built-in Go Regular face.
func New(style Style, log *logging.Logger) (*Renderer, error) {
	if style.Width <= 0 || style.Height <= 0 {
		return nil, fmt.Errorf("caption: invalid frame %dx%d", style.Width, style.Height)
	}
	r := &Renderer{style: style}
	var err error
	if r.bg, err = ParseColor(style.Background); err != nil {
		return nil, fmt.Errorf("captions.background: %w", err)
	}
	if r.fg, err = ParseColor(style.Color); err != nil {
		return nil, fmt.Errorf("captions.color: %w", err)
	}
	if r.stroke, err = ParseColor(style.StrokeColor); err != nil {
		return nil, fmt.Errorf("captions.stroke_color: %w", err)
	}

	ttf := goregular.TTF
	if style.Font != "" && style.FontsDir != "" {
		path := filepath.Join(style.FontsDir, style.Font+".ttf")
		if b, err := os.ReadFile(path); err == nil {
			ttf = b
		} else {
			log.Warnf("caption: font %s not found, using Go Regular", path)
		}
	}
	f, err := truetype.Parse(ttf)
	if err != nil {
		return nil, fmt.Errorf("caption: parse font %q: %w", style.Font, err)
	}
	r.face = truetype.NewFace(f, &truetype.Options{Size: style.FontSize, DPI: 72, Hinting: font.HintingFull})
	return r, nil
}

// Render implements the image service used by the segment renderer.
func (r *Renderer) Render(_ context.Context, text string) ([]byte, error) {
	return r.FromText(text)
}

// FromText draws text centered on a background-filled frame.
func (r *Renderer) FromText(text string) ([]byte, error) {
	w, h := r.style.Width, r.style.Height
	dc := gg.NewContext(w, h)
	dc.SetColor(r.bg)
	dc.Clear()
	dc.SetFontFace(r.face)

	maxWidth := float64(w - 2*r.style.PaddingWidth)
	lines := dc.WordWrap(strings.Join(strings.Fields(text), " "), maxWidth)
	lineHeight := dc.FontHeight() + float64(r.style.BetweenLines)
	firstY := float64(h)/2 - float64(len(lines)-1)*lineHeight/2
	cx := float64(w) / 2

	radius := int(r.style.StrokeWidth/2 + 0.5)
	for i, line := range lines {
		y := firstY + float64(i)*lineHeight
		if radius > 0 {
			dc.SetColor(r.stroke)
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					if dx*dx+dy*dy > radius*radius || (dx == 0 && dy == 0) {
						continue
					}
					dc.DrawStringAnchored(line, cx+float64(dx), y+float64(dy), 0.5, 0.5)
				}
			}
		}
		dc.SetColor(r.fg)
		dc.DrawStringAnchored(line, cx, y, 0.5, 0.5)
	}
	return encode(dc)
}

// Resize fits an existing image (a post screenshot) inside the frame. The
// longer side keeps the caption padding; the rest is background.
func (r *Renderer) Resize(src []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("caption: decode image: %w", err)
	}
	w, h := r.style.Width, r.style.Height
	ob := img.Bounds()
	ow, oh := float64(ob.Dx()), float64(ob.Dy())

	var padW, padH float64
	if ow >= oh {
		padW = float64(2 * r.style.PaddingWidth)
	}
	if oh >= ow {
		padH = float64(2 * r.style.PaddingHeight)
	}
	scale := min((float64(w)-padW)/ow, (float64(h)-padH)/oh)
	sw, sh := int(ow*scale+0.5), int(oh*scale+0.5)

	scaled := image.NewRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, ob, draw.Over, nil)

	dc := gg.NewContext(w, h)
	dc.SetColor(r.bg)
	dc.Clear()
	dc.DrawImageAnchored(scaled, w/2, h/2, 0.5, 0.5)
	return encode(dc)
}

func encode(dc *gg.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
