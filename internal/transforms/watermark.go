package transforms

import (
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/font/basicfont"

	"github.com/dunamismax/manipulatr/internal/canvas"
	"github.com/dunamismax/manipulatr/internal/registry"
	"github.com/dunamismax/manipulatr/internal/settings"
)

const (
	defaultWatermarkText    = "manipulatr"
	defaultWatermarkOpacity = 0.65
	watermarkPad            = 12
)

// NewWatermark returns the text watermark transform. It is not a builtin;
// binaries register it next to the builtins.
func NewWatermark() registry.Transform {
	return registry.Func(watermark)
}

func watermark(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, s settings.Group) error {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	text := defaultWatermarkText
	if t, ok := s.String("text"); ok {
		text = strings.TrimSpace(t)
	}
	if text == "" {
		return invalid("watermark: text must not be empty")
	}

	opacity := defaultWatermarkOpacity
	if s.Has("opacity") {
		o, err := s.Float("opacity")
		if err != nil {
			return invalid("watermark: %v", err)
		}
		if o > 0 {
			opacity = math.Min(o, 1)
		}
	}

	gravity, _ := s.String("gravity")

	surface.SetSize(w, h)
	ctx.DrawImage(src, 0, 0, float64(w), float64(h))

	ctx.SetFont(basicfont.Face7x13)
	ctx.SetFillColor(color.NRGBA{R: 255, G: 255, B: 255, A: uint8(math.Round(opacity * 255))})
	x, y, ax, ay := watermarkAnchor(float64(w), float64(h), gravity)
	ctx.FillText(text, x, y, ax, ay)
	return nil
}

func watermarkAnchor(w, h float64, gravity string) (x, y, ax, ay float64) {
	left, center, right := float64(watermarkPad), w/2, w-watermarkPad
	top, middle, bottom := float64(watermarkPad), h/2, h-watermarkPad

	switch strings.ToLower(strings.TrimSpace(gravity)) {
	case "northwest":
		return left, top, 0, 1
	case "north":
		return center, top, 0.5, 1
	case "northeast":
		return right, top, 1, 1
	case "west":
		return left, middle, 0, 0.5
	case "center":
		return center, middle, 0.5, 0.5
	case "east":
		return right, middle, 1, 0.5
	case "southwest":
		return left, bottom, 0, 0
	case "south":
		return center, bottom, 0.5, 0
	default:
		return right, bottom, 1, 0
	}
}
