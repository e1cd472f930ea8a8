// Package transforms contains the transforms shipped with manipulatr.
package transforms

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/manipulatr/internal/canvas"
	"github.com/dunamismax/manipulatr/internal/registry"
	"github.com/dunamismax/manipulatr/internal/settings"
)

var ErrInvalidSetting = errors.New("invalid transform setting")

const (
	Scale     = "scale"
	Rotate    = "rotate"
	Flip      = "flip"
	Grayscale = "grayscale"
	Watermark = "watermark"
)

// Builtins returns the transforms every registry starts with.
func Builtins() map[string]registry.Transform {
	return map[string]registry.Transform{
		Scale:     registry.Func(scale),
		Rotate:    registry.Func(rotate),
		Flip:      registry.Func(flip),
		Grayscale: registry.Func(grayscale),
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSetting, fmt.Sprintf(format, args...))
}

func scale(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, s settings.Group) error {
	b := src.Bounds()

	var width, height int
	if s.Has("percentage") {
		pct, err := s.Float("percentage")
		if err != nil {
			return invalid("scale: %v", err)
		}
		factor := pct / 100
		width = int(math.Floor(float64(b.Dx()) * factor))
		height = int(math.Floor(float64(b.Dy()) * factor))
	} else {
		var err error
		if width, err = s.Int("width"); err != nil {
			return invalid("scale: %v", err)
		}
		if height, err = s.Int("height"); err != nil {
			return invalid("scale: %v", err)
		}
	}
	if width <= 0 || height <= 0 {
		return invalid("scale: target size %dx%d must be positive", width, height)
	}

	surface.SetSize(width, height)
	ctx.DrawImage(src, 0, 0, float64(width), float64(height))
	return nil
}

type rotation struct {
	angle      float64
	translateX float64
	translateY float64
	swap       bool
}

func rotationFor(mode string, w, h float64) (rotation, bool) {
	switch mode {
	case "left":
		return rotation{angle: 3 * math.Pi / 2, translateX: -w, swap: true}, true
	case "right":
		return rotation{angle: math.Pi / 2, translateY: -h, swap: true}, true
	case "half":
		return rotation{angle: math.Pi, translateX: -w, translateY: -h}, true
	default:
		return rotation{}, false
	}
}

func rotate(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, s settings.Group) error {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	mode, _ := s.String("mode")
	r, ok := rotationFor(mode, float64(w), float64(h))
	if !ok {
		return invalid("rotate: unsupported mode %q", mode)
	}

	if r.swap {
		surface.SetSize(h, w)
	} else {
		surface.SetSize(w, h)
	}
	ctx.Rotate(r.angle)
	ctx.Translate(r.translateX, r.translateY)
	ctx.DrawImage(src, 0, 0, float64(w), float64(h))
	return nil
}

func flip(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, s settings.Group) error {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	surface.SetSize(b.Dx(), b.Dy())

	direction, _ := s.String("direction")
	switch direction {
	case "vertical":
		ctx.Translate(0, h)
		ctx.Scale(1, -1)
	case "horizontal":
		ctx.Translate(w, 0)
		ctx.Scale(-1, 1)
	}
	ctx.DrawImage(src, 0, 0, w, h)
	return nil
}

// Luminance weights. They differ from Rec. 601 on purpose; existing pages
// depend on this exact output.
const (
	weightR = 0.34
	weightG = 0.5
	weightB = 0.16
)

func grayscale(src image.Image, surface *canvas.Canvas, ctx *canvas.Context, _ settings.Group) error {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	surface.SetSize(w, h)
	ctx.DrawImage(src, 0, 0, float64(w), float64(h))

	data := ctx.GetImageData(0, 0, w, h)
	px := data.Data
	for i := 0; i+3 < len(px); i += 4 {
		l := canvas.ClampUint8(weightR*float64(px[i]) + weightG*float64(px[i+1]) + weightB*float64(px[i+2]))
		px[i], px[i+1], px[i+2] = l, l, l
	}
	ctx.PutImageData(data, 0, 0)
	return nil
}
