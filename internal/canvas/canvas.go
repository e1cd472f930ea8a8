// Package canvas provides an offscreen 2D drawing surface with the subset of
// the HTML canvas model that transforms need: a resizable surface, a bound
// context with a current transformation matrix, raw pixel access and
// data URL export.
package canvas

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/fogleman/gg"
	"github.com/vincent-petithory/dataurl"
	"golang.org/x/image/font"
)

const (
	DefaultWidth  = 300
	DefaultHeight = 150

	// EmptyDataURL is what a zero-area surface exports.
	EmptyDataURL = "data:,"
)

// Canvas is owned by a single job and is not safe for concurrent use.
type Canvas struct {
	dc      *gg.Context
	encoder Encoder
	ctx     *Context
}

func New(encoder Encoder) *Canvas {
	c := &Canvas{
		dc:      gg.NewContext(DefaultWidth, DefaultHeight),
		encoder: encoder,
	}
	c.ctx = &Context{canvas: c}
	return c
}

func (c *Canvas) Width() int {
	return c.dc.Width()
}

func (c *Canvas) Height() int {
	return c.dc.Height()
}

// SetSize clears the surface and resets the context state, like assigning
// width/height on an HTML canvas. Negative sizes are clamped to zero.
func (c *Canvas) SetSize(width, height int) {
	c.dc = gg.NewContext(max(0, width), max(0, height))
}

// Context returns the 2D context bound to this surface.
func (c *Canvas) Context() *Context {
	return c.ctx
}

// Image exposes the backing pixels.
func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

// ToDataURL encodes the surface. The returned URL carries the MIME type the
// encoder actually produced, which may differ from the requested one when it
// is unsupported.
func (c *Canvas) ToDataURL(mime string) (string, error) {
	if c.Width() == 0 || c.Height() == 0 {
		return EmptyDataURL, nil
	}
	if c.encoder == nil {
		return "", fmt.Errorf("canvas has no encoder")
	}

	var buf bytes.Buffer
	written, err := c.encoder.Encode(&buf, c.dc.Image(), mime)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", mime, err)
	}
	return dataurl.New(buf.Bytes(), written).String(), nil
}

// Context mirrors CanvasRenderingContext2D. Its state lives on the canvas and
// is discarded by SetSize.
type Context struct {
	canvas *Canvas
}

func (x *Context) Rotate(angle float64) {
	x.canvas.dc.Rotate(angle)
}

func (x *Context) Translate(tx, ty float64) {
	x.canvas.dc.Translate(tx, ty)
}

func (x *Context) Scale(sx, sy float64) {
	x.canvas.dc.Scale(sx, sy)
}

// DrawImage draws src scaled into the rectangle (dx, dy, dw, dh) of the
// current coordinate space, composited source-over.
func (x *Context) DrawImage(src image.Image, dx, dy, dw, dh float64) {
	b := src.Bounds()
	if b.Empty() || dw == 0 || dh == 0 {
		return
	}

	dc := x.canvas.dc
	dc.Push()
	defer dc.Pop()

	dc.Translate(dx, dy)
	sx, sy := dw/float64(b.Dx()), dh/float64(b.Dy())
	if sx != 1 || sy != 1 {
		dc.Scale(sx, sy)
	}
	if b.Min != (image.Point{}) {
		// gg maps src coordinates as-is, so shift sub-images back to the origin.
		dc.Translate(float64(-b.Min.X), float64(-b.Min.Y))
	}
	dc.DrawImage(src, 0, 0)
}

func (x *Context) SetFont(face font.Face) {
	x.canvas.dc.SetFontFace(face)
}

func (x *Context) SetFillColor(c color.Color) {
	x.canvas.dc.SetColor(c)
}

// FillText draws text with its anchor point at (tx, ty). ax and ay place
// the anchor inside the text box: (0,0) is the baseline start, (1,1) the
// top end.
func (x *Context) FillText(text string, tx, ty, ax, ay float64) {
	x.canvas.dc.DrawStringAnchored(text, tx, ty, ax, ay)
}

// ImageData is a straight-alpha RGBA buffer, four bytes per pixel.
type ImageData struct {
	Width  int
	Height int
	Data   []uint8
}

// GetImageData reads a rectangle of the surface, ignoring the transform.
// Pixels outside the surface read as transparent black.
func (x *Context) GetImageData(sx, sy, sw, sh int) *ImageData {
	sw, sh = max(0, sw), max(0, sh)
	out := &ImageData{Width: sw, Height: sh, Data: make([]uint8, 4*sw*sh)}
	src := x.canvas.dc.Image()
	bounds := src.Bounds()

	i := 0
	for y := sy; y < sy+sh; y++ {
		for px := sx; px < sx+sw; px++ {
			if (image.Point{X: px, Y: y}).In(bounds) {
				c := color.NRGBAModel.Convert(src.At(px, y)).(color.NRGBA)
				out.Data[i], out.Data[i+1], out.Data[i+2], out.Data[i+3] = c.R, c.G, c.B, c.A
			}
			i += 4
		}
	}
	return out
}

// PutImageData replaces surface pixels with data at (dx, dy), bypassing the
// transform and compositing.
func (x *Context) PutImageData(data *ImageData, dx, dy int) {
	if data == nil {
		return
	}
	dst, ok := x.canvas.dc.Image().(draw.Image)
	if !ok {
		return
	}
	bounds := dst.Bounds()

	for y := 0; y < data.Height; y++ {
		for px := 0; px < data.Width; px++ {
			p := image.Point{X: dx + px, Y: dy + y}
			if !p.In(bounds) {
				continue
			}
			i := 4 * (y*data.Width + px)
			dst.Set(p.X, p.Y, color.NRGBA{R: data.Data[i], G: data.Data[i+1], B: data.Data[i+2], A: data.Data[i+3]})
		}
	}
}

// ClampUint8 converts like a Uint8ClampedArray assignment: clamp to [0,255]
// and round half to even.
func ClampUint8(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.RoundToEven(v))
	}
}
