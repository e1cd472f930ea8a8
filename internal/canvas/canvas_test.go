package canvas

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/vincent-petithory/dataurl"

	"github.com/dunamismax/manipulatr/internal/mimeguess"
)

func TestNewCanvasDefaults(t *testing.T) {
	c := New(NewEncoder(0))
	if c.Width() != DefaultWidth || c.Height() != DefaultHeight {
		t.Fatalf("expected %dx%d, got %dx%d", DefaultWidth, DefaultHeight, c.Width(), c.Height())
	}
}

func TestToDataURLFormats(t *testing.T) {
	for _, mime := range []string{mimeguess.PNG, mimeguess.JPEG, mimeguess.GIF} {
		c := New(NewEncoder(80))
		c.SetSize(4, 3)
		c.Context().DrawImage(solid(4, 3, color.NRGBA{R: 200, A: 255}), 0, 0, 4, 3)

		url, err := c.ToDataURL(mime)
		if err != nil {
			t.Fatalf("ToDataURL(%s): %v", mime, err)
		}
		if !strings.HasPrefix(url, "data:"+mime+";base64,") {
			t.Fatalf("unexpected data url prefix for %s: %.40s", mime, url)
		}

		img := decodeURL(t, url)
		if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
			t.Fatalf("expected 4x3 for %s, got %v", mime, img.Bounds())
		}
	}
}

func TestToDataURLUnknownMIMEFallsBackToPNG(t *testing.T) {
	c := New(NewEncoder(0))
	c.SetSize(2, 2)

	url, err := c.ToDataURL("image/bmp")
	if err != nil {
		t.Fatalf("ToDataURL: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png") {
		t.Fatalf("expected png fallback, got %.30s", url)
	}
}

func TestToDataURLEmptySurface(t *testing.T) {
	c := New(NewEncoder(0))
	c.SetSize(0, 10)

	url, err := c.ToDataURL(mimeguess.PNG)
	if err != nil {
		t.Fatalf("ToDataURL: %v", err)
	}
	if url != EmptyDataURL {
		t.Fatalf("expected %q, got %q", EmptyDataURL, url)
	}
}

func TestToDataURLEncoderError(t *testing.T) {
	c := New(failingEncoder{})
	c.SetSize(1, 1)
	if _, err := c.ToDataURL(mimeguess.PNG); err == nil {
		t.Fatal("expected encoder error")
	}
}

func TestImageDataRoundTrip(t *testing.T) {
	c := New(NewEncoder(0))
	c.SetSize(2, 1)
	ctx := c.Context()

	ctx.PutImageData(&ImageData{Width: 2, Height: 1, Data: []uint8{
		10, 20, 30, 255,
		40, 50, 60, 255,
	}}, 0, 0)

	got := ctx.GetImageData(0, 0, 2, 1)
	want := []uint8{10, 20, 30, 255, 40, 50, 60, 255}
	if !bytes.Equal(got.Data, want) {
		t.Fatalf("expected %v, got %v", want, got.Data)
	}

	outside := ctx.GetImageData(1, 0, 2, 1)
	if outside.Data[4] != 0 || outside.Data[7] != 0 {
		t.Fatalf("expected transparent black outside the surface, got %v", outside.Data)
	}
}

func TestSetSizeClearsSurfaceAndState(t *testing.T) {
	c := New(NewEncoder(0))
	c.SetSize(2, 2)
	ctx := c.Context()
	ctx.Translate(1, 1)
	ctx.DrawImage(solid(1, 1, color.NRGBA{G: 255, A: 255}), 0, 0, 1, 1)

	c.SetSize(2, 2)
	if px := ctx.GetImageData(1, 1, 1, 1).Data; px[3] != 0 {
		t.Fatalf("expected cleared surface, got %v", px)
	}

	ctx.DrawImage(solid(1, 1, color.NRGBA{G: 255, A: 255}), 0, 0, 1, 1)
	if px := ctx.GetImageData(0, 0, 1, 1).Data; px[1] != 255 {
		t.Fatalf("expected translation reset after resize, got %v", px)
	}
}

func TestContextRotateRight(t *testing.T) {
	// 2x1 source: red then blue. Rotating right puts red on top.
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(1, 0, color.NRGBA{B: 255, A: 255})

	c := New(NewEncoder(0))
	c.SetSize(1, 2)
	ctx := c.Context()
	ctx.Rotate(math.Pi / 2)
	ctx.Translate(0, -1)
	ctx.DrawImage(src, 0, 0, 2, 1)

	top := ctx.GetImageData(0, 0, 1, 1).Data
	bottom := ctx.GetImageData(0, 1, 1, 1).Data
	if top[0] < 200 || bottom[2] < 200 {
		t.Fatalf("expected red over blue, got top=%v bottom=%v", top, bottom)
	}
}

func TestDrawImageSubImageOrigin(t *testing.T) {
	full := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	full.Set(2, 2, color.NRGBA{R: 255, A: 255})
	sub := full.SubImage(image.Rect(2, 2, 4, 4))

	c := New(NewEncoder(0))
	c.SetSize(2, 2)
	c.Context().DrawImage(sub, 0, 0, 2, 2)

	if px := c.Context().GetImageData(0, 0, 1, 1).Data; px[0] != 255 {
		t.Fatalf("expected sub-image origin at (0,0), got %v", px)
	}
}

func TestClampUint8(t *testing.T) {
	cases := map[float64]uint8{
		-4:    0,
		0.5:   0,
		1.5:   2,
		2.5:   2,
		254.6: 255,
		300:   255,
	}
	for in, want := range cases {
		if got := ClampUint8(in); got != want {
			t.Fatalf("ClampUint8(%v) = %d, want %d", in, got, want)
		}
	}
	if ClampUint8(math.NaN()) != 0 {
		t.Fatal("expected NaN to clamp to 0")
	}
}

func TestDetect(t *testing.T) {
	if got := Detect(NewEncoder(0)); got != Available {
		t.Fatalf("expected available, got %s", got)
	}
	if got := Detect(nil); got != Unavailable {
		t.Fatalf("expected unavailable without encoder, got %s", got)
	}
	if got := Detect(failingEncoder{}); got != Unavailable {
		t.Fatalf("expected unavailable with failing encoder, got %s", got)
	}
}

type failingEncoder struct{}

func (failingEncoder) Encode(io.Writer, image.Image, string) (string, error) {
	return "", errors.New("no codecs")
}

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func decodeURL(t *testing.T, url string) image.Image {
	t.Helper()

	du, err := dataurl.DecodeString(url)
	if err != nil {
		t.Fatalf("decode data url: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(du.Data))
	if err != nil {
		t.Fatalf("decode image: %v", err)
	}
	return img
}
