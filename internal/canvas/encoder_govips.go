//go:build govips && cgo

package canvas

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/davidbyttow/govips/v2/vips"

	"github.com/dunamismax/manipulatr/internal/mimeguess"
)

// govipsEncoder hands the surface to libvips as a lossless PNG and lets it
// produce the final JPEG/PNG. GIF goes through the imaging encoder.
type govipsEncoder struct {
	fallback imagingEncoder
}

func (e govipsEncoder) Encode(w io.Writer, img image.Image, mime string) (string, error) {
	mime = normalizeMIME(mime)
	if mime == mimeguess.GIF {
		return e.fallback.Encode(w, img, mime)
	}

	var staged bytes.Buffer
	if _, err := e.fallback.Encode(&staged, img, mimeguess.PNG); err != nil {
		return "", err
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return "", fmt.Errorf("load surface into vips: %w", err)
	}
	defer ref.Close()

	var data []byte
	switch mime {
	case mimeguess.JPEG:
		params := vips.NewJpegExportParams()
		params.Quality = e.fallback.jpegQuality
		data, _, err = ref.ExportJpeg(params)
	default:
		data, _, err = ref.ExportPng(vips.NewPngExportParams())
	}
	if err != nil {
		return "", fmt.Errorf("vips export %s: %w", mime, err)
	}

	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("write encoded surface: %w", err)
	}
	return mime, nil
}
