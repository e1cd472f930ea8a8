package canvas

import (
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/dunamismax/manipulatr/internal/mimeguess"
)

const DefaultJPEGQuality = 92

// Encoder writes img in the requested MIME type and reports the type it
// actually wrote.
type Encoder interface {
	Encode(w io.Writer, img image.Image, mime string) (string, error)
}

type imagingEncoder struct {
	jpegQuality int
}

func newImagingEncoder(jpegQuality int) imagingEncoder {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return imagingEncoder{jpegQuality: jpegQuality}
}

func (e imagingEncoder) Encode(w io.Writer, img image.Image, mime string) (string, error) {
	mime = normalizeMIME(mime)

	var format imaging.Format
	switch mime {
	case mimeguess.JPEG:
		format = imaging.JPEG
	case mimeguess.GIF:
		format = imaging.GIF
	default:
		format = imaging.PNG
	}

	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(e.jpegQuality)); err != nil {
		return "", fmt.Errorf("imaging encode: %w", err)
	}
	return mime, nil
}

// normalizeMIME falls back to PNG for anything it does not know, the same
// way toDataURL does.
func normalizeMIME(mime string) string {
	switch m := strings.ToLower(strings.TrimSpace(mime)); m {
	case mimeguess.JPEG, "image/jpg":
		return mimeguess.JPEG
	case mimeguess.GIF:
		return mimeguess.GIF
	default:
		return mimeguess.PNG
	}
}
