package mimeguess

import "strings"

const (
	GIF  = "image/gif"
	PNG  = "image/png"
	JPEG = "image/jpeg"

	Default = JPEG
)

// Guess maps the extension of a locator (or a bare format name such as
// "png") to an output MIME type. It never fails.
func Guess(locator string) string {
	switch strings.ToLower(Extension(locator)) {
	case "gif":
		return GIF
	case "png":
		return PNG
	default:
		return Default
	}
}

// Extension returns everything after the final '.', or the whole locator
// when it has none.
func Extension(locator string) string {
	if i := strings.LastIndexByte(locator, '.'); i >= 0 {
		return locator[i+1:]
	}
	return locator
}
