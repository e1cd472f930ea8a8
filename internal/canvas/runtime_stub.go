//go:build !govips || !cgo

package canvas

func Startup() error {
	return nil
}

func Shutdown() {}

func RuntimeName() string {
	return "imaging"
}

func NewEncoder(jpegQuality int) Encoder {
	return newImagingEncoder(jpegQuality)
}
