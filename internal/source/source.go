// Package source fetches and decodes the images that document elements point
// at. A Loader dispatches on the locator scheme to a Reader.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	SchemeFile  = "file"
	SchemeData  = "data"
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeS3    = "s3"

	DefaultHTTPTimeout = 15 * time.Second
)

var (
	ErrUnsupportedScheme = errors.New("unsupported source scheme")
	ErrTooLarge          = errors.New("source exceeds size limit")
	ErrOutsideRoot       = errors.New("source path escapes root")
	ErrEmptySource       = errors.New("source is empty")
	ErrHostNotAllowed    = errors.New("source host is not allowed")
	ErrPrivateAddress    = errors.New("source address is private")
)

// Reader opens the raw bytes behind one locator.
type Reader interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Config for a Loader. AllowedHosts and BlockPrivate restrict http(s)
// sources; see HTTPOptions.
type Config struct {
	Root         string
	MaxBytes     string
	HTTPTimeout  time.Duration
	AllowedHosts []string
	BlockPrivate bool
}

// ParseMaxBytes turns a human size such as "20MB" into bytes. Empty or zero
// means no limit.
func ParseMaxBytes(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("parse max bytes %q: %w", raw, err)
	}
	return int64(n), nil
}

type Loader struct {
	readers  map[string]Reader
	maxBytes int64
	tracer   trace.Tracer
}

// NewLoader wires the file, data and http(s) readers. objects may be nil, in
// which case s3:// locators are rejected as unsupported.
func NewLoader(cfg Config, objects ObjectOpener) (*Loader, error) {
	maxBytes, err := ParseMaxBytes(cfg.MaxBytes)
	if err != nil {
		return nil, err
	}

	httpReader := NewHTTPReader(HTTPOptions{
		Timeout:      cfg.HTTPTimeout,
		AllowedHosts: cfg.AllowedHosts,
		BlockPrivate: cfg.BlockPrivate,
	})
	l := &Loader{
		readers: map[string]Reader{
			SchemeFile:  DiskReader{Root: cfg.Root},
			SchemeData:  DataReader{},
			SchemeHTTP:  httpReader,
			SchemeHTTPS: httpReader,
		},
		maxBytes: maxBytes,
		tracer:   otel.Tracer("manipulatr/source"),
	}
	if objects != nil {
		l.readers[SchemeS3] = ObjectStoreReader{Objects: objects}
	}
	return l, nil
}

// Handle registers or replaces the reader for scheme.
func (l *Loader) Handle(scheme string, r Reader) {
	l.readers[strings.ToLower(scheme)] = r
}

// Disable removes the reader for scheme; its locators become unsupported.
func (l *Loader) Disable(scheme string) {
	delete(l.readers, strings.ToLower(scheme))
}

// Load reads ref and decodes it, applying EXIF orientation.
func (l *Loader) Load(ctx context.Context, ref string) (image.Image, error) {
	ctx, span := l.tracer.Start(ctx, "source.load")
	defer span.End()

	data, err := l.Read(ctx, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("source.bytes", len(data)))

	img, err := Decode(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, err
	}
	return img, nil
}

// Read returns the raw bytes behind ref, bounded by the size limit.
func (l *Loader) Read(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrEmptySource
	}

	scheme := Scheme(ref)
	reader, ok := l.readers[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rc, err := reader.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return readLimited(rc, l.maxBytes)
}

// Scheme reports the lower-cased scheme of ref. Anything without one, or
// with a single-letter scheme such as a drive letter, is a file path.
func Scheme(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || len(u.Scheme) < 2 {
		if strings.HasPrefix(strings.ToLower(ref), "data:") {
			return SchemeData
		}
		return SchemeFile
	}
	return strings.ToLower(u.Scheme)
}

func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %s", ErrTooLarge, humanize.Bytes(uint64(limit)))
	}
	return data, nil
}
