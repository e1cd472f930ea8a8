package source

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/vincent-petithory/dataurl"
)

func TestLoadFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "img", "a.png"), buildTestPNG(t, 7, 3))

	l := newLoader(t, Config{Root: dir}, nil)

	for _, ref := range []string{"img/a.png", filepath.Join(dir, "img", "a.png"), "file://" + filepath.ToSlash(filepath.Join(dir, "img", "a.png"))} {
		img, err := l.Load(context.Background(), ref)
		if err != nil {
			t.Fatalf("load %s: %v", ref, err)
		}
		if b := img.Bounds(); b.Dx() != 7 || b.Dy() != 3 {
			t.Fatalf("load %s: unexpected bounds %v", ref, b)
		}
	}
}

func TestDiskRootConfinement(t *testing.T) {
	dir := t.TempDir()
	l := newLoader(t, Config{Root: filepath.Join(dir, "site")}, nil)

	_, err := l.Load(context.Background(), "../secret.png")
	if !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot, got %v", err)
	}
	_, err = l.Load(context.Background(), filepath.Join(dir, "other.png"))
	if !errors.Is(err, ErrOutsideRoot) {
		t.Fatalf("expected ErrOutsideRoot for absolute path, got %v", err)
	}
}

func TestLoadDataURL(t *testing.T) {
	ref := dataurl.New(buildTestPNG(t, 4, 5), "image/png").String()
	img, err := newLoader(t, Config{}, nil).Load(context.Background(), ref)
	if err != nil {
		t.Fatalf("load data url: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 5 {
		t.Fatalf("unexpected bounds %v", b)
	}
}

func TestLoadHTTP(t *testing.T) {
	body := buildTestPNG(t, 2, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	l := newLoader(t, Config{}, nil)
	if _, err := l.Load(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatalf("load http: %v", err)
	}
	if _, err := l.Load(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestHTTPBlocksPrivateAddresses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(buildTestPNG(t, 2, 2))
	}))
	defer srv.Close()

	l := newLoader(t, Config{BlockPrivate: true}, nil)
	_, err := l.Load(context.Background(), srv.URL+"/a.png")
	if !errors.Is(err, ErrPrivateAddress) {
		t.Fatalf("expected ErrPrivateAddress, got %v", err)
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("expected no request to reach the server, got %d", n)
	}
}

func TestHTTPAllowedHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/hop" {
			http.Redirect(w, r, strings.Replace(srvURL(r), "127.0.0.1", "localhost", 1)+"/a.png", http.StatusFound)
			return
		}
		_, _ = w.Write(buildTestPNG(t, 2, 2))
	}))
	defer srv.Close()

	denied := newLoader(t, Config{AllowedHosts: []string{"images.example.com"}}, nil)
	if _, err := denied.Load(context.Background(), srv.URL+"/a.png"); !errors.Is(err, ErrHostNotAllowed) {
		t.Fatalf("expected ErrHostNotAllowed, got %v", err)
	}

	allowed := newLoader(t, Config{AllowedHosts: []string{" 127.0.0.1 "}}, nil)
	if _, err := allowed.Load(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatalf("load allowed host: %v", err)
	}
	if _, err := allowed.Load(context.Background(), srv.URL+"/hop"); !errors.Is(err, ErrHostNotAllowed) {
		t.Fatalf("expected redirect to another host to be refused, got %v", err)
	}
}

func TestCheckHost(t *testing.T) {
	allowed := normalizeHosts([]string{"cdn.example.com", "*.images.test", ""})
	cases := map[string]bool{
		"https://cdn.example.com/a.png":  true,
		"https://CDN.example.com:8443/a": true,
		"https://a.images.test/x.png":    true,
		"https://images.test/x.png":      false,
		"https://evil-cdn.example.com/a": false,
		"http://169.254.169.254/latest/": false,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %s: %v", raw, err)
		}
		if got := checkHost(allowed, u) == nil; got != want {
			t.Fatalf("checkHost(%s) allowed=%v, want %v", raw, got, want)
		}
	}
	if err := checkHost(nil, &url.URL{Host: "anything"}); err != nil {
		t.Fatalf("empty allowlist should allow every host: %v", err)
	}
}

func TestRefusePrivate(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:80":       true,
		"10.1.2.3:443":       true,
		"192.168.0.10:8080":  true,
		"169.254.169.254:80": true,
		"0.0.0.0:80":         true,
		"[::1]:443":          true,
		"[fd00::1]:443":      true,
		"93.184.216.34:443":  false,
		"[2606:4700::1]:443": false,
	}
	for address, refused := range cases {
		err := refusePrivate("tcp", address, nil)
		if got := errors.Is(err, ErrPrivateAddress); got != refused {
			t.Fatalf("refusePrivate(%s) refused=%v, want %v (err %v)", address, got, refused, err)
		}
	}
}

func srvURL(r *http.Request) string {
	return "http://" + r.Host
}

func TestReadEnforcesMaxBytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "big.bin"), bytes.Repeat([]byte{1}, 2048))

	l := newLoader(t, Config{Root: dir, MaxBytes: "1KB"}, nil)
	if _, err := l.Read(context.Background(), "big.bin"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}

	l = newLoader(t, Config{Root: dir, MaxBytes: "4KB"}, nil)
	data, err := l.Read(context.Background(), "big.bin")
	if err != nil || len(data) != 2048 {
		t.Fatalf("expected 2048 bytes, got %d (%v)", len(data), err)
	}
}

func TestObjectStoreSource(t *testing.T) {
	objects := &fakeObjects{data: map[string][]byte{"media/cat.png": buildTestPNG(t, 3, 3)}}

	l := newLoader(t, Config{}, objects)
	if _, err := l.Load(context.Background(), "s3://media/cat.png"); err != nil {
		t.Fatalf("load s3: %v", err)
	}
	if objects.lastBucket != "media" || objects.lastKey != "cat.png" {
		t.Fatalf("unexpected object lookup %s/%s", objects.lastBucket, objects.lastKey)
	}

	l = newLoader(t, Config{}, nil)
	if _, err := l.Load(context.Background(), "s3://media/cat.png"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme without storage, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	l := newLoader(t, Config{}, nil)

	if _, err := l.Load(context.Background(), "  "); !errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected ErrEmptySource, got %v", err)
	}
	if _, err := l.Load(context.Background(), "ftp://example.com/a.png"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("expected ErrUnsupportedScheme, got %v", err)
	}
	ref := dataurl.New([]byte("not an image"), "image/png").String()
	if _, err := l.Load(context.Background(), ref); err == nil {
		t.Fatal("expected decode error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Load(ctx, ref); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestScheme(t *testing.T) {
	cases := map[string]string{
		"a.png":                      SchemeFile,
		"/var/www/a.png":             SchemeFile,
		`C:\images\a.png`:            SchemeFile,
		"file:///tmp/a.png":          SchemeFile,
		"data:image/png;base64,AAAA": SchemeData,
		"HTTPS://example.com/a.png":  SchemeHTTPS,
		"s3://bucket/key.png":        SchemeS3,
	}
	for ref, want := range cases {
		if got := Scheme(ref); got != want {
			t.Fatalf("Scheme(%q) = %q, want %q", ref, got, want)
		}
	}
}

func TestParseObjectURL(t *testing.T) {
	bucket, key, err := ParseObjectURL("s3://media/pages/out.html")
	if err != nil || bucket != "media" || key != "pages/out.html" {
		t.Fatalf("unexpected split %q %q %v", bucket, key, err)
	}
	for _, ref := range []string{"s3://media", "s3:///key", "https://media/key"} {
		if _, _, err := ParseObjectURL(ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}

func TestParseMaxBytes(t *testing.T) {
	n, err := ParseMaxBytes("20MB")
	if err != nil || n != 20_000_000 {
		t.Fatalf("expected 20000000, got %d (%v)", n, err)
	}
	if n, err := ParseMaxBytes(""); err != nil || n != 0 {
		t.Fatalf("expected no limit, got %d (%v)", n, err)
	}
	if _, err := ParseMaxBytes("lots"); err == nil {
		t.Fatal("expected parse error")
	}
}

func newLoader(t *testing.T, cfg Config, objects ObjectOpener) *Loader {
	t.Helper()
	l, err := NewLoader(cfg, objects)
	if err != nil {
		t.Fatalf("new loader: %v", err)
	}
	return l
}

func buildTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 30), G: uint8(y * 30), B: 120, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

type fakeObjects struct {
	data       map[string][]byte
	lastBucket string
	lastKey    string
}

func (f *fakeObjects) OpenObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.lastBucket, f.lastKey = bucket, key
	data, ok := f.data[bucket+"/"+key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
