package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/vincent-petithory/dataurl"
)

// DiskReader serves bare paths and file:// URLs. With a Root, relative paths
// are joined onto it and nothing outside it can be read.
type DiskReader struct {
	Root string
}

func (d DiskReader) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	p, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open source file %s: %w", p, err)
	}
	return f, nil
}

func (d DiskReader) path(ref string) (string, error) {
	if strings.HasPrefix(strings.ToLower(ref), "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("parse file url %q: %w", ref, err)
		}
		ref = u.Path
	}
	p := filepath.FromSlash(ref)
	if strings.TrimSpace(d.Root) == "" {
		return p, nil
	}

	root := filepath.Clean(d.Root)
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, ref)
	}
	return p, nil
}

// DataReader decodes inline data: URLs, base64 or percent-encoded.
type DataReader struct{}

func (DataReader) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	du, err := dataurl.DecodeString(ref)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	return io.NopCloser(bytes.NewReader(du.Data)), nil
}

// HTTPOptions restricts what an HTTPReader may fetch. AllowedHosts entries
// match a hostname exactly or, written as "*.example.com", any subdomain.
// An empty list allows every host.
type HTTPOptions struct {
	Timeout      time.Duration
	AllowedHosts []string
	BlockPrivate bool
}

type HTTPReader struct {
	Client       *http.Client
	AllowedHosts []string
}

// NewHTTPReader builds a reader with its own client. With BlockPrivate the
// dialer refuses loopback, private, link-local and unspecified addresses
// after name resolution, and no proxy is used.
func NewHTTPReader(opts HTTPOptions) HTTPReader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	hosts := normalizeHosts(opts.AllowedHosts)

	client := &http.Client{Timeout: timeout}
	if opts.BlockPrivate {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second, Control: refusePrivate}
		transport.DialContext = dialer.DialContext
		client.Transport = transport
	}
	if len(hosts) > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return checkHost(hosts, req.URL)
		}
	}
	return HTTPReader{Client: client, AllowedHosts: hosts}
}

func (h HTTPReader) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("build source request: %w", err)
	}
	if err := checkHost(h.AllowedHosts, req.URL); err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "manipulatr")
	req.Header.Set("Accept", "image/*")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ref, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", ref, resp.StatusCode)
	}
	return resp.Body, nil
}

func normalizeHosts(hosts []string) []string {
	var out []string
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func checkHost(allowed []string, u *url.URL) error {
	if len(allowed) == 0 {
		return nil
	}
	host := strings.ToLower(u.Hostname())
	for _, a := range allowed {
		if suffix, ok := strings.CutPrefix(a, "*."); ok {
			if strings.HasSuffix(host, "."+suffix) {
				return nil
			}
			continue
		}
		if host == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
}

// refusePrivate runs on the resolved address of every connection attempt.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, address)
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return fmt.Errorf("%w: %s", ErrPrivateAddress, ip)
	}
	return nil
}

// ObjectOpener is satisfied by storage.Client.
type ObjectOpener interface {
	OpenObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// ObjectStoreReader serves s3://bucket/key locators.
type ObjectStoreReader struct {
	Objects ObjectOpener
}

func (o ObjectStoreReader) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := ParseObjectURL(ref)
	if err != nil {
		return nil, err
	}
	return o.Objects.OpenObject(ctx, bucket, key)
}

// ParseObjectURL splits s3://bucket/some/key into its bucket and key.
func ParseObjectURL(ref string) (bucket, key string, err error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("parse object url %q: %w", ref, err)
	}
	if !strings.EqualFold(u.Scheme, SchemeS3) {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("object url %q needs a bucket and a key", ref)
	}
	return bucket, key, nil
}
