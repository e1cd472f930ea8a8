// Package document wraps a parsed HTML tree and gives the pipeline what a
// browser would: attribute access, a mutable image source, a one-shot load
// notification per source and a document-ready signal.
package document

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Loader fetches and decodes the image a (resolved) source points at.
type Loader interface {
	Load(ctx context.Context, ref string) (image.Image, error)
}

var errNoLoader = errors.New("document has no image loader")

type Document struct {
	root   *html.Node
	base   string
	loader Loader

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	elements map[*html.Node]*Element
}

type Option func(*Document)

// WithBase sets the locator relative sources resolve against: an http(s)
// URL or a directory path.
func WithBase(base string) Option {
	return func(d *Document) {
		d.base = base
	}
}

func WithLoader(l Loader) Option {
	return func(d *Document) {
		d.loader = l
	}
}

// Parse reads an HTML document. The ready signal fires once parsing is done.
func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	d := &Document{
		root:     root,
		ready:    make(chan struct{}),
		elements: make(map[*html.Node]*Element),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.markReady()
	return d, nil
}

func (d *Document) markReady() {
	d.readyOnce.Do(func() {
		close(d.ready)
	})
}

// Ready is closed exactly once, when the document has been parsed.
func (d *Document) Ready() <-chan struct{} {
	return d.ready
}

func (d *Document) Base() string {
	return d.base
}

// Images returns every <img> carrying attr, in document order. Handles are
// stable across calls.
func (d *Document) Images(attr string) []*Element {
	var out []*Element
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img && hasAttr(n, attr) {
			out = append(out, d.element(n))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

func (d *Document) element(n *html.Node) *Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.elements[n]; ok {
		return e
	}
	e := &Element{doc: d, node: n}
	d.elements[n] = e
	return e
}

// Render writes the document, including any swapped sources. It must not
// run while jobs are still swapping sources.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	return nil
}

// resolve turns an element source into something a Loader understands.
func (d *Document) resolve(src string) string {
	src = strings.TrimSpace(src)
	if src == "" || d.base == "" {
		return src
	}

	ref, err := url.Parse(src)
	if err == nil && ref.Scheme != "" {
		return src
	}

	base, err := url.Parse(d.base)
	if err == nil && (base.Scheme == "http" || base.Scheme == "https") && ref != nil {
		return base.ResolveReference(ref).String()
	}
	return filepath.Join(d.base, filepath.FromSlash(src))
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}
