package document

import (
	"context"
	"image"
	"sync"

	"golang.org/x/net/html"
)

// LoadEvent is delivered once per subscription when the element's current
// source has finished loading, successfully or not.
type LoadEvent struct {
	Source string
	Image  image.Image
	Err    error
}

// Element is an <img> node. Its methods are safe for concurrent use.
type Element struct {
	doc  *Document
	node *html.Node

	mu      sync.Mutex
	current *load
}

// load is one fetch+decode of one source value, shared by its subscribers.
type load struct {
	src    string
	done   chan struct{}
	img    image.Image
	err    error
	subs   int
	cancel context.CancelFunc
}

// Attributes returns a copy of the element's attributes.
func (e *Element) Attributes() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()

	attrs := make(map[string]string, len(e.node.Attr))
	for _, a := range e.node.Attr {
		if a.Namespace == "" {
			attrs[a.Key] = a.Val
		}
	}
	return attrs
}

func (e *Element) Attr(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attr(key)
}

func (e *Element) attr(key string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func (e *Element) Source() string {
	src, _ := e.Attr("src")
	return src
}

// SetSource replaces src. Notifications already handed out keep referring to
// the previous source; the next Loaded call loads the new one.
func (e *Element) SetSource(src string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.current = nil
	for i, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == "src" {
			e.node.Attr[i].Val = src
			return
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: "src", Val: src})
}

// Loaded subscribes to the load of the current source. The channel receives
// exactly one event and is then closed, including when the source had
// already finished loading before the call. If ctx ends first, the channel
// is closed without an event.
func (e *Element) Loaded(ctx context.Context) <-chan LoadEvent {
	l := e.subscribe(ctx)

	ch := make(chan LoadEvent, 1)
	go func() {
		defer close(ch)
		select {
		case <-l.done:
			ch <- LoadEvent{Source: l.src, Image: l.img, Err: l.err}
		case <-ctx.Done():
		}
		e.unsubscribe(l)
	}()
	return ch
}

// subscribe joins the load of the current source, starting it if needed.
// The fetch runs under its own context, detached from ctx, and is cancelled
// when every subscriber has given up before it finished.
func (e *Element) subscribe(ctx context.Context) *load {
	e.mu.Lock()
	defer e.mu.Unlock()

	src, _ := e.attr("src")
	if e.current != nil && e.current.src == src {
		e.current.subs++
		return e.current
	}

	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &load{src: src, done: make(chan struct{}), subs: 1, cancel: cancel}
	e.current = l

	go func() {
		defer close(l.done)
		defer cancel()
		if e.doc.loader == nil {
			l.err = errNoLoader
			return
		}
		l.img, l.err = e.doc.loader.Load(loadCtx, e.doc.resolve(src))
	}()
	return l
}

// unsubscribe drops one subscriber. An unfinished load left without any is
// cancelled and forgotten, so the next subscriber starts afresh.
func (e *Element) unsubscribe(l *load) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l.subs--
	if l.subs > 0 {
		return
	}
	select {
	case <-l.done:
		return
	default:
	}
	l.cancel()
	if e.current == l {
		e.current = nil
	}
}
