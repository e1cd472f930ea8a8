package canvas

import (
	"strings"

	"github.com/dunamismax/manipulatr/internal/mimeguess"
)

// Capability records whether a working drawing surface exists in this
// process. It is resolved once at startup.
type Capability int

const (
	Unavailable Capability = iota
	Available
)

func (c Capability) String() string {
	if c == Available {
		return "available"
	}
	return "unavailable"
}

// Detect draws nothing into a 1x1 surface and checks that it exports as a
// PNG data URL.
func Detect(encoder Encoder) Capability {
	if encoder == nil {
		return Unavailable
	}

	c := New(encoder)
	c.SetSize(1, 1)
	url, err := c.ToDataURL(mimeguess.PNG)
	if err != nil || !strings.HasPrefix(url, "data:"+mimeguess.PNG) {
		return Unavailable
	}
	return Available
}
