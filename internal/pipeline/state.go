package pipeline

import (
	"errors"
	"time"
)

// State is where a job ended up, or is, in
// Pending -> Parsed -> (Skipped | AwaitingLoad -> Transforming -> Swapped | Failed).
type State int

const (
	Pending State = iota
	Parsed
	Skipped
	AwaitingLoad
	Transforming
	Swapped
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Parsed:
		return "parsed"
	case Skipped:
		return "skipped"
	case AwaitingLoad:
		return "awaiting_load"
	case Transforming:
		return "transforming"
	case Swapped:
		return "swapped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether a job in s is finished.
func (s State) Terminal() bool {
	return s == Skipped || s == Swapped || s == Failed
}

var (
	ErrUnknownTransform = errors.New("unknown transform")
	ErrTransformFailure = errors.New("transform failed")
	ErrLoadFailure      = errors.New("image failed to load")
	ErrEncodeFailure    = errors.New("encode failed")
)

// Outcome is the explicit result of one job. Err is set for Skipped and
// Failed and nil for Swapped.
type Outcome struct {
	JobID     string
	Transform string
	Source    string
	MIME      string
	State     State
	Err       error
	Width     int
	Height    int
	Bytes     int
	Duration  time.Duration
}
