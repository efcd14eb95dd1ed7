package crowdsale

import (
	"fmt"
	"time"
)

// Window is a purchase window with inclusive opening and closing instants.
type Window struct {
	Opening time.Time
	Closing time.Time
}

// NewWindow validates the bounds and returns the window.
func NewWindow(opening, closing time.Time) (Window, error) {
	if opening.IsZero() || closing.IsZero() {
		return Window{}, fmt.Errorf("%w: window bounds required", ErrInvalidConfig)
	}
	if closing.Before(opening) {
		return Window{}, fmt.Errorf("%w: closing before opening", ErrInvalidConfig)
	}
	return Window{Opening: opening, Closing: closing}, nil
}

// IsOpen reports whether now lies within [Opening, Closing].
func (w Window) IsOpen(now time.Time) bool {
	return !now.Before(w.Opening) && !now.After(w.Closing)
}

// HasClosed reports whether now is past Closing.
func (w Window) HasClosed(now time.Time) bool {
	return now.After(w.Closing)
}
