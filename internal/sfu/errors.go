package sfu

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the engine no longer knows a handle.
var ErrNotFound = errors.New("sfu: handle not found")

// Error is a non-404 failure reported by the engine.
type Error struct {
	Op     string
	Status int
	Body   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sfu %s: status=%d, body=%s", e.Op, e.Status, e.Body)
}
