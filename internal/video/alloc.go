package video

import (
	"fmt"

	apperrors "github.com/calign/retime/internal/errors"
)

// Allocator allocates frames for one conversion session against a shared
// Budget. A nil budget disables enforcement, which keeps tests and
// one-shot tools simple.
type Allocator struct {
	budget    *Budget
	sessionID string
}

// NewAllocator binds a session to a budget.
func NewAllocator(budget *Budget, sessionID string) *Allocator {
	return &Allocator{budget: budget, sessionID: sessionID}
}

// NewFrame allocates a zeroed frame, charging its size to the session.
func (a *Allocator) NewFrame(format PixelFormat, width, height int) (*Frame, error) {
	size := int64(format.FrameSize(width, height))
	if a.budget != nil && !a.budget.Acquire(a.sessionID, size) {
		return nil, apperrors.WrapResourceError(
			apperrors.ErrBudgetExceeded,
			fmt.Sprintf("cannot allocate %s frame %dx%d", format.Name, width, height),
		).WithDetails(map[string]interface{}{
			"session_id":      a.sessionID,
			"requested_bytes": size,
			"session_bytes":   a.budget.SessionUsage(a.sessionID),
		})
	}
	f := NewFrame(format, width, height)
	f.allocBytes = size
	return f, nil
}

// Free returns a frame's storage charge to the budget. Clones and frames
// already freed release nothing. Safe to call with nil.
func (a *Allocator) Free(f *Frame) {
	if f == nil || f.allocBytes == 0 {
		return
	}
	if a.budget != nil {
		a.budget.Release(a.sessionID, f.allocBytes)
	}
	f.allocBytes = 0
}

// Close ends the session, returning any outstanding charge to the
// global pool.
func (a *Allocator) Close() {
	if a.budget != nil {
		a.budget.EndSession(a.sessionID)
	}
}

// SessionID returns the session this allocator charges against.
func (a *Allocator) SessionID() string {
	return a.sessionID
}
