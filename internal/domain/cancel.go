package domain

import (
	"context"
	"sync"
)

// CancelToken is the cancellation signal of a single task. Cancellation is
// cooperative: the token only signals, and work that never checks it keeps running.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	reason string
}

// NewCancelToken derives a token from parent. Cancelling parent fires the token.
func NewCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancel(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Cancel fires the token. Subsequent calls are no-ops.
func (t *CancelToken) Cancel() {
	t.CancelWithReason("cancelled")
}

// CancelWithReason fires the token and records why. The first reason wins.
func (t *CancelToken) CancelWithReason(reason string) {
	t.mu.Lock()
	if t.reason == "" && t.ctx.Err() == nil {
		t.reason = reason
	}
	t.mu.Unlock()
	t.cancel()
}

// IsCancelled reports whether the token has fired.
func (t *CancelToken) IsCancelled() bool {
	return t.ctx.Err() != nil
}

// Reason returns the recorded reason, or "" while the token is live.
func (t *CancelToken) Reason() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reason == "" && t.ctx.Err() != nil {
		return "parent cancelled"
	}
	return t.reason
}

// Done is closed when the token fires.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ctx.Done()
}

// Context returns a context that is cancelled together with the token.
func (t *CancelToken) Context() context.Context {
	return t.ctx
}

// Release frees the token's resources without recording a reason.
func (t *CancelToken) Release() {
	t.cancel()
}
