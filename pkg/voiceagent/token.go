package voiceagent

import "context"

// Token is the cooperative cancellation token of one reply. Cancelling it
// does not stop anything by itself: the reply loop checks it before every
// fragment, and the generator sees its context cancelled.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewToken creates a token whose context derives from parent.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel cancels the token with cause. Only the first call has effect.
func (t *Token) Cancel(cause error) {
	t.cancel(cause)
}

// Cancelled reports whether the token or its parent has been cancelled.
func (t *Token) Cancelled() bool {
	return t.ctx.Err() != nil
}

// Context returns the context bound to the token.
func (t *Token) Context() context.Context {
	return t.ctx
}
