// Package context holds the timeout helpers for work that runs outside a
// request's lifetime
package context

import (
	"context"
	"time"
)

const (
	// ShortTimeout is for single Redis or database round trips
	ShortTimeout = 5 * time.Second

	// DefaultTimeout is for a multi-step operation
	DefaultTimeout = 30 * time.Second
)

// Detached returns a context carrying parent's values but not its
// cancellation, bounded by timeout
func Detached(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}

// WithShortTimeout bounds parent by ShortTimeout
func WithShortTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, ShortTimeout)
}
