package push

import (
	"context"

	"rendezvous-backend/pkg/resilience"
)

// guardedProvider fails fast while the upstream push service keeps failing
type guardedProvider struct {
	next    Provider
	breaker *resilience.Breaker
}

// WithBreaker wraps p so calls go through breaker
func WithBreaker(p Provider, breaker *resilience.Breaker) Provider {
	return &guardedProvider{next: p, breaker: breaker}
}

// Send implements Provider
func (g *guardedProvider) Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	var result *SendResult
	err := g.breaker.Execute(ctx, "send", func(ctx context.Context) error {
		var err error
		result, err = g.next.Send(ctx, notification, tokens)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
