package alerts

import (
	"context"
	"errors"
)

// Transport pushes an alert to a user's live channel. Implementations return
// ErrUnreachable (possibly wrapped) when the user has no open channel.
type Transport interface {
	Deliver(ctx context.Context, userID string, a *Alert) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, userID string, a *Alert) error

func (f TransportFunc) Deliver(ctx context.Context, userID string, a *Alert) error {
	return f(ctx, userID, a)
}

// MultiTransport fans an alert out to every transport. Delivery succeeds if
// at least one transport delivered. When none did, the result is
// ErrUnreachable if every transport was merely unreachable, otherwise the
// joined errors.
type MultiTransport []Transport

func (m MultiTransport) Deliver(ctx context.Context, userID string, a *Alert) error {
	var errs []error
	delivered := false
	for _, t := range m {
		if t == nil {
			continue
		}
		if err := t.Deliver(ctx, userID, a); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered = true
	}
	if delivered {
		return nil
	}
	for _, err := range errs {
		if !errors.Is(err, ErrUnreachable) {
			return errors.Join(errs...)
		}
	}
	return ErrUnreachable
}
