package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/traces"
)

// deliverTimeout bounds one live delivery attempt.
const deliverTimeout = 5 * time.Second

// Dispatcher persists alerts and then tries to deliver them live.
type Dispatcher struct {
	store     Store
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. A nil transport makes every user
// unreachable; alerts are still stored.
func NewDispatcher(store Store, transport Transport) *Dispatcher {
	return &Dispatcher{
		store:     store,
		transport: transport,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets the logger.
func (d *Dispatcher) WithLogger(l *slog.Logger) *Dispatcher {
	if l != nil {
		d.logger = l
	}
	return d
}

// WithClock replaces the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Dispatch records a phishing-click alert for userID.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, sessionID, message string) (*Alert, error) {
	return d.DispatchType(ctx, TypePhishingClick, userID, sessionID, message)
}

// DispatchType records an alert of the given type and attempts live
// delivery. Only a storage failure is returned; delivery failures are logged
// and counted.
func (d *Dispatcher) DispatchType(ctx context.Context, typ Type, userID, sessionID, message string) (_ *Alert, retErr error) {
	ctx, span := traces.StartSpan(ctx, "alerts.Dispatch", traces.UserID(userID), traces.SessionID(sessionID))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidAlert)
	}
	if typ == "" {
		typ = TypePhishingClick
	}
	if message == "" {
		message = DefaultMessage(sessionID)
	}

	a := &Alert{
		UserID:    userID,
		SessionID: sessionID,
		Type:      typ,
		Message:   message,
		CreatedAt: d.now().UTC(),
	}
	if err := d.store.Insert(ctx, a); err != nil {
		alertsStored.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}
	alertsStored.WithLabelValues("ok").Inc()

	d.deliver(ctx, a)
	return a, nil
}

func (d *Dispatcher) deliver(ctx context.Context, a *Alert) {
	if d.transport == nil {
		deliveries.WithLabelValues("unreachable").Inc()
		return
	}

	dctx, cancel := context.WithTimeout(ctx, deliverTimeout)
	defer cancel()

	cp := *a
	err := d.transport.Deliver(dctx, a.UserID, &cp)
	switch {
	case err == nil:
		deliveries.WithLabelValues("delivered").Inc()
	case errors.Is(err, ErrUnreachable):
		deliveries.WithLabelValues("unreachable").Inc()
		d.logger.Debug("alert stored, no live channel", "alert_id", a.ID, "user_id", a.UserID)
	default:
		deliveries.WithLabelValues("failed").Inc()
		d.logger.Warn("alert delivery failed", "alert_id", a.ID, "user_id", a.UserID, "error", err)
	}
}

// List returns a user's alerts, newest first.
func (d *Dispatcher) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Alert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return d.store.ListByUser(ctx, userID, unreadOnly, limit)
}

// MarkRead flags one of the user's alerts as read.
func (d *Dispatcher) MarkRead(ctx context.Context, userID string, id int64) (bool, error) {
	return d.store.MarkRead(ctx, userID, id)
}
