package decoy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/idgen"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/traces"
)

// maxIDAttempts bounds how often Create regenerates an id after a collision.
const maxIDAttempts = 3

// Engine manages decoy session lifecycles on top of a Store.
//
// It holds no per-session lock: correctness for concurrent visits, captures
// and terminations comes from the store's conditional writes. idMu only
// serializes id generation.
type Engine struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	newID  idgen.Generator
	idMu   sync.Mutex
	logger *slog.Logger
}

// NewEngine creates a new decoy session engine.
func NewEngine(store Store) *Engine {
	return &Engine{
		store:  store,
		ttl:    DefaultTTL,
		now:    time.Now,
		newID:  idgen.New,
		logger: slog.Default(),
	}
}

// WithDefaultTTL sets the lifetime used when a create request carries none.
func (e *Engine) WithDefaultTTL(ttl time.Duration) *Engine {
	if ttl > 0 {
		e.ttl = ttl
	}
	return e
}

// WithClock replaces the time source (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithIDGenerator replaces the session id source.
func (e *Engine) WithIDGenerator(gen idgen.Generator) *Engine {
	e.newID = gen
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// DefaultTTL returns the lifetime applied when a request carries none.
func (e *Engine) DefaultTTL() time.Duration {
	return e.ttl
}

// Create starts a new active session.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (_ *Session, retErr error) {
	ctx, span := traces.StartSpan(ctx, "decoy.Create")
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	ttl := req.TTL
	if ttl < 0 {
		return nil, ErrInvalidTTL
	}
	if ttl == 0 {
		ttl = e.ttl
	}

	meta := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		meta[k] = v
	}

	now := e.now().UTC()
	s := &Session{
		CreatedAt:         now,
		ExpiresAt:         now.Add(ttl),
		Status:            StatusActive,
		Metadata:          meta,
		AttackerIP:        req.AttackerIP,
		AttackerUserAgent: req.AttackerUserAgent,
		VisitedPages:      []string{},
	}

	for attempt := 1; ; attempt++ {
		s.ID = e.nextID()
		err := e.store.Insert(ctx, s)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateID) || attempt == maxIDAttempts {
			return nil, fmt.Errorf("decoy: create session: %w", err)
		}
		e.logger.Warn("decoy session id collision, regenerating", "attempt", attempt)
	}

	span.SetAttributes(traces.SessionID(s.ID))
	sessionsCreated.Inc()
	e.logger.Info("decoy session created",
		"session_id", s.ID,
		"attacker_ip", s.AttackerIP,
		"expires_at", s.ExpiresAt,
	)
	return s.Clone(), nil
}

func (e *Engine) nextID() string {
	e.idMu.Lock()
	defer e.idMu.Unlock()
	return e.newID()
}

// Get returns the current snapshot, expiring the session first if its
// deadline has passed. ok is false when the id is unknown.
func (e *Engine) Get(ctx context.Context, id string) (_ *Session, ok bool, retErr error) {
	ctx, span := traces.StartSpan(ctx, "decoy.Get", traces.SessionID(id))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	s, flipped, err := e.store.Load(ctx, id, e.now())
	if errors.Is(err, ErrSessionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("decoy: load session: %w", err)
	}

	if flipped {
		sessionsEnded.WithLabelValues(string(StatusExpired), "read").Inc()
		e.logger.Info("decoy session expired", "session_id", id, "expires_at", s.ExpiresAt)
	}
	return s, true, nil
}

// RecordVisit appends page to the session's visit log. It returns false if
// the session is unknown, no longer active, or the page was already logged.
func (e *Engine) RecordVisit(ctx context.Context, id, page string) (_ bool, retErr error) {
	ctx, span := traces.StartSpan(ctx, "decoy.RecordVisit", traces.SessionID(id), traces.Page(page))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	if strings.TrimSpace(page) == "" {
		return false, ErrInvalidPage
	}

	ok, err := e.store.AppendVisit(ctx, id, page, e.now())
	if err != nil {
		return false, fmt.Errorf("decoy: record visit: %w", err)
	}
	pageVisits.WithLabelValues(outcome(ok)).Inc()
	return ok, nil
}

// RecordCapture stores the attacker's submitted credentials and logs page
// as visited. Only the first capture of a session is kept.
func (e *Engine) RecordCapture(ctx context.Context, id, username, password, page string) (_ bool, retErr error) {
	ctx, span := traces.StartSpan(ctx, "decoy.RecordCapture", traces.SessionID(id), traces.Page(page))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	if strings.TrimSpace(page) == "" {
		return false, ErrInvalidPage
	}

	now := e.now().UTC()
	c := Capture{Username: username, Password: password, Page: page, CapturedAt: now}

	ok, err := e.store.SaveCapture(ctx, id, c, now)
	if err != nil {
		return false, fmt.Errorf("decoy: record capture: %w", err)
	}
	credentialCaptures.WithLabelValues(outcome(ok)).Inc()

	if ok {
		// Never log the password itself.
		e.logger.Warn("decoy captured credentials",
			"session_id", id,
			"page", page,
			"username", username,
		)
	}
	return ok, nil
}

// Terminate closes an active session, recording reason and time in its
// metadata.
func (e *Engine) Terminate(ctx context.Context, id, reason string) (_ bool, retErr error) {
	ctx, span := traces.StartSpan(ctx, "decoy.Terminate", traces.SessionID(id))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	if reason == "" {
		reason = "manual"
	}

	ok, err := e.store.Terminate(ctx, id, reason, e.now())
	if err != nil {
		return false, fmt.Errorf("decoy: terminate: %w", err)
	}
	if ok {
		sessionsEnded.WithLabelValues(string(StatusTerminated), "api").Inc()
		e.logger.Info("decoy session terminated", "session_id", id, "reason", reason)
	}
	return ok, nil
}

// AttachContainer records the handle of an externally provisioned decoy
// resource. It succeeds once, while the session is active.
func (e *Engine) AttachContainer(ctx context.Context, id, containerID string) (bool, error) {
	if strings.TrimSpace(containerID) == "" {
		return false, errors.New("decoy: container id is required")
	}
	ok, err := e.store.AttachContainer(ctx, id, containerID, e.now())
	if err != nil {
		return false, fmt.Errorf("decoy: attach container: %w", err)
	}
	return ok, nil
}

// ListActive returns a point-in-time view of the sessions still active.
func (e *Engine) ListActive(ctx context.Context) ([]*Session, error) {
	sessions, err := e.store.ListActive(ctx, e.now())
	if err != nil {
		return nil, fmt.Errorf("decoy: list active: %w", err)
	}
	return sessions, nil
}

// ExpireDue flips every overdue active session to expired.
func (e *Engine) ExpireDue(ctx context.Context) (int, error) {
	n, err := e.store.ExpireDue(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("decoy: expire due: %w", err)
	}
	if n > 0 {
		sessionsEnded.WithLabelValues(string(StatusExpired), "sweep").Add(float64(n))
	}
	return n, nil
}

// Watermark renders doc's watermark for s at the engine's current time.
func (e *Engine) Watermark(s *Session, doc Document) string {
	return Watermark(s, doc, e.now())
}
