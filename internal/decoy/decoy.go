// Package decoy tracks attacker sessions inside fake assets.
//
// Lifecycle:
//  1. A trap decision creates a session (status active, fixed deadline)
//  2. Decoy pages record visits and at most one credential capture
//  3. The first read after the deadline flips the session to expired
//  4. An operator (or the trap flow) may terminate it while still active
//
// Expired and terminated are absorbing: every later mutation reports false.
package decoy

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("decoy: session not found")
	ErrDuplicateID     = errors.New("decoy: session id already exists")
	ErrInvalidTTL      = errors.New("decoy: ttl must be positive")
	ErrInvalidPage     = errors.New("decoy: page is required")
)

// Status represents the state of a decoy session.
type Status string

const (
	StatusActive     Status = "active"
	StatusExpired    Status = "expired"    // Read after its deadline
	StatusTerminated Status = "terminated" // Closed explicitly
)

// DefaultTTL is how long a session stays active when the caller gives no TTL.
const DefaultTTL = time.Hour

// Metadata keys written by the engine itself.
const (
	MetaTerminationReason = "termination_reason"
	MetaTerminatedAt      = "terminated_at"
)

// Capture is the single set of fake credentials an attacker submitted.
type Capture struct {
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	Page       string    `json:"page"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Session is a snapshot of one decoy session. Values returned by the engine
// are copies; mutating them has no effect on stored state.
type Session struct {
	ID                string            `json:"sessionId"`
	CreatedAt         time.Time         `json:"createdAt"`
	ExpiresAt         time.Time         `json:"expiresAt"`
	Status            Status            `json:"status"`
	Metadata          map[string]string `json:"metadata"`
	AttackerIP        string            `json:"attackerIp,omitempty"`
	AttackerUserAgent string            `json:"attackerUserAgent,omitempty"`
	Capture           *Capture          `json:"capturedCredentials,omitempty"`
	ContainerID       string            `json:"decoyContainerId,omitempty"`
	VisitedPages      []string          `json:"visitedPages"`
}

// IsActive reports whether the session still accepts mutations at now.
func (s *Session) IsActive(now time.Time) bool {
	return s.Status == StatusActive && !s.pastDeadline(now)
}

func (s *Session) pastDeadline(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// HasVisited reports whether page is already in the visit log.
func (s *Session) HasVisited(page string) bool {
	for _, p := range s.VisitedPages {
		if p == page {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	if s.Capture != nil {
		c := *s.Capture
		cp.Capture = &c
	}
	cp.VisitedPages = make([]string, len(s.VisitedPages))
	copy(cp.VisitedPages, s.VisitedPages)
	return &cp
}

// Redacted returns a copy safe to hand to API clients and logs: the captured
// password is masked.
func (s *Session) Redacted() *Session {
	cp := s.Clone()
	if cp.Capture != nil {
		cp.Capture.Password = RedactPassword(cp.Capture.Password)
	}
	return cp
}

// RedactPassword keeps the first two characters of a captured password.
func RedactPassword(pw string) string {
	r := []rune(pw)
	if len(r) <= 2 {
		return "***"
	}
	return string(r[:2]) + "***"
}

// CreateRequest contains the parameters for creating a session.
type CreateRequest struct {
	Metadata          map[string]string `json:"metadata"`
	AttackerIP        string            `json:"attackerIp"`
	AttackerUserAgent string            `json:"attackerUserAgent"`
	TTL               time.Duration     `json:"-"` // 0 means the engine default
}

// Store persists decoy sessions. Every mutating method is a single atomic
// conditional write: it succeeds only while the session is active and not
// past its deadline at now, and reports whether it changed anything. An
// unknown id is reported as false, not as an error.
type Store interface {
	// Insert stores a new session. Returns ErrDuplicateID if the id exists.
	Insert(ctx context.Context, s *Session) error

	// Load returns the session, first flipping it active→expired when now is
	// past its deadline. expired reports whether this call made the flip.
	Load(ctx context.Context, id string, now time.Time) (s *Session, expired bool, err error)

	// AppendVisit appends page unless it is already present.
	AppendVisit(ctx context.Context, id, page string, now time.Time) (bool, error)

	// SaveCapture stores c if no capture exists yet and appends c.Page to the
	// visit log if absent, as one unit.
	SaveCapture(ctx context.Context, id string, c Capture, now time.Time) (bool, error)

	// Terminate marks the session terminated and merges the termination
	// reason and time into its metadata.
	Terminate(ctx context.Context, id, reason string, now time.Time) (bool, error)

	// AttachContainer sets the container handle if none is set yet.
	AttachContainer(ctx context.Context, id, containerID string, now time.Time) (bool, error)

	// ListActive returns active sessions whose deadline has not passed,
	// newest first. It does not flip anything.
	ListActive(ctx context.Context, now time.Time) ([]*Session, error)

	// ExpireDue flips every active session past its deadline and returns
	// how many changed.
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}
