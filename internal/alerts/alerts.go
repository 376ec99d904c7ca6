// Package alerts records user-facing security alerts and pushes them to
// whatever live channel the user currently has open.
//
// The stored alert is the durable record. Live delivery is best effort: a
// user with no open channel simply finds the alert on their next poll.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrAlertNotFound = errors.New("alerts: alert not found")
	ErrInvalidAlert  = errors.New("alerts: invalid alert")

	// ErrUnreachable means the transport has no live channel for the user.
	// It is an expected outcome and never fails a dispatch.
	ErrUnreachable = errors.New("alerts: recipient unreachable")
)

// Type classifies an alert.
type Type string

const (
	TypePhishingClick  Type = "phishing_click"
	TypeCredentialTrap Type = "credential_trap"
)

// Alert is one notification for one user about one decoy session.
type Alert struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId"`
	Type      Type      `json:"alertType"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	Read      bool      `json:"isRead"`
}

// Store persists alerts.
type Store interface {
	// Insert stores a and assigns its ID.
	Insert(ctx context.Context, a *Alert) error
	// ListByUser returns a user's alerts, newest first.
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Alert, error)
	// MarkRead flags an alert as read. It reports false when the alert does
	// not exist or belongs to another user.
	MarkRead(ctx context.Context, userID string, id int64) (bool, error)
}

// DefaultMessage is the alert text used when the caller supplies none. Only
// a short prefix of the session id is shown to the user.
func DefaultMessage(sessionID string) string {
	return fmt.Sprintf("You clicked a phishing link. No real data was exposed.\n"+
		"Session ID: %s\n"+
		"Fake credentials were captured. Please complete 5-minute security training.",
		shortID(sessionID))
}

func shortID(id string) string {
	r := []rune(id)
	if len(r) > 8 {
		return string(r[:8])
	}
	return id
}
