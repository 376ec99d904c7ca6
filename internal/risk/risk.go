// Package risk fuses biometric and contextual login signals into a single
// verdict that drives the allow / flag / trap decision.
//
// Two independent scorers run on every login attempt:
//   - biometric: paste detection on the username and password fields
//   - context: new source IP and login hour against the user's profile
//
// The verdict score is the plain sum of both. Scorers are pure; the engine
// holds no per-user state beyond the read-only profile directory.
package risk

import (
	"context"
	"errors"
	"time"
)

var (
	ErrMalformedInput = errors.New("risk: malformed input")
	ErrConfiguration  = errors.New("risk: configuration error")
)

// Tier is a coarse risk band.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Decision is the login flow's response to a verdict.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionFlag  Decision = "flag"
	DecisionTrap  Decision = "trap" // Redirect into a decoy session
)

// Scoring constants. Component tiers and decision thresholds are separate
// contracts and change independently.
const (
	PasswordPasteScore = 50
	UsernamePasteScore = 30

	// A field typed faster than this many ms per character is treated as pasted.
	PasteMSPerChar = 50

	BiometricHighThreshold   = 50
	BiometricMediumThreshold = 30

	NewIPScore       = 25
	UnusualTimeScore = 25

	ContextHighThreshold   = 50
	ContextMediumThreshold = 25

	TrapThreshold = 70
	FlagThreshold = 30
)

// BiometricSignal describes how the credentials were entered. Durations are
// in milliseconds, lengths in characters. A nil paste flag means the client
// did not report one and it is inferred from typing speed.
type BiometricSignal struct {
	UsernameDurationMS int   `json:"username_duration_ms" yaml:"username_duration_ms"`
	UsernameLength     int   `json:"username_len" yaml:"username_len"`
	UsernamePasted     *bool `json:"username_pasted,omitempty" yaml:"username_pasted"`
	PasswordDurationMS int   `json:"password_duration_ms" yaml:"password_duration_ms"`
	PasswordLength     int   `json:"password_len" yaml:"password_len"`
	PasswordPasted     *bool `json:"password_pasted,omitempty" yaml:"password_pasted"`
}

// Profile is a user's login baseline. The zero TrustedHours range means
// unset and allows every hour.
type Profile struct {
	TrustedIPs   []string `json:"trustedIps" yaml:"trusted_ips"`
	TrustedHours [2]int   `json:"trustedHours" yaml:"trusted_hours"` // inclusive local hours
	Timezone     string   `json:"timezone" yaml:"timezone"`
}

// Hours returns TrustedHours, or [0, 24] when the range is unset.
func (p Profile) Hours() [2]int {
	if p.TrustedHours == ([2]int{}) {
		return [2]int{0, 24}
	}
	return p.TrustedHours
}

// Verdict is the fused score and its tier.
type Verdict struct {
	Score int  `json:"score"`
	Tier  Tier `json:"tier"`
}

// BiometricDetail explains the biometric contribution.
type BiometricDetail struct {
	UsernamePasted bool `json:"usernamePasted"`
	PasswordPasted bool `json:"passwordPasted"`
	Score          int  `json:"score"`
	Tier           Tier `json:"tier"`
}

// ContextDetail explains the contextual contribution.
type ContextDetail struct {
	NewIP       bool   `json:"newIp"`
	UnusualTime bool   `json:"unusualTime"`
	LocalHour   int    `json:"localHour"`
	Timezone    string `json:"timezone"`
	Score       int    `json:"score"`
	Tier        Tier   `json:"tier"`
}

// Request is one login attempt to score.
type Request struct {
	Username  string          `json:"username"`
	ClientIP  string          `json:"clientIp"`
	LoginTime string          `json:"loginTime"` // RFC 3339
	Biometric BiometricSignal `json:"biometrics"`
}

// Assessment is the full result of one evaluation. It is also the audit
// record persisted by Store.
type Assessment struct {
	ID          string          `json:"id"`
	Username    string          `json:"username"`
	ClientIP    string          `json:"clientIp"`
	Verdict     Verdict         `json:"verdict"`
	Action      Decision        `json:"action"`
	Biometric   BiometricDetail `json:"biometric"`
	Context     ContextDetail   `json:"context"`
	LoginTime   time.Time       `json:"loginTime"`
	EvaluatedAt time.Time       `json:"evaluatedAt"`
}

// Store persists risk assessments for audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	ListByUser(ctx context.Context, username string, limit int) ([]*Assessment, error)
}

// Decide maps a fused score to the login flow's action.
func Decide(total int) Decision {
	switch {
	case total >= TrapThreshold:
		return DecisionTrap
	case total >= FlagThreshold:
		return DecisionFlag
	default:
		return DecisionAllow
	}
}

// TotalTier maps a fused score to its tier, using the decision thresholds.
func TotalTier(total int) Tier {
	switch {
	case total >= TrapThreshold:
		return TierHigh
	case total >= FlagThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

func tierFor(score, high, medium int) Tier {
	switch {
	case score >= high:
		return TierHigh
	case score >= medium:
		return TierMedium
	default:
		return TierLow
	}
}
