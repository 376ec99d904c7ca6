// Package sentinel is the credential sentinel: it scores each login attempt
// and, when the verdict is trap, opens a decoy session for the attacker and
// warns the real account owner.
package sentinel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/alerts"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/decoy"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/risk"
)

var ErrInvalidAttempt = errors.New("sentinel: username and password required")

// Decoy metadata sources.
const (
	SourceCredentialTrap = "credential_sentinel_trap"
	SourcePhishingClick  = "phishing_click"
)

// PhishingTTL is the lifetime of a session opened by a phishing-link click.
const PhishingTTL = time.Hour

// Messages returned to the login client per decision.
const (
	MessageTrap  = "Suspicious login detected. Redirecting to secure verification..."
	MessageFlag  = "Unusual activity detected. Security team notified."
	MessageAllow = "Login successful."
)

// RiskEvaluator scores a login attempt.
type RiskEvaluator interface {
	Evaluate(ctx context.Context, req risk.Request) (*risk.Assessment, error)
}

// DecoyCreator opens decoy sessions.
type DecoyCreator interface {
	Create(ctx context.Context, req decoy.CreateRequest) (*decoy.Session, error)
}

// AlertSender records and pushes user alerts.
type AlertSender interface {
	DispatchType(ctx context.Context, typ alerts.Type, userID, sessionID, message string) (*alerts.Alert, error)
}

// LoginAttempt is one submission of the protected login form.
type LoginAttempt struct {
	Username   string               `json:"username"`
	Password   string               `json:"password"`
	ClientIP   string               `json:"client_ip"`
	UserAgent  string               `json:"user_agent"`
	LoginTime  string               `json:"login_time"`
	Biometrics risk.BiometricSignal `json:"biometrics"`
}

// LogValue keeps the password out of every log line.
func (a LoginAttempt) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", a.Username),
		slog.String("client_ip", a.ClientIP),
		slog.String("login_time", a.LoginTime),
	)
}

// LoginOutcome is what the login client receives.
type LoginOutcome struct {
	Username    string               `json:"username"`
	Verdict     risk.Tier            `json:"verdict"`
	RiskScore   int                  `json:"risk_score"`
	Action      risk.Decision        `json:"action"`
	Biometric   risk.BiometricDetail `json:"biometric_analysis"`
	Context     risk.ContextDetail   `json:"context_analysis"`
	SessionID   string               `json:"session_id,omitempty"`
	RedirectURL string               `json:"redirect_url,omitempty"`
	Message     string               `json:"message"`
}

// Click is a recorded click on a phishing-simulation link.
type Click struct {
	UserID    string `json:"user_id"`
	Campaign  string `json:"campaign"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent"`
}

// ClickOutcome points the clicker at their decoy session.
type ClickOutcome struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}
