package sentinel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mileusna/useragent"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/alerts"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/decoy"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/risk"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/traces"
)

// DefaultDecoyPath prefixes decoy redirect URLs.
const DefaultDecoyPath = "/decoy"

// DefaultCampaign tags clicks that carry no campaign.
const DefaultCampaign = "unattributed"

// Service runs the login decision flow.
type Service struct {
	risk      RiskEvaluator
	decoys    DecoyCreator
	alerts    AlertSender
	decoyPath string
	logger    *slog.Logger
}

// NewService creates a sentinel service.
func NewService(r RiskEvaluator, d DecoyCreator, a AlertSender) *Service {
	return &Service{
		risk:      r,
		decoys:    d,
		alerts:    a,
		decoyPath: DefaultDecoyPath,
		logger:    slog.Default(),
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithDecoyPath overrides DefaultDecoyPath.
func (s *Service) WithDecoyPath(p string) *Service {
	if p != "" {
		s.decoyPath = strings.TrimRight(p, "/")
	}
	return s
}

// Login scores the attempt and acts on the decision. The password is only
// checked for presence.
func (s *Service) Login(ctx context.Context, att LoginAttempt) (_ *LoginOutcome, retErr error) {
	ctx, span := traces.StartSpan(ctx, "sentinel.Login", traces.UserID(att.Username), traces.ClientIP(att.ClientIP))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	att.Username = strings.TrimSpace(att.Username)
	if att.Username == "" || att.Password == "" {
		return nil, ErrInvalidAttempt
	}

	a, err := s.risk.Evaluate(ctx, risk.Request{
		Username:  att.Username,
		ClientIP:  att.ClientIP,
		LoginTime: att.LoginTime,
		Biometric: att.Biometrics,
	})
	if err != nil {
		return nil, err
	}

	out := &LoginOutcome{
		Username:  att.Username,
		Verdict:   a.Verdict.Tier,
		RiskScore: a.Verdict.Score,
		Action:    a.Action,
		Biometric: a.Biometric,
		Context:   a.Context,
	}
	loginDecisions.WithLabelValues(string(a.Action)).Inc()

	switch a.Action {
	case risk.DecisionTrap:
		meta := map[string]string{
			"source":    SourceCredentialTrap,
			"real_user": att.Username,
		}
		addUserAgent(meta, att.UserAgent)

		sess, err := s.decoys.Create(ctx, decoy.CreateRequest{
			Metadata:          meta,
			AttackerIP:        att.ClientIP,
			AttackerUserAgent: att.UserAgent,
		})
		if err != nil {
			return nil, fmt.Errorf("sentinel: open decoy: %w", err)
		}
		out.SessionID = sess.ID
		out.RedirectURL = s.redirectURL(sess.ID)
		out.Message = MessageTrap

		s.logger.Warn("login trapped",
			"user_id", att.Username,
			"client_ip", att.ClientIP,
			"risk_score", a.Verdict.Score,
			"session_id", sess.ID,
		)
		s.notify(ctx, alerts.TypeCredentialTrap, att.Username, sess.ID)

	case risk.DecisionFlag:
		out.Message = MessageFlag
		s.logger.Info("login flagged", "user_id", att.Username, "client_ip", att.ClientIP, "risk_score", a.Verdict.Score)

	default:
		out.Message = MessageAllow
	}
	return out, nil
}

// PhishingClick opens a decoy session for someone who followed a phishing
// simulation link and alerts the targeted user.
func (s *Service) PhishingClick(ctx context.Context, click Click) (_ *ClickOutcome, retErr error) {
	ctx, span := traces.StartSpan(ctx, "sentinel.PhishingClick", traces.UserID(click.UserID), traces.ClientIP(click.ClientIP))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	click.UserID = strings.TrimSpace(click.UserID)
	if click.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidAttempt)
	}
	campaign := strings.TrimSpace(click.Campaign)
	if campaign == "" {
		campaign = DefaultCampaign
	}

	meta := map[string]string{
		"source":      SourcePhishingClick,
		"campaign":    campaign,
		"target_user": click.UserID,
	}
	addUserAgent(meta, click.UserAgent)

	sess, err := s.decoys.Create(ctx, decoy.CreateRequest{
		Metadata:          meta,
		AttackerIP:        click.ClientIP,
		AttackerUserAgent: click.UserAgent,
		TTL:               PhishingTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("sentinel: open decoy: %w", err)
	}
	phishingClicks.Inc()
	s.logger.Info("phishing link clicked", "user_id", click.UserID, "campaign", campaign, "session_id", sess.ID)

	s.notify(ctx, alerts.TypePhishingClick, click.UserID, sess.ID)
	return &ClickOutcome{SessionID: sess.ID, RedirectURL: s.redirectURL(sess.ID)}, nil
}

// notify alerts the user. The decoy already exists and the caller must still
// be redirected, so a failure here is logged rather than returned.
func (s *Service) notify(ctx context.Context, typ alerts.Type, userID, sessionID string) {
	if s.alerts == nil {
		return
	}
	if _, err := s.alerts.DispatchType(ctx, typ, userID, sessionID, ""); err != nil {
		s.logger.Error("alert dispatch failed", "user_id", userID, "session_id", sessionID, "error", err)
	}
}

func (s *Service) redirectURL(sessionID string) string {
	return s.decoyPath + "/" + sessionID + "/login"
}

// addUserAgent records the parsed client fingerprint in decoy metadata.
func addUserAgent(meta map[string]string, raw string) {
	if raw == "" {
		return
	}
	ua := useragent.Parse(raw)
	if ua.Name != "" {
		meta["ua_name"] = ua.Name
	}
	if ua.Version != "" {
		meta["ua_version"] = ua.Version
	}
	if ua.OS != "" {
		meta["ua_os"] = ua.OS
	}
	meta["ua_device"] = deviceClass(ua)
}

func deviceClass(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Tablet:
		return "tablet"
	case ua.Mobile:
		return "mobile"
	case ua.Desktop:
		return "desktop"
	default:
		return "unknown"
	}
}
