package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/idgen"
	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/traces"
)

// auditTimeout bounds one best-effort audit write.
const auditTimeout = 5 * time.Second

// Engine scores login attempts. It is safe for concurrent use.
type Engine struct {
	biometric BiometricScorer
	context   ContextScorer
	profiles  ProfileSource
	store     Store
	logger    *slog.Logger
	now       func() time.Time
	audits    sync.WaitGroup
}

// NewEngine creates a risk engine with the default rule scorers. A nil
// profiles source treats every user as unknown.
func NewEngine(profiles ProfileSource) *Engine {
	if profiles == nil {
		profiles = StaticProfiles{}
	}
	return &Engine{
		biometric: PasteRules{},
		context:   ProfileRules{},
		profiles:  profiles,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithStore enables the asynchronous audit trail.
func (e *Engine) WithStore(s Store) *Engine {
	e.store = s
	return e
}

// WithBiometricScorer swaps the biometric scorer.
func (e *Engine) WithBiometricScorer(s BiometricScorer) *Engine {
	e.biometric = s
	return e
}

// WithContextScorer swaps the context scorer.
func (e *Engine) WithContextScorer(s ContextScorer) *Engine {
	e.context = s
	return e
}

// WithLogger sets the logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	if l != nil {
		e.logger = l
	}
	return e
}

// WithClock replaces the time source used for EvaluatedAt.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate scores one login attempt. It fails with ErrMalformedInput for a
// missing or unparseable login time and ErrConfiguration for a profile whose
// timezone cannot be resolved.
func (e *Engine) Evaluate(ctx context.Context, req Request) (_ *Assessment, retErr error) {
	ctx, span := traces.StartSpan(ctx, "risk.Evaluate", traces.ClientIP(req.ClientIP))
	defer func() {
		traces.RecordError(span, retErr)
		span.End()
	}()

	loginTime, err := ParseLoginTime(req.LoginTime)
	if err != nil {
		evaluationErrors.WithLabelValues("malformed_input").Inc()
		return nil, err
	}

	bio, err := e.biometric.ScoreBiometric(req.Biometric)
	if err != nil {
		evaluationErrors.WithLabelValues("biometric").Inc()
		return nil, err
	}

	profile, ok := e.profiles.Lookup(req.Username)
	if !ok {
		profile = EmptyProfile()
	}
	cd, err := e.context.ScoreContext(profile, req.ClientIP, loginTime)
	if err != nil {
		evaluationErrors.WithLabelValues("context").Inc()
		e.logger.Error("context scoring failed", "username", req.Username, "error", err)
		return nil, err
	}

	total := bio.Score + cd.Score
	a := &Assessment{
		ID:          idgen.WithPrefix("risk_"),
		Username:    req.Username,
		ClientIP:    req.ClientIP,
		Verdict:     Verdict{Score: total, Tier: TotalTier(total)},
		Action:      Decide(total),
		Biometric:   bio,
		Context:     cd,
		LoginTime:   loginTime,
		EvaluatedAt: e.now().UTC(),
	}

	span.SetAttributes(traces.RiskScore(total), traces.Action(string(a.Action)))
	evaluations.WithLabelValues(string(a.Action)).Inc()
	scoreDistribution.Observe(float64(total))

	e.audit(ctx, a)
	return a, nil
}

// audit persists a copy of the assessment in the background. Failures are
// logged and never reach the caller.
func (e *Engine) audit(ctx context.Context, a *Assessment) {
	if e.store == nil {
		return
	}
	rec := *a
	e.audits.Add(1)
	go func() {
		defer e.audits.Done()
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
		defer cancel()
		if err := e.store.Record(actx, &rec); err != nil {
			e.logger.Warn("risk audit write failed", "assessment_id", rec.ID, "error", err)
		}
	}()
}

// Flush waits for in-flight audit writes. Call during shutdown.
func (e *Engine) Flush() {
	e.audits.Wait()
}

// History returns recent assessments for a user, newest first.
func (e *Engine) History(ctx context.Context, username string, limit int) ([]*Assessment, error) {
	if e.store == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return e.store.ListByUser(ctx, username, limit)
}

// ParseLoginTime parses an RFC 3339 timestamp ("Z" or numeric offset). A
// timestamp without an offset is rejected: guessing its zone would move the
// local hour the context rules score.
func ParseLoginTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: login_time is required", ErrMalformedInput)
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: login_time %q is not RFC 3339", ErrMalformedInput, s)
}
