package risk

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
)

// PostgresStore persists risk assessments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed risk assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (
			id, username, client_ip, biometric_score, context_score, total_score,
			tier, action, new_ip, unusual_time, password_pasted, username_pasted,
			login_time, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.Username, a.ClientIP, a.Biometric.Score, a.Context.Score, a.Verdict.Score,
		string(a.Verdict.Tier), string(a.Action),
		a.Context.NewIP, a.Context.UnusualTime, a.Biometric.PasswordPasted, a.Biometric.UsernamePasted,
		a.LoginTime, a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record risk assessment: %w", database.Classify(err))
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, username string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, client_ip, biometric_score, context_score, total_score,
		       tier, action, new_ip, unusual_time, password_pasted, username_pasted,
		       login_time, evaluated_at
		FROM risk_assessments
		WHERE username = $1
		ORDER BY evaluated_at DESC
		LIMIT $2`, username, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list risk assessments: %w", database.Classify(err))
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var tier, action string
		if err := rows.Scan(
			&a.ID, &a.Username, &a.ClientIP, &a.Biometric.Score, &a.Context.Score, &a.Verdict.Score,
			&tier, &action, &a.Context.NewIP, &a.Context.UnusualTime,
			&a.Biometric.PasswordPasted, &a.Biometric.UsernamePasted,
			&a.LoginTime, &a.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan risk assessment: %w", err)
		}
		a.Verdict.Tier = Tier(tier)
		a.Action = Decision(action)
		a.Biometric.Tier = tierFor(a.Biometric.Score, BiometricHighThreshold, BiometricMediumThreshold)
		a.Context.Tier = tierFor(a.Context.Score, ContextHighThreshold, ContextMediumThreshold)
		result = append(result, &a)
	}
	return result, database.Classify(rows.Err())
}

var _ Store = (*PostgresStore)(nil)
