package alerts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Insert(ctx context.Context, a *Alert) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO alerts (user_id, session_id, alert_type, message, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		a.UserID, a.SessionID, string(a.Type), a.Message, a.CreatedAt, a.Read,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", database.Classify(err))
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, session_id, alert_type, message, created_at, is_read
		FROM alerts
		WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", database.Classify(err))
	}
	defer func() { _ = rows.Close() }()

	var result []*Alert
	for rows.Next() {
		var a Alert
		var typ string
		if err := rows.Scan(&a.ID, &a.UserID, &a.SessionID, &typ, &a.Message, &a.CreatedAt, &a.Read); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Type = Type(typ)
		result = append(result, &a)
	}
	return result, database.Classify(rows.Err())
}

func (p *PostgresStore) MarkRead(ctx context.Context, userID string, id int64) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE alerts SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("failed to mark alert read: %w", database.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, database.Classify(err)
	}
	return n > 0, nil
}

var _ Store = (*PostgresStore)(nil)
