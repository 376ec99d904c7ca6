package decoy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/database"
)

// PostgresStore persists decoy sessions in PostgreSQL.
//
// Each mutation is one UPDATE whose WHERE clause carries the whole guard
// (status, deadline, page membership, capture presence). Concurrent writers
// on the same row are serialized by the row lock, and the loser re-checks the
// guard against the winner's version, so no lost updates or duplicate pages.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed session store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `session_id, created_at, expires_at, status, metadata_json,
	attacker_ip, attacker_user_agent, captured_credentials_json,
	decoy_container_id, visited_pages_json`

// captureRecord is the JSONB shape of captured_credentials_json.
type captureRecord struct {
	Username   string    `json:"username"`
	Password   string    `json:"password"`
	Page       string    `json:"page"`
	CapturedAt time.Time `json:"captured_at"`
}

func (p *PostgresStore) Insert(ctx context.Context, s *Session) error {
	meta, err := json.Marshal(nonNilMeta(s.Metadata))
	if err != nil {
		return fmt.Errorf("decoy: encode metadata: %w", err)
	}
	pages, err := json.Marshal(nonNilPages(s.VisitedPages))
	if err != nil {
		return fmt.Errorf("decoy: encode pages: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO decoy_sessions (
			session_id, created_at, expires_at, status, metadata_json,
			attacker_ip, attacker_user_agent, captured_credentials_json,
			decoy_container_id, visited_pages_json, created_at_iso
		) VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, NULL, $8, $9::jsonb, $10)`,
		s.ID, s.CreatedAt, s.ExpiresAt, string(s.Status), string(meta),
		nullString(s.AttackerIP), nullString(s.AttackerUserAgent),
		nullString(s.ContainerID), string(pages),
		s.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if database.IsUniqueViolation(err) {
		return ErrDuplicateID
	}
	return database.Classify(err)
}

func (p *PostgresStore) Load(ctx context.Context, id string, now time.Time) (*Session, bool, error) {
	// The plain SELECT branch reads the statement snapshot, which may predate
	// a flip committed by a concurrent Load, so it derives the status itself.
	row := p.db.QueryRowContext(ctx, `
		WITH flipped AS (
			UPDATE decoy_sessions SET status = 'expired'
			WHERE session_id = $1 AND status = 'active' AND expires_at < $2
			RETURNING `+sessionColumns+`
		)
		SELECT `+sessionColumns+`, true FROM flipped
		UNION ALL
		SELECT session_id, created_at, expires_at,
		       CASE WHEN status = 'active' AND expires_at < $2 THEN 'expired' ELSE status END,
		       metadata_json, attacker_ip, attacker_user_agent, captured_credentials_json,
		       decoy_container_id, visited_pages_json, false
		FROM decoy_sessions
		WHERE session_id = $1 AND NOT EXISTS (SELECT 1 FROM flipped)`,
		id, now)

	var flipped bool
	s, err := scanSession(row, &flipped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrSessionNotFound
	}
	if err != nil {
		return nil, false, database.Classify(err)
	}
	return s, flipped, nil
}

func (p *PostgresStore) AppendVisit(ctx context.Context, id, page string, now time.Time) (bool, error) {
	return p.execGuarded(ctx, `
		UPDATE decoy_sessions
		SET visited_pages_json = visited_pages_json || jsonb_build_array($2::text)
		WHERE session_id = $1
		  AND status = 'active' AND expires_at >= $3
		  AND NOT visited_pages_json @> jsonb_build_array($2::text)`,
		id, page, now)
}

func (p *PostgresStore) SaveCapture(ctx context.Context, id string, c Capture, now time.Time) (bool, error) {
	rec, err := json.Marshal(captureRecord(c))
	if err != nil {
		return false, fmt.Errorf("decoy: encode capture: %w", err)
	}
	return p.execGuarded(ctx, `
		UPDATE decoy_sessions
		SET captured_credentials_json = $2::jsonb,
		    visited_pages_json = CASE
		        WHEN visited_pages_json @> jsonb_build_array($3::text) THEN visited_pages_json
		        ELSE visited_pages_json || jsonb_build_array($3::text)
		    END
		WHERE session_id = $1
		  AND status = 'active' AND expires_at >= $4
		  AND captured_credentials_json IS NULL`,
		id, string(rec), c.Page, now)
}

func (p *PostgresStore) Terminate(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	patch, err := json.Marshal(map[string]string{
		MetaTerminationReason: reason,
		MetaTerminatedAt:      now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return false, fmt.Errorf("decoy: encode metadata: %w", err)
	}
	return p.execGuarded(ctx, `
		UPDATE decoy_sessions
		SET status = 'terminated', metadata_json = metadata_json || $2::jsonb
		WHERE session_id = $1 AND status = 'active' AND expires_at >= $3`,
		id, string(patch), now)
}

func (p *PostgresStore) AttachContainer(ctx context.Context, id, containerID string, now time.Time) (bool, error) {
	return p.execGuarded(ctx, `
		UPDATE decoy_sessions SET decoy_container_id = $2
		WHERE session_id = $1
		  AND status = 'active' AND expires_at >= $3
		  AND decoy_container_id IS NULL`,
		id, containerID, now)
}

func (p *PostgresStore) ListActive(ctx context.Context, now time.Time) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM decoy_sessions
		WHERE status = 'active' AND expires_at >= $1
		ORDER BY created_at DESC, session_id DESC`, now)
	if err != nil {
		return nil, database.Classify(err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Session
	for rows.Next() {
		s, err := scanSession(rows, nil)
		if err != nil {
			return nil, database.Classify(err)
		}
		result = append(result, s)
	}
	return result, database.Classify(rows.Err())
}

func (p *PostgresStore) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE decoy_sessions SET status = 'expired'
		WHERE status = 'active' AND expires_at < $1`, now)
	if err != nil {
		return 0, database.Classify(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, database.Classify(err)
	}
	return int(n), nil
}

func (p *PostgresStore) execGuarded(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, database.Classify(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, database.Classify(err)
	}
	return n > 0, nil
}

// --- scanners ---

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanSession reads sessionColumns, plus one trailing bool when extra is set.
func scanSession(sc scanner, extra *bool) (*Session, error) {
	s := &Session{}
	var (
		status      string
		metaJSON    []byte
		attackerIP  sql.NullString
		userAgent   sql.NullString
		captureJSON []byte
		containerID sql.NullString
		pagesJSON   []byte
	)

	dest := []interface{}{
		&s.ID, &s.CreatedAt, &s.ExpiresAt, &status, &metaJSON,
		&attackerIP, &userAgent, &captureJSON,
		&containerID, &pagesJSON,
	}
	if extra != nil {
		dest = append(dest, extra)
	}
	if err := sc.Scan(dest...); err != nil {
		return nil, err
	}

	s.Status = Status(status)
	s.AttackerIP = attackerIP.String
	s.AttackerUserAgent = userAgent.String
	s.ContainerID = containerID.String

	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decoy: decode metadata for %s: %w", s.ID, err)
		}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	if len(pagesJSON) > 0 {
		if err := json.Unmarshal(pagesJSON, &s.VisitedPages); err != nil {
			return nil, fmt.Errorf("decoy: decode pages for %s: %w", s.ID, err)
		}
	}
	if len(captureJSON) > 0 && string(captureJSON) != "null" {
		var rec captureRecord
		if err := json.Unmarshal(captureJSON, &rec); err != nil {
			return nil, fmt.Errorf("decoy: decode capture for %s: %w", s.ID, err)
		}
		c := Capture(rec)
		s.Capture = &c
	}
	return s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilPages(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
