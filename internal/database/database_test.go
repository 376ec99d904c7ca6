package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMaskDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://cerberus:hunter2@db:5432/cerberus?sslmode=disable", "postgres://cerberus:%2A%2A%2A@db:5432/cerberus?sslmode=disable"},
		{"postgres://db:5432/cerberus", "postgres://db:5432/cerberus"},
		{"postgres://cerberus@db/cerberus", "postgres://cerberus@db/cerberus"},
		{"://bad", "***"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := MaskDSN(tt.in)
			assert.NotContains(t, got, "hunter2")
			if tt.want == "***" {
				assert.Equal(t, "***", got)
				return
			}
			assert.Contains(t, []string{tt.want, strings.ReplaceAll(tt.want, "%2A", "*")}, got)
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"nil", nil, false},
		{"bad conn", driver.ErrBadConn, true},
		{"conn done", fmt.Errorf("query: %w", sql.ErrConnDone), true},
		{"deadline", context.DeadlineExceeded, true},
		{"net error", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"too many connections", &pq.Error{Code: "53300"}, true},
		{"unique violation", &pq.Error{Code: "23505"}, false},
		{"syntax", &pq.Error{Code: "42601"}, false},
		{"no rows", sql.ErrNoRows, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			got := Classify(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.transient, errors.Is(got, ErrUnavailable))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	once := Classify(driver.ErrBadConn)
	twice := Classify(once)
	assert.Equal(t, once, twice)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("duplicate")))
}

func TestGoose_EmbeddedMigrations(t *testing.T) {
	assert.NoError(t, Goose())
}
