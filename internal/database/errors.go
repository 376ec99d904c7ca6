package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
)

// ErrUnavailable marks a transient storage failure (connection refused, pool
// closed, server shutting down). Callers may retry the whole operation.
var ErrUnavailable = errors.New("database: storage unavailable")

// Classify wraps connection-class failures with ErrUnavailable so callers can
// test errors.Is(err, ErrUnavailable). Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// IsTransient reports whether err looks like a connectivity problem rather
// than a query or constraint error.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection exception
			"53", // insufficient resources
			"57": // operator intervention (admin shutdown, cannot connect now)
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
