package database

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// connPatterns are message fragments emitted by pgx, lib/pq and the net
// package when the server cannot be reached or drops the connection.
var connPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"connect: connection",
	"dial tcp",
	"EOF",
	"connection timed out",
	"server closed the connection unexpectedly",
	"could not connect",
	"bad connection",
	"too many clients",
}

// IsConnectionError returns true if the error looks like a transient connection
// problem rather than a SQL syntax or constraint error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	msg := err.Error()
	for _, p := range connPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// SQLSTATE classes whose errors describe the data or the transaction, not
// the connection: integrity constraint violation and transaction rollback
// (serialization failure, deadlock).
var rejectionClasses = []string{"23", "40"}

// IsRejectionCode reports whether a SQLSTATE code belongs to a class where
// the server answered and refused the statement.
func IsRejectionCode(code string) bool {
	for _, class := range rejectionClasses {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}

// IsRejection reports whether err is a pgx server error in a rejection class.
func IsRejection(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && IsRejectionCode(pgErr.Code)
}
