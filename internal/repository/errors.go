package repository

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned by single-row reads that match nothing.
var ErrNotFound = errors.New("not found")

// StorageErrorKind classifies storage failures.
type StorageErrorKind int

const (
	ConnectionFailure StorageErrorKind = iota + 1
	ConstraintViolation
	Timeout
	QueryFailure
)

func (k StorageErrorKind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection_failure"
	case ConstraintViolation:
		return "constraint_violation"
	case Timeout:
		return "timeout"
	default:
		return "query_failure"
	}
}

// StorageError wraps a database error with the operation that produced it.
type StorageError struct {
	Op   string
	Kind StorageErrorKind
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the operation may succeed.
func (e *StorageError) Retryable() bool {
	return e.Kind == ConnectionFailure || e.Kind == Timeout
}

// IsRetryable reports whether err is a retryable StorageError.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Retryable()
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Kind: classify(err), Err: err}
}

func classify(err error) StorageErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return Timeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled (statement_timeout)
			return Timeout
		case strings.HasPrefix(pgErr.Code, "23"):
			return ConstraintViolation
		case strings.HasPrefix(pgErr.Code, "08"),
			strings.HasPrefix(pgErr.Code, "57P"),
			pgErr.Code == "53300": // too_many_connections
			return ConnectionFailure
		}
		return QueryFailure
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return ConnectionFailure
	}
	return QueryFailure
}
