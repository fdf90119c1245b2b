package repository

import (
	"errors"

	"github.com/lib/pq"
)

const (
	pqUniqueViolation      = "23505"
	pqForeignKeyViolation  = "23503"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

func pqError(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

func hasCode(err error, code pq.ErrorCode) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == code
}

func IsUniqueViolation(err error) bool { return hasCode(err, pqUniqueViolation) }

func isForeignKeyViolation(err error) bool { return hasCode(err, pqForeignKeyViolation) }

func isCheckViolation(err error, constraint string) bool {
	pqErr, ok := pqError(err)
	return ok && pqErr.Code == pqCheckViolation && pqErr.Constraint == constraint
}

// IsRetryable reports whether the transaction lost a serialization race
// and can be rerun from the start.
func IsRetryable(err error) bool {
	return hasCode(err, pqSerializationFailure) || hasCode(err, pqDeadlockDetected)
}
