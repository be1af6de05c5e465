package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	pkgerrors "github.com/handoffmarket/handoff-backend/pkg/errors"
)

const sqlStateUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique-constraint failure. With a
// constraint name it only matches that constraint. SQLite test databases
// report violations as text, so the message is checked as a fallback.
func IsUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if pg, ok := pkgerrors.PostgresError(err); ok {
		return pg.SQLState == sqlStateUniqueViolation &&
			(constraint == "" || pg.Constraint == constraint)
	}

	msg := err.Error()
	if constraint != "" && strings.Contains(msg, constraint) {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
