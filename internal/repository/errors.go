package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrLockContention indicates a row lock could not be acquired in time.
	ErrLockContention = errors.New("row lock contention")
	// ErrSchemaMissing indicates a required table or column does not exist.
	ErrSchemaMissing = errors.New("schema object missing")
)

const (
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgQueryCanceled        = "57014"
	pgUndefinedTable       = "42P01"
	pgUndefinedColumn      = "42703"
)

// translateError maps driver specific failures onto repository sentinels so services can
// tell transient contention apart from deployment defects.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgSerializationFailure, pgDeadlockDetected, pgQueryCanceled:
			return errors.Join(ErrLockContention, err)
		case pgUndefinedTable, pgUndefinedColumn:
			return errors.Join(ErrSchemaMissing, err)
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrLockContention, err)
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "database is locked"), strings.Contains(message, "database table is locked"):
		return errors.Join(ErrLockContention, err)
	case strings.Contains(message, "no such table"), strings.Contains(message, "no such column"):
		return errors.Join(ErrSchemaMissing, err)
	}

	return err
}
