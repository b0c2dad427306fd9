package strata

import (
	"errors"
	"io"
	"log/slog"
)

// Sentinel errors for database-level conditions. Engine-level errors
// (ErrTypeMismatch, ErrWriteConflict, ErrParse, ...) live in the packages
// that raise them and pass through unwrapped; check them with errors.Is.
var (
	// ErrClosed indicates the database has been closed.
	ErrClosed = errors.New("strata: database closed")

	// ErrTxClosed indicates the transaction was already committed or rolled
	// back.
	ErrTxClosed = errors.New("strata: transaction closed")

	// ErrTxKind indicates a clause was issued on the wrong transaction kind:
	// define/undefine outside a schema transaction, or data clauses inside
	// one.
	ErrTxKind = errors.New("strata: clause not allowed in this transaction kind")
)

// CloseWithLog closes the resource and logs any error at warning level.
// Intended for defer statements so cleanup errors are not silently dropped.
// If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
