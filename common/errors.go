package common

import (
	"errors"
	"fmt"
)

type DBErrorCode int

const (
	// TransactionAbortedError is returned when a lock-wait deadline is
	// exceeded or an invariant trips mid-transaction. The caller must respond
	// by completing the transaction with commit=false; locks are not released
	// automatically.
	TransactionAbortedError DBErrorCode = iota
	// StorageError indicates a logical storage failure: every buffered page
	// is dirty at eviction time, a table is missing from the catalog, or a
	// tuple's schema does not match its destination.
	StorageError
	// InvalidArgumentError indicates a request that can never succeed: a page
	// number beyond the end of its file, or an unsupported aggregate operator
	// on a string field.
	InvalidArgumentError
	// NotFoundError indicates a lookup miss: a tid unknown to rollback, or a
	// field name absent from a schema.
	NotFoundError
	// LogError indicates a malformed operation against the write-ahead log,
	// such as a duplicate BEGIN for a live transaction.
	LogError
)

func (ec DBErrorCode) String() string {
	switch ec {
	case TransactionAbortedError:
		return "TransactionAbortedError"
	case StorageError:
		return "StorageError"
	case InvalidArgumentError:
		return "InvalidArgumentError"
	case NotFoundError:
		return "NotFoundError"
	case LogError:
		return "LogError"
	}
	return "unknown"
}

// DBError is the custom error type for the database engine. It wraps a
// DBErrorCode with a detailed message.
//
// By implementing the built-in 'error' interface, it integrates with Go's
// error handling while carrying enough metadata for the kernel to make
// decisions (like aborting a transaction). Raw I/O failures are not wrapped;
// they propagate as the errors the os package produced.
type DBError struct {
	Code      DBErrorCode
	ErrString string
}

func (e DBError) Error() string {
	return fmt.Sprintf("err: %s; msg: %s", e.Code.String(), e.ErrString)
}

// NewTransactionAborted builds the error a lock-wait timeout surfaces.
func NewTransactionAborted(format string, args ...any) error {
	return DBError{Code: TransactionAbortedError, ErrString: fmt.Sprintf(format, args...)}
}

// IsTransactionAborted reports whether err is a transaction abort, at any
// depth of wrapping.
func IsTransactionAborted(err error) bool {
	var dberr DBError
	return errors.As(err, &dberr) && dberr.Code == TransactionAbortedError
}
