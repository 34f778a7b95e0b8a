package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type errorKind uint8

const (
	kindOther errorKind = iota
	kindNotFound
	kindConflict
	kindAborted
	kindUnavailable
)

// Error classifies a Firestore failure for the repository layer.
type Error struct {
	Op   string
	Err  error
	kind errorKind
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool { return e != nil && e.kind == kindNotFound }

// IsConflict covers both precondition failures and aborted transactions.
func (e *Error) IsConflict() bool {
	return e != nil && (e.kind == kindConflict || e.kind == kindAborted)
}

func (e *Error) IsUnavailable() bool { return e != nil && e.kind == kindUnavailable }

func classify(code codes.Code) errorKind {
	switch code {
	case codes.NotFound:
		return kindNotFound
	case codes.Aborted:
		return kindAborted
	case codes.AlreadyExists, codes.FailedPrecondition, codes.OutOfRange:
		return kindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.DeadlineExceeded:
		return kindUnavailable
	}
	return kindOther
}

// WrapError attaches op and a classification to err. Cancellation is returned as the context
// error so callers can tell it apart from backend failures.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op == "" {
			existing.Op = op
		}
		return existing
	}
	return &Error{Op: op, Err: err, kind: classify(code)}
}

// isAborted reports transaction contention, the only failure RunTransaction retries.
func isAborted(err error) bool {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.kind == kindAborted
	}
	return status.Code(err) == codes.Aborted
}
