// Package errkind enumerates the closed set of error kinds the gateway
// produces, per the error handling design. Error kind is metadata attached
// to a wrapped error, not a type hierarchy: callers switch on Kind(err)
// rather than type-asserting concrete error types.
package errkind

import "errors"

// Kind is a closed enum of error categories.
type Kind string

const (
	NotFound      Kind = "not_found"
	Terminated    Kind = "terminated"
	SpawnError    Kind = "spawn_error"
	CLIError      Kind = "cli_error"
	Timeout       Kind = "timeout"
	StreamError   Kind = "stream_error"
	AuthError     Kind = "auth_error"
	CompactionFail Kind = "compaction_fail"
	GitError      Kind = "git_error"
	QualityFail   Kind = "quality_fail"
	CommentaryFail Kind = "commentary_fail"
	Unknown       Kind = "unknown"
)

// kindError pairs an underlying error with a Kind so it can be recovered
// later without retaining a concrete error type.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// Wrap annotates err with kind. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// Of extracts the Kind attached to err via Wrap, or Unknown if none was attached.
func Of(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err was wrapped with the given kind.
func Is(err error, kind Kind) bool { return Of(err) == kind }
