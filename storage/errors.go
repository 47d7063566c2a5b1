package storage

import "fmt"

// Kind classifies a storage failure so callers can branch on it without
// string matching.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindCorrupt      Kind = "corrupt"
	KindIO           Kind = "io"
	KindNotLoaded    Kind = "not_loaded"
	KindAlreadyExists Kind = "already_exists"
)

// Error wraps a storage failure with its kind, the path it concerns, and
// the underlying cause when there is one.
type Error struct {
	Kind  Kind
	Path  string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("storage: %s: %s: %v", e.Kind, e.Path, e.Cause)
	}
	return fmt.Sprintf("storage: %s: %s", e.Kind, e.Path)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, letting
// callers write errors.Is(err, storage.ErrKind(storage.KindNotFound))
// style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Path == "" || t.Path == e.Path
}

func newErr(kind Kind, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Cause: cause}
}

// ErrKind builds a sentinel *Error carrying only a kind, for use with
// errors.Is(err, storage.ErrKind(storage.KindNotFound)).
func ErrKind(kind Kind) *Error {
	return &Error{Kind: kind}
}
