// Package ddberrors defines the full distinguishable error taxonomy every
// public gitddb operation surfaces, grounded on the teacher's sentinel-error
// style (storage.ErrDBNotInitialized, compact.ErrAPIKeyRequired) but
// generalized to one typed error carrying a Kind so callers can switch on
// errors.Is / a Kind comparison instead of string matching.
package ddberrors

import "fmt"

// Kind distinguishes every error case named in the specification.
type Kind string

const (
	// Validation
	UndefinedDocumentId            Kind = "UndefinedDocumentId"
	InvalidIdCharacter              Kind = "InvalidIdCharacter"
	InvalidIdLength                 Kind = "InvalidIdLength"
	InvalidCollectionPathCharacter  Kind = "InvalidCollectionPathCharacter"
	InvalidCollectionPathLength     Kind = "InvalidCollectionPathLength"
	InvalidDbNameCharacter          Kind = "InvalidDbNameCharacter"
	InvalidLocalDirCharacter        Kind = "InvalidLocalDirCharacter"
	InvalidPropertyNameInDocument   Kind = "InvalidPropertyNameInDocument"
	InvalidJsonObject               Kind = "InvalidJsonObject"
	InvalidJsonFileExtension        Kind = "InvalidJsonFileExtension"

	// Storage
	CannotCreateDirectory             Kind = "CannotCreateDirectory"
	CannotCreateRepository             Kind = "CannotCreateRepository"
	CannotOpenRepository               Kind = "CannotOpenRepository"
	RepositoryNotFound                 Kind = "RepositoryNotFound"
	RepositoryNotOpen                  Kind = "RepositoryNotOpen"
	CannotWriteData                    Kind = "CannotWriteData"
	CannotDeleteData                   Kind = "CannotDeleteData"
	DocumentNotFound                   Kind = "DocumentNotFound"
	SameIdExists                       Kind = "SameIdExists"
	InvalidWorkingDirectoryPathLength  Kind = "InvalidWorkingDirectoryPathLength"

	// Lifecycle
	DatabaseClosing    Kind = "DatabaseClosing"
	UndefinedDatabaseName Kind = "UndefinedDatabaseName"
	UndefinedDB        Kind = "UndefinedDB"

	// Queue
	TaskCancel             Kind = "TaskCancel"
	ConsecutiveSyncSkipped Kind = "ConsecutiveSyncSkipped"

	// Sync
	NoMergeBaseFound                        Kind = "NoMergeBaseFound"
	CannotPushBecauseUnfetchedCommitExists  Kind = "CannotPushBecauseUnfetchedCommitExists"
	UndefinedSync                           Kind = "UndefinedSync"

	// Lock (ambient addition, §4.L)
	ErrAlreadyLocked Kind = "ErrAlreadyLocked"
)

// Error is the single error type every public gitddb operation returns.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "put", "trySync"
	Err  error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gitddb: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gitddb: %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &Error{Kind: X}) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error wrapping cause, or returns nil if cause is nil.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Of extracts the Kind of err if it is (or wraps) a *Error, with ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if as(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
