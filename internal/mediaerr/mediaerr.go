// Package mediaerr defines the error taxonomy shared by the path resolver,
// the lister and the stream server, and its mapping onto HTTP status codes.
package mediaerr

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"syscall"
)

// Kind classifies a failure.
type Kind int

const (
	Internal Kind = iota
	InvalidPath
	NotFound
	PermissionDenied
	UnsupportedMediaType
	RangeNotSatisfiable
)

func (k Kind) String() string {
	switch k {
	case InvalidPath:
		return "invalid_path"
	case NotFound:
		return "not_found"
	case PermissionDenied:
		return "permission_denied"
	case UnsupportedMediaType:
		return "unsupported_media_type"
	case RangeNotSatisfiable:
		return "range_not_satisfiable"
	default:
		return "internal"
	}
}

// HTTPStatus returns the status code reported to clients for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidPath:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case PermissionDenied:
		return http.StatusForbidden
	case UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case RangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to clients and
// never contains a physical path; Err holds the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or Internal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps err onto a status code.
func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// FromOS classifies an error returned by the os package. logical is the
// client-visible path and is the only path that ends up in the message.
func FromOS(err error, logical string) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Wrap(NotFound, "path not found: "+logical, err)
	case errors.Is(err, fs.ErrPermission):
		return Wrap(PermissionDenied, "permission denied: "+logical, err)
	case errors.Is(err, syscall.ENOTDIR):
		return Wrap(NotFound, "path not found: "+logical, err)
	case errors.Is(err, syscall.ENAMETOOLONG):
		return Wrap(InvalidPath, "invalid path: "+logical, err)
	default:
		return Wrap(Internal, "failed to access "+logical, err)
	}
}

// Reason returns a short description of an os error without the path
// the os package embeds in it.
func Reason(err error) string {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "no such file or directory"
	case errors.Is(err, fs.ErrPermission):
		return "permission denied"
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err.Error()
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Err.Error()
	}
	return "unreadable entry"
}
