// Package errors provides error wrapping utilities and the failure taxonomy
// the update pipeline reports to the coordinator.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Is and As forward to the standard library so callers need only this package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Interrupted reports whether err comes from a cancelled or expired context.
func Interrupted(err error) bool {
	return Is(err, context.Canceled) || Is(err, context.DeadlineExceeded)
}

// Kind classifies a pipeline failure.
type Kind string

const (
	KindManifest  Kind = "manifest"
	KindSpace     Kind = "space"
	KindTransfer  Kind = "transfer"
	KindIntegrity Kind = "integrity"
	KindFlash     Kind = "flash"
	KindReboot    Kind = "reboot"
	// KindNotStaged is returned by dry runs when an artifact is not yet on disk.
	KindNotStaged Kind = "not_staged"
)

func (k Kind) Error() string { return string(k) + " error" }

// UpdateError is a fatal pipeline failure. Msg is the human-readable text
// shown to the user; Err is the underlying cause, if any.
type UpdateError struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *UpdateError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of this error.
func (e *UpdateError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newError(kind Kind, msg string, cause error) error {
	return &UpdateError{Kind: kind, Msg: msg, Err: cause}
}

func Manifest(msg string, cause error) error  { return newError(KindManifest, msg, cause) }
func Space(msg string, cause error) error     { return newError(KindSpace, msg, cause) }
func Transfer(msg string, cause error) error  { return newError(KindTransfer, msg, cause) }
func Integrity(msg string, cause error) error { return newError(KindIntegrity, msg, cause) }
func Flash(msg string, cause error) error     { return newError(KindFlash, msg, cause) }
func Reboot(msg string, cause error) error    { return newError(KindReboot, msg, cause) }
func NotStaged(msg string, cause error) error { return newError(KindNotStaged, msg, cause) }

// Message returns the user-facing text for err. For an UpdateError this is
// Msg without the cause; any other error falls back to Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var ue *UpdateError
	if stderrors.As(err, &ue) {
		return ue.Msg
	}
	return err.Error()
}
