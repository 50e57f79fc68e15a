package session

import "fmt"

// runtimeInitError signals that the backend failed to load or initialize
// from the supplied asset. The session is unusable after it.
type runtimeInitError struct {
	modelID string
	err     error
}

func (e runtimeInitError) Error() string {
	return fmt.Sprintf("runtime init for %s: %v", e.modelID, e.err)
}

func (e runtimeInitError) Unwrap() error { return e.err }

// ErrRuntimeInit constructs a runtimeInitError.
func ErrRuntimeInit(modelID string, err error) error {
	return runtimeInitError{modelID: modelID, err: err}
}

// IsRuntimeInit reports whether err indicates backend initialization failure.
func IsRuntimeInit(err error) bool {
	_, ok := err.(runtimeInitError)
	return ok
}

// generationError signals that the backend failed during a generate call.
type generationError struct {
	modelID string
	err     error
}

func (e generationError) Error() string {
	return fmt.Sprintf("generation on %s: %v", e.modelID, e.err)
}

func (e generationError) Unwrap() error { return e.err }

// ErrGeneration constructs a generationError.
func ErrGeneration(modelID string, err error) error {
	return generationError{modelID: modelID, err: err}
}

// IsGeneration reports whether err indicates a backend generate failure.
func IsGeneration(err error) bool {
	_, ok := err.(generationError)
	return ok
}

// capabilityError signals a multimodal generate against a text-only session.
type capabilityError struct{ modelID string }

func (e capabilityError) Error() string {
	return "model " + e.modelID + " does not support multimodal input"
}

// ErrCapability constructs a capabilityError.
func ErrCapability(modelID string) error { return capabilityError{modelID: modelID} }

// IsCapability reports whether err indicates a capability mismatch.
func IsCapability(err error) bool {
	_, ok := err.(capabilityError)
	return ok
}

// busyError signals a second generate call while one is in flight. Calls on
// one session are not queued; the caller retries.
type busyError struct{ modelID string }

func (e busyError) Error() string { return "session busy: " + e.modelID }

// ErrBusy constructs a busyError.
func ErrBusy(modelID string) error { return busyError{modelID: modelID} }

// IsBusy reports whether err indicates an in-flight generation collision.
func IsBusy(err error) bool {
	_, ok := err.(busyError)
	return ok
}

// sessionClosedError signals use after Unload.
type sessionClosedError struct{ modelID string }

func (e sessionClosedError) Error() string { return "session closed: " + e.modelID }

// ErrClosed constructs a sessionClosedError.
func ErrClosed(modelID string) error { return sessionClosedError{modelID: modelID} }

// IsClosed reports whether err indicates use of an unloaded session.
func IsClosed(err error) bool {
	_, ok := err.(sessionClosedError)
	return ok
}
