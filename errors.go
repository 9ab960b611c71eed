package composer

import "errors"

var (
	// ErrClosed is returned by operations on a closed composer.
	ErrClosed = errors.New("composer is closed")
	// ErrMissingModuleABI is returned when a batched call has no module ABI.
	ErrMissingModuleABI = errors.New("could not find module ABI")
	// ErrMissingFunctionABI is returned when the module ABI lacks the function.
	ErrMissingFunctionABI = errors.New("could not find function ABI")
	// ErrTypeArgumentCount is returned when the number of type arguments does
	// not match the function's generic parameters.
	ErrTypeArgumentCount = errors.New("type argument count mismatch")
	// ErrGuestFault wraps failures of the composer module itself: traps,
	// bad memory accesses and results that do not decode.
	ErrGuestFault = errors.New("composer guest fault")
)

// GuestError is a failure reported by the composer module itself.
type GuestError struct {
	// Op is the export that failed.
	Op string
	// Message is the guest's error text.
	Message string
}

func (e *GuestError) Error() string {
	return e.Op + ": " + e.Message
}
