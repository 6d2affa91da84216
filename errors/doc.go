// Package errors provides standardized error handling for daqstream components.
//
// # Overview
//
// Errors fall into three classes that decide what the caller does next:
// Transient (skip this cycle, try again on the next one), Invalid (bad
// configuration or misuse, do not retry) and Fatal (stop processing).
//
// The sample buffer maps its failure taxonomy onto these classes:
//
//   - configuration errors (bad layout)      -> Invalid, ErrInvalidConfig
//   - capacity errors (write would overrun)  -> Transient, ErrBufferFull
//   - misuse (call before initialisation)    -> Invalid, ErrNotInitialised
//
// Nothing in the buffer is fatal.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers set the class explicitly:
//
//	errors.WrapTransient(err, "SampleBuffer", "Advance", "space check")
//	errors.WrapInvalid(err, "SampleBuffer", "Initialise", "layout validation")
//	errors.WrapFatal(err, "Server", "Start", "listen")
//
// The standard library helpers keep working through the chain:
//
//	if errors.Is(err, errors.ErrBufferFull) {
//	    // producer is blocked until the consumer checks out
//	}
package errors
