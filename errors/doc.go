// Package errors provides structured error types for the kernel.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the offending instance, a detail message and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLoad, errors.KindSignatureMismatch).
//		Instance(7).
//		Detail("import %s#%s has wrong arity", ns, name).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Malformed("section 3 overruns image", cause)
//	err := errors.ResourceExhausted("instance slots")
//
// Load failures match the sentinels ErrMalformed, ErrSignatureMismatch and
// ErrResourceExhausted with errors.Is; the match is on Phase and Kind only.
package errors
