// Package errors provides structured error types for the nativehandle module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the record field, the native address and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseAccess, errors.KindInvalidHandle).
//		Field("url").
//		Address(0x40).
//		Detail("record was destroyed").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHandle(errors.PhaseAccess, 0, "proxy released")
//	err := errors.OutOfBounds(errors.PhaseDecode, 65536, 8)
//
// All errors implement the standard error interface and support errors.Is/As.
// errors.Is matches on Phase and Kind; IsKind matches on Kind alone.
package errors
