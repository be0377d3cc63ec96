package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic converts a recovered panic value into an internal error carrying
// the stack trace, so batch loops can record it like any other unit failure.
func RecoverPanic(r interface{}) error {
	return ErrInternal.
		WithCause(fmt.Errorf("panic: %v", r)).
		WithDetail("stack", string(debug.Stack()))
}
