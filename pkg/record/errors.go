package record

import "fmt"

// TypeMismatchError reports a record kind or declared type that does not
// match what the request named.
type TypeMismatchError struct {
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Want, e.Got)
}
