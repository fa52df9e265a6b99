package util

// ErrorString is a trivial constant error.
type ErrorString struct {
	S string
}

func (e *ErrorString) Error() string {
	return e.S
}
