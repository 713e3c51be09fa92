package runtime

// unavailableError signals that the native backend for a runtime kind is
// not linked into this binary, so the HTTP layer can answer 503 instead
// of 500.
type unavailableError struct{ msg string }

func (e unavailableError) Error() string { return e.msg }

// ErrRuntimeUnavailable constructs an unavailableError.
func ErrRuntimeUnavailable(msg string) error { return unavailableError{msg: msg} }

// IsRuntimeUnavailable reports whether err indicates a missing native backend.
func IsRuntimeUnavailable(err error) bool {
	_, ok := err.(unavailableError)
	return ok
}
