package privacy

// scrubbedError reports a scrubbed message while keeping the cause
// reachable for errors.Is and errors.As.
type scrubbedError struct {
	cause error
	msg   string
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.cause }

// WrapError returns err with URLs, coordinates, emails and addresses
// scrubbed from its message, or nil for a nil err. Use it on errors from
// remote backends before they reach logs or telemetry.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{cause: err, msg: ScrubMessage(err.Error())}
}
