package chat

// FlowError is the uniform failure shape produced by both the chat and
// image flows: a human-readable message suitable for direct display,
// wrapping whatever the transport or provider actually returned.
type FlowError struct {
	Op      string
	Message string
	Cause   error
}

func (e *FlowError) Error() string {
	return e.Message
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewFlowError normalizes any failure into a FlowError. Domain refusals and
// transport errors come out indistinguishable, by contract.
func NewFlowError(op, message string, cause error) *FlowError {
	return &FlowError{Op: op, Message: message, Cause: cause}
}
