package protocol

import "fmt"

// ProtocolError reports a message that could not be decoded: malformed
// JSON, an unknown type, or a missing required field. The connection stays
// open; only the offending message is discarded.
type ProtocolError struct {
	Type   MessageType
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := "protocol error"
	if e.Type != "" {
		msg += fmt.Sprintf(" (%s)", e.Type)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

func protocolErr(t MessageType, reason string) *ProtocolError {
	return &ProtocolError{Type: t, Reason: reason}
}
