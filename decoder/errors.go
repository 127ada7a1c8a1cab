package decoder

import (
	"fmt"
)

// MalformedInputError is reported when a buffer cannot be framed: it is too short, lacks the
// leading start code, or no unit boundary follows a parameter set inside the search window.
type MalformedInputError struct {
	Reason string
}

func (e *MalformedInputError) Error() string {
	return "malformed input: " + e.Reason
}

// DescriptorError is reported when the hardware decoder rejects a SPS/PPS pair.
type DescriptorError struct {
	Err error
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("can not build format descriptor: %v", e.Err)
}

func (e *DescriptorError) Unwrap() error {
	return e.Err
}

// SessionError is reported when a decode session can not be created for a valid descriptor.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("can not create decode session: %v", e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// SubmitError is reported when the session synchronously refuses a slice.
type SubmitError struct {
	Type string
	Err  error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("can not submit %s: %v", e.Type, e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// DecodeError is reported when the completion callback carries a failure status.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DispatchError is reported when a decoded frame is dropped because the sink falls behind.
type DispatchError struct {
	QueueSize int
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch queue of %d frames is full, frame dropped", e.QueueSize)
}

// ClosedError is returned by Feed after Close.
type ClosedError struct{}

func (ClosedError) Error() string {
	return "decoder is closed"
}
