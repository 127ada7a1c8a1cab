package hwdec

import (
	"image"
)

// FormatDescriptor is an opaque decoder configuration built from a SPS/PPS pair.
type FormatDescriptor interface {
	String() string // Returns a short human-readable description used in logs.
}

// Session is an opaque handle of a live hardware decode session.
type Session interface {
	String() string // Returns a short human-readable description used in logs.
}

// CompletionCallback is invoked by a HardwareDecoder once per submitted unit.
// It may be called on any goroutine, including from inside Submit.
// token is the value passed to CreateSession for the session the unit was submitted to.
type CompletionCallback func(token uint64, status error, frame image.Image)

// HardwareDecoder defines the contract of the platform decode service.
type HardwareDecoder interface {
	// BuildDescriptor validates the parameter sets and returns a format descriptor.
	// sps and pps start with their NAL header byte and carry no start code.
	BuildDescriptor(sps, pps []byte) (FormatDescriptor, error)
	// CreateSession opens a decode session bound to desc. Every completion of a unit
	// submitted to the session is reported through cb together with token.
	CreateSession(desc FormatDescriptor, token uint64, cb CompletionCallback) (Session, error)
	// InvalidateSession releases the session. It must be safe to call while decodes are outstanding.
	InvalidateSession(sess Session)
	// Submit hands one length-prefixed unit to the session. The unit is only valid for the duration of the call.
	Submit(sess Session, unit []byte) error
}

// FrameSink receives decoded frames.
type FrameSink interface {
	Receive(frame image.Image)
}

// FrameSinkFunc adapts an ordinary function to the FrameSink interface.
type FrameSinkFunc func(frame image.Image)

// Receive calls f(frame).
func (f FrameSinkFunc) Receive(frame image.Image) {
	f(frame)
}

// Reader defines the interface of a bitstream ingest source.
// Every buffer sent on Packets starts with a 4-byte start code followed by a NAL header.
type Reader interface {
	Read()                  // Starts the reading process.
	Packets() <-chan []byte // Channel providing start-code delimited buffers.
	Close()                 // Stops reading and releases resources.
}
