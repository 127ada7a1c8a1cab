package lifecycle

import "fmt"

type Instance interface {
	Close_()
	String() string
}

type AsyncInstance interface {
	Instance
	Step(stopChan <-chan struct{}) error
}

// Manager starts an instance once and closes it once. Close_ runs exactly once,
// even when Start was never called.
type Manager[T Instance] interface {
	Start(func(T) error) error
	Close()
	// Closed is closed as soon as Close has been requested.
	Closed() <-chan struct{}
}

// AsyncManager additionally owns the goroutine running Step.
type AsyncManager[T AsyncInstance] interface {
	Manager[T]
	// Stop asks the loop to exit and returns immediately. Close_ runs on the loop
	// goroutine once the current Step returns.
	Stop()
	// Done is closed when the loop has exited.
	Done() <-chan struct{}
}

// BreakError is returned by Step to leave the main loop without reporting a failure.
type BreakError struct{}

func (*BreakError) Error() string {
	return "break"
}

type StartedAlreadyError struct{}

func (*StartedAlreadyError) Error() string {
	return "started already"
}

type StartedAfterCloseError struct{}

func (*StartedAfterCloseError) Error() string {
	return "start after close"
}

// PanicError wraps a value recovered from a panicking start function.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

var errBreak = &BreakError{}
