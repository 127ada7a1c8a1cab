package lifecycle

import (
	"sync"

	"github.com/ugparu/hwdec/utils/logger"
)

// defaultLifecycleManager guards a synchronous instance. Closed is signalled before
// Close_ runs, so callers holding the instance lock observe the close request first.
type defaultLifecycleManager[T Instance] struct {
	instance             T
	startOnce, closeOnce *sync.Once
	closeChan            chan struct{}
}

func NewDefaultManager[T Instance](instance T) Manager[T] {
	return &defaultLifecycleManager[T]{
		instance:  instance,
		closeChan: make(chan struct{}),
		startOnce: &sync.Once{},
		closeOnce: &sync.Once{},
	}
}

func (dlm *defaultLifecycleManager[T]) Start(startFunc func(T) error) (err error) {
	select {
	case <-dlm.closeChan:
		return &StartedAfterCloseError{}
	default:
		err = &StartedAlreadyError{}
	}
	dlm.startOnce.Do(func() {
		logger.Debug(dlm.instance, "Starting")
		err = startFunc(dlm.instance)
	})
	return err
}

func (dlm *defaultLifecycleManager[T]) Close() {
	dlm.closeOnce.Do(func() {
		close(dlm.closeChan)
		logger.Debug(dlm.instance, "Closing")
		dlm.instance.Close_()
	})
}

func (dlm *defaultLifecycleManager[T]) Closed() <-chan struct{} {
	return dlm.closeChan
}
