package lifecycle

import (
	"errors"
	"runtime/debug"
	"sync"

	"github.com/ugparu/hwdec/utils/logger"
)

// asyncLifecycleManager runs instance.Step in a dedicated goroutine until a BreakError.
// In failsafe mode step errors and panics are logged and the loop keeps going,
// otherwise the first error or panic terminates the loop.
//
// Close_ runs once: on the loop goroutine when the loop ends after a stop request,
// otherwise in Close after the loop has exited.
type asyncLifecycleManager[T AsyncInstance] struct {
	instance                          T
	failsafe                          bool
	mu                                sync.Mutex
	stopped, exited                   bool
	stopChan, doneChan                chan struct{}
	startOnce, closeOnce, releaseOnce *sync.Once
}

func newAsyncManager[T AsyncInstance](instance T, failsafe bool) *asyncLifecycleManager[T] {
	return &asyncLifecycleManager[T]{
		instance:    instance,
		failsafe:    failsafe,
		mu:          sync.Mutex{},
		stopped:     false,
		exited:      false,
		stopChan:    make(chan struct{}),
		doneChan:    make(chan struct{}),
		startOnce:   &sync.Once{},
		closeOnce:   &sync.Once{},
		releaseOnce: &sync.Once{},
	}
}

func NewAsyncManager[T AsyncInstance](instance T) AsyncManager[T] {
	return newAsyncManager(instance, false)
}

func NewFailSafeAsyncManager[T AsyncInstance](instance T) AsyncManager[T] {
	return newAsyncManager(instance, true)
}

func (alm *asyncLifecycleManager[T]) Start(startFunc func(T) error) (err error) {
	if !alm.failsafe {
		select {
		case <-alm.stopChan:
			return &StartedAfterCloseError{}
		default:
			err = &StartedAlreadyError{}
		}
	}

	alm.startOnce.Do(func() {
		logger.Debugf(alm.instance, "Starting async failsafe=%v", alm.failsafe)
		if err = alm.runStart(startFunc); err != nil {
			if !alm.failsafe {
				alm.exit()
				return
			}
			logger.Warningf(alm.instance, "Detected error on start: %s", err.Error())
			err = nil
		}
		go alm.process()
	})
	if alm.failsafe {
		return nil
	}
	return err
}

func (alm *asyncLifecycleManager[T]) runStart(startFunc func(T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(alm.instance, "Panic detected on start: %v", r)
			logger.Errorf(alm.instance, "%s", debug.Stack())
			err = &PanicError{Value: r}
		}
	}()
	return startFunc(alm.instance)
}

// step runs a single iteration and reports whether the loop must continue.
func (alm *asyncLifecycleManager[T]) step() (running bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(alm.instance, "Panic detected! Recovering from: %v", r)
			logger.Errorf(alm.instance, "%s", debug.Stack())
			running = alm.failsafe
		}
	}()

	err := alm.instance.Step(alm.stopChan)
	if err == nil {
		return true
	}
	if errors.As(err, &errBreak) {
		return false
	}
	logger.Warningf(alm.instance, "Detected error: %s", err.Error())
	return alm.failsafe
}

func (alm *asyncLifecycleManager[T]) process() {
	logger.Debug(alm.instance, "Entering main loop")
	for alm.step() {
	}
	alm.exit()
}

// exit marks the loop as gone, releases the instance if a stop was requested and closes doneChan.
func (alm *asyncLifecycleManager[T]) exit() {
	alm.mu.Lock()
	alm.exited = true
	stopped := alm.stopped
	alm.mu.Unlock()

	if stopped {
		alm.release()
	}
	close(alm.doneChan)
}

// stop closes stopChan once and reports whether the loop has already exited.
func (alm *asyncLifecycleManager[T]) stop() (exited bool) {
	alm.mu.Lock()
	defer alm.mu.Unlock()
	if !alm.stopped {
		alm.stopped = true
		close(alm.stopChan)
	}
	return alm.exited
}

func (alm *asyncLifecycleManager[T]) release() {
	alm.releaseOnce.Do(func() {
		logger.Debug(alm.instance, "Releasing")
		alm.instance.Close_()
	})
}

func (alm *asyncLifecycleManager[T]) Stop() {
	if alm.stop() {
		alm.release()
	}
	alm.startOnce.Do(alm.exit)
}

func (alm *asyncLifecycleManager[T]) Close() {
	alm.closeOnce.Do(func() {
		alm.Stop()
		<-alm.doneChan
		alm.release()
	})
}

func (alm *asyncLifecycleManager[T]) Closed() <-chan struct{} {
	return alm.stopChan
}

func (alm *asyncLifecycleManager[T]) Done() <-chan struct{} {
	return alm.doneChan
}
