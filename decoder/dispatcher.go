package decoder

import (
	"image"

	"github.com/ugparu/hwdec"
	"github.com/ugparu/hwdec/utils/lifecycle"
	"github.com/ugparu/hwdec/utils/logger"
)

// dispatcher moves decoded frames from completion callbacks, which may run on any
// goroutine, to a single goroutine that calls the sink. The sink therefore never sees
// concurrent Receive calls and gets frames in completion order.
type dispatcher struct {
	lifecycle.AsyncManager[*dispatcher]
	sink        hwdec.FrameSink
	frames      chan image.Image
	onDelivered func()
}

func newDispatcher(sink hwdec.FrameSink, queueSize int, onDelivered func()) *dispatcher {
	d := &dispatcher{
		AsyncManager: nil,
		sink:         sink,
		frames:       make(chan image.Image, queueSize),
		onDelivered:  onDelivered,
	}
	d.AsyncManager = lifecycle.NewFailSafeAsyncManager(d)
	return d
}

// push queues frame without blocking and reports whether it was accepted.
func (d *dispatcher) push(frame image.Image) bool {
	select {
	case d.frames <- frame:
		return true
	default:
		return false
	}
}

func (d *dispatcher) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		logger.Debug(d, "Close signal detected. Breaking dispatching...")
		return &lifecycle.BreakError{}
	case frame := <-d.frames:
		d.sink.Receive(frame)
		d.onDelivered()
		logger.Tracef(d, "Delivered frame %v", frame.Bounds())
		return nil
	}
}

// Close_ drops frames that were never handed to the sink.
func (d *dispatcher) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	for {
		select {
		case <-d.frames:
		default:
			return
		}
	}
}

func (d *dispatcher) String() string {
	return "FRAME_DISPATCHER"
}
