package sink

import (
	"image"

	"github.com/ugparu/hwdec"
)

// Tee hands every frame to each sink in order.
type Tee []hwdec.FrameSink

func (t Tee) Receive(frame image.Image) {
	for _, s := range t {
		s.Receive(frame)
	}
}
