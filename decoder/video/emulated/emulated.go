// Package emulated provides a software stand-in for a platform decode service.
//
// It validates parameter sets and slices the way hardware would, decodes nothing and
// completes every accepted unit asynchronously with a synthetic 4:2:0 picture of the
// size announced by the SPS.
package emulated

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	mch264 "github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/ugparu/hwdec"
	"github.com/ugparu/hwdec/codec/h264"
	"github.com/ugparu/hwdec/utils/lifecycle"
	"github.com/ugparu/hwdec/utils/logger"
)

var (
	ErrUnsupportedDescriptor = errors.New("emulated: descriptor was not built by this decoder")
	ErrZeroSize              = errors.New("emulated: SPS describes an empty picture")
	ErrInvalidated           = errors.New("emulated: session is invalidated")
	ErrQueueFull             = errors.New("emulated: session queue is full")
	ErrNotSlice              = errors.New("emulated: unit is not a coded slice")
	ErrNoReference           = errors.New("emulated: non-IDR slice before the first IDR")
	ErrCorruptDescriptor     = errors.New("emulated: descriptor record does not match its parameter sets")
	ErrFraming               = errors.New("emulated: length prefix does not cover the unit")
)

const (
	DefaultQueueSize = 32
	chromaNeutral    = 128
)

// Config tunes the emulated decoder.
type Config struct {
	Latency   time.Duration // Delay between accepting a unit and completing it.
	QueueSize int           // Units a session accepts before Submit fails.
}

// Stats is a snapshot of emulated decoder activity.
type Stats struct {
	LiveSessions int64  `json:"live_sessions"`
	Submitted    uint64 `json:"submitted"`
	Decoded      uint64 `json:"decoded"`
	Failed       uint64 `json:"failed"`
}

// Decoder implements hwdec.HardwareDecoder without hardware.
type Decoder struct {
	cfg       Config
	seq       atomic.Uint64
	live      atomic.Int64
	submitted atomic.Uint64
	decoded   atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config) *Decoder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Decoder{cfg: cfg} //nolint:exhaustruct // counters start at zero
}

// BuildDescriptor parses the SPS and returns *h264.CodecParameters.
func (d *Decoder) BuildDescriptor(sps, pps []byte) (hwdec.FormatDescriptor, error) {
	par, err := h264.NewCodecDataFromSPSAndPPS(sps, pps)
	if err != nil {
		return nil, err
	}
	if par.Width() == 0 || par.Height() == 0 {
		return nil, ErrZeroSize
	}
	return &par, nil
}

func (d *Decoder) CreateSession(desc hwdec.FormatDescriptor, token uint64, cb hwdec.CompletionCallback) (hwdec.Session, error) {
	par, ok := desc.(*h264.CodecParameters)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedDescriptor, desc)
	}
	if err := verifyRecord(par); err != nil {
		return nil, err
	}

	sess := newSession(d, par, d.seq.Add(1), token, cb)
	if err := sess.Start(func(*session) error { return nil }); err != nil {
		return nil, err
	}
	d.live.Add(1)
	logger.Debugf(d, "Opened %v", sess)
	return sess, nil
}

// InvalidateSession stops the session without waiting for the unit in progress,
// which may still complete afterwards.
func (d *Decoder) InvalidateSession(s hwdec.Session) {
	sess, ok := s.(*session)
	if !ok || !sess.invalidated.CompareAndSwap(false, true) {
		return
	}
	d.live.Add(-1)
	logger.Debugf(d, "Invalidating %v", sess)
	sess.Stop()
}

// Submit copies unit and queues it for completion.
func (d *Decoder) Submit(s hwdec.Session, unit []byte) error {
	sess, ok := s.(*session)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupportedDescriptor, s)
	}
	if sess.invalidated.Load() {
		return ErrInvalidated
	}

	if err := checkPrefix(unit, sess.par.NALUnitHeaderLength()); err != nil {
		return err
	}
	nalus, err := mch264.AVCCUnmarshal(unit)
	if err != nil {
		return err
	}
	if !h264.IsSlice(h264.TypeOf(nalus[0][0])) {
		return fmt.Errorf("%w: %v", ErrNotSlice, h264.TypeOf(nalus[0][0]))
	}

	select {
	case sess.units <- h264.TypeOf(nalus[0][0]):
		d.submitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// verifyRecord checks that the avcC record a session would be configured with
// carries the same parameter sets as the descriptor.
func verifyRecord(par *h264.CodecParameters) error {
	parsed, err := h264.NewCodecDataFromAVCDecoderConfRecord(par.AVCDecoderConfRecordBytes())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptDescriptor, err)
	}
	if !bytes.Equal(parsed.SPS(), par.SPS()) || !bytes.Equal(parsed.PPS(), par.PPS()) {
		return ErrCorruptDescriptor
	}
	return nil
}

// checkPrefix requires a single length prefix of width bytes spanning the rest of unit.
func checkPrefix(unit []byte, width int) error {
	if len(unit) <= width {
		return fmt.Errorf("%w: %d bytes", ErrFraming, len(unit))
	}
	var size uint64
	for _, b := range unit[:width] {
		size = size<<8 | uint64(b)
	}
	if size != uint64(len(unit)-width) {
		return fmt.Errorf("%w: prefix %d, payload %d", ErrFraming, size, len(unit)-width)
	}
	return nil
}

func (d *Decoder) Stats() Stats {
	return Stats{
		LiveSessions: d.live.Load(),
		Submitted:    d.submitted.Load(),
		Decoded:      d.decoded.Load(),
		Failed:       d.failed.Load(),
	}
}

func (d *Decoder) String() string {
	return "EMULATED_DECODER"
}

// session completes queued units in submission order on its own goroutine.
type session struct {
	lifecycle.AsyncManager[*session]
	dec         *Decoder
	par         *h264.CodecParameters
	id          uint64
	token       uint64
	cb          hwdec.CompletionCallback
	units       chan h264.NaluType
	invalidated atomic.Bool
	hasKey      bool
	frames      uint64
}

func newSession(dec *Decoder, par *h264.CodecParameters, id, token uint64, cb hwdec.CompletionCallback) *session {
	sess := &session{
		AsyncManager: nil,
		dec:          dec,
		par:          par,
		id:           id,
		token:        token,
		cb:           cb,
		units:        make(chan h264.NaluType, dec.cfg.QueueSize),
		invalidated:  atomic.Bool{},
		hasKey:       false,
		frames:       0,
	}
	sess.AsyncManager = lifecycle.NewFailSafeAsyncManager(sess)
	return sess
}

func (s *session) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return &lifecycle.BreakError{}
	case typ := <-s.units:
		if s.dec.cfg.Latency > 0 {
			select {
			case <-stopCh:
				return &lifecycle.BreakError{}
			case <-time.After(s.dec.cfg.Latency):
			}
		}
		s.complete(typ)
		return nil
	}
}

func (s *session) complete(typ h264.NaluType) {
	if typ == h264.NaluCodedIDR {
		s.hasKey = true
	}
	if !s.hasKey {
		s.dec.failed.Add(1)
		s.cb(s.token, ErrNoReference, nil)
		return
	}

	s.frames++
	s.dec.decoded.Add(1)
	s.cb(s.token, nil, s.picture())
}

// picture renders a diagonal luma ramp shifted by the frame number.
func (s *session) picture() *image.YCbCr {
	w, h := int(s.par.Width()), int(s.par.Height()) //nolint:gosec // checked on build
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)

	shift := int(s.frames)
	for y := range h {
		row := img.Y[y*img.YStride : y*img.YStride+w]
		for x := range row {
			row[x] = byte(x + y + shift)
		}
	}
	for i := range img.Cb {
		img.Cb[i] = chromaNeutral
		img.Cr[i] = chromaNeutral
	}
	return img
}

// Close_ drops units that were never completed.
func (s *session) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	for {
		select {
		case <-s.units:
		default:
			return
		}
	}
}

func (s *session) String() string {
	return fmt.Sprintf("EMULATED_SESSION id=%d %s %dx%d bitrate=%d", s.id, s.par.Tag(), s.par.Width(), s.par.Height(), s.par.Bitrate())
}
