package decoder

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ugparu/hwdec"
	"github.com/ugparu/hwdec/codec/h264"
	"github.com/ugparu/hwdec/utils/lifecycle"
	"github.com/ugparu/hwdec/utils/logger"
	"github.com/ugparu/hwdec/utils/nal"
)

// H264 drives a hardware decoder from a start-code delimited H.264 bitstream.
//
// Feed is synchronous and serialized; completions arrive on whatever goroutine the hardware
// decoder uses and are handed to the sink from the dispatcher goroutine.
type H264 struct {
	lifecycle.Manager[*H264]
	mu         sync.Mutex
	cfg        Config
	hw         hwdec.HardwareDecoder
	store      *parameterStore
	session    hwdec.Session
	tokenMu    sync.RWMutex  // orders token replacement against completions in flight
	token      atomic.Uint64 // token of the live session, handle.Invalid when there is none
	retired    []uint64      // tokens of invalidated sessions still registered in sessions
	state      atomic.Uint32
	dispatcher *dispatcher
	errCh      chan error
	stats      counters
}

// NewH264 creates a decoder that submits slices to hw and delivers decoded frames to sink.
func NewH264(hw hwdec.HardwareDecoder, sink hwdec.FrameSink, cfg Config) *H264 {
	cfg = cfg.withDefaults()
	dec := &H264{
		Manager:    nil,
		mu:         sync.Mutex{},
		tokenMu:    sync.RWMutex{},
		cfg:        cfg,
		hw:         hw,
		store:      newParameterStore(cfg.SPSWindow, cfg.PPSWindow),
		session:    nil,
		retired:    nil,
		dispatcher: nil,
		errCh:      make(chan error, cfg.DiagnosticsQueue),
	}
	dec.dispatcher = newDispatcher(sink, cfg.DispatchQueue, func() { dec.stats.framesDelivered.Add(1) })
	dec.Manager = lifecycle.NewDefaultManager(dec)

	startFunc := func(dec *H264) error {
		return dec.dispatcher.Start(func(*dispatcher) error { return nil })
	}
	if err := dec.Start(startFunc); err != nil {
		logger.Errorf(dec, "Failed to start frame dispatcher: %v", err)
	}

	return dec
}

// Feed interprets one buffer: a 4-byte start code, a NAL header and the payload, possibly
// followed by more start-code delimited units (typically SPS, PPS and an IDR slice).
//
// The buffer is reframed in place (start codes replaced by length prefixes) unless
// Config.CopyInput is set. The returned error is informational: it is also published
// on Errors, and the decoder is always ready for the next buffer.
func (dec *H264) Feed(buf []byte) error {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	select {
	case <-dec.Closed():
		return ClosedError{}
	default:
	}

	if len(buf) < nal.MinUnitSize || !nal.HasStartCode(buf) {
		return dec.fail(&MalformedInputError{
			Reason: fmt.Sprintf("buffer of %d bytes does not start with a start code and a header", len(buf)),
		})
	}

	typ := h264.TypeOf(buf[nal.StartCodeSize])
	switch {
	case typ == h264.NaluSPS:
	case typ == h264.NaluPPS && dec.store.sps == nil:
		logger.Tracef(dec, "Ignoring PPS without SPS")
		dec.stats.dropped.Add(1)
		return nil
	case typ == h264.NaluPPS:
	case h264.IsSlice(typ):
		if dec.State() != Ready {
			logger.Tracef(dec, "Dropping %v before parameter sets", typ)
			dec.stats.dropped.Add(1)
			return nil
		}
	default:
		logger.Tracef(dec, "Ignoring %v", typ)
		return nil
	}

	if dec.cfg.CopyInput {
		buf = bytes.Clone(buf)
	}
	_ = nal.Reframe(buf) // start code checked above

	res, err := dec.store.scan(buf, typ)
	if err != nil {
		return dec.fail(err)
	}

	switch {
	case res.pps != nil:
		sps := res.sps
		if sps == nil {
			sps = dec.store.sps
		}
		if err = dec.rebuild(sps, res.pps); err != nil {
			return err
		}
	case res.sps != nil:
		logger.Debugf(dec, "Stored SPS of %d bytes", len(res.sps))
		dec.store.setSPS(res.sps)
		dec.setState(AwaitingPPS)
	}

	if !h264.IsSlice(res.typ) {
		return nil
	}
	if dec.State() != Ready || dec.session == nil {
		dec.stats.dropped.Add(1)
		return nil
	}

	unit := buf[res.sliceStart:]
	if res.sliceStart > 0 {
		_ = nal.Reframe(unit) // scan found a start code at sliceStart
	}
	return dec.submit(unit, res.typ)
}

// rebuild replaces the descriptor and the session for a new SPS/PPS pair.
// On failure the decoder is left without a session in AwaitingParameters.
func (dec *H264) rebuild(sps, pps []byte) error {
	if dec.cfg.ReuseIdentical && dec.session != nil && dec.store.same(sps, pps) {
		logger.Debug(dec, "Parameter sets unchanged, keeping session")
		dec.setState(Ready)
		return nil
	}

	desc, err := dec.hw.BuildDescriptor(sps, pps)
	if err != nil {
		dec.reset()
		return dec.fail(&DescriptorError{Err: err})
	}
	dec.stats.descriptorsBuilt.Add(1)
	logger.Debugf(dec, "Built descriptor %v", desc)

	dec.teardownSession()
	dec.store.commit(sps, pps, desc)

	if err = dec.createSession(); err != nil {
		dec.reset()
		return dec.fail(&SessionError{Err: err})
	}

	dec.setState(Ready)
	logger.Infof(dec, "Session ready for %v", desc)
	return nil
}

func (dec *H264) submit(unit []byte, typ h264.NaluType) error {
	if err := dec.hw.Submit(dec.session, unit); err != nil {
		submitErr := &SubmitError{Type: typ.String(), Err: err}
		dec.report(submitErr)
		return submitErr
	}
	dec.stats.submitted.Add(1)
	logger.Tracef(dec, "Submitted %v of %d bytes", typ, len(unit))
	return nil
}

// fail reports err. Outside of Ready it also returns the decoder to AwaitingParameters,
// forgetting a partially received parameter set pair.
func (dec *H264) fail(err error) error {
	if dec.State() != Ready {
		dec.reset()
	}
	dec.report(err)
	return err
}

func (dec *H264) reset() {
	dec.teardownSession()
	dec.store.reset()
	dec.setState(AwaitingParameters)
}

// report publishes a diagnostic without ever blocking.
func (dec *H264) report(err error) {
	dec.stats.failures.Add(1)
	logger.Warningf(dec, "%v", err)
	select {
	case dec.errCh <- err:
	default:
	}
}

// Errors provides every reported failure. Reports are dropped when the channel is full.
// The channel is never closed.
func (dec *H264) Errors() <-chan error {
	return dec.errCh
}

func (dec *H264) State() State {
	return State(dec.state.Load())
}

func (dec *H264) setState(s State) {
	if old := State(dec.state.Swap(uint32(s))); old != s {
		logger.Debugf(dec, "State %v -> %v", old, s)
	}
}

// Descriptor returns the format descriptor of the live session, nil when there is none.
func (dec *H264) Descriptor() hwdec.FormatDescriptor {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.store.desc
}

// Close invalidates the session and stops delivering frames.
func (dec *H264) Close() {
	dec.Manager.Close()
}

// Close_ releases the session and the dispatcher.
func (dec *H264) Close_() { //nolint:revive // required by lifecycle.Instance interface
	dec.mu.Lock()
	dec.reset()
	dec.forgetTokens()
	dec.mu.Unlock()

	dec.dispatcher.Close()
}

func (dec *H264) String() string {
	return fmt.Sprintf("H264_DECODER state=%v", dec.State())
}
