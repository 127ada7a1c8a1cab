package reader

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/pion/rtp"
	"github.com/ugparu/hwdec/utils/lifecycle"
	"github.com/ugparu/hwdec/utils/logger"
)

const (
	minReconnectInterval = time.Second
	maxReconnectInterval = time.Second * 8
)

var ErrNoH264 = errors.New("reader: no H264 track found")

// RTSP pulls the H.264 track of an RTSP source and reconnects when the session ends.
type RTSP struct {
	lifecycle.AsyncManager[*RTSP]
	src         string
	host        string
	timeout     time.Duration
	recInterval time.Duration
	packets     chan []byte
}

// NewRTSP validates src. Nothing is dialed before Read.
func NewRTSP(src string, timeout time.Duration, chanSize int) (*RTSP, error) {
	u, err := base.ParseURL(src)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdr := &RTSP{
		AsyncManager: nil,
		src:          src,
		host:         (*url.URL)(u).Hostname(),
		timeout:      timeout,
		recInterval:  minReconnectInterval,
		packets:      make(chan []byte, chanSize),
	}
	rdr.AsyncManager = lifecycle.NewFailSafeAsyncManager(rdr)
	return rdr, nil
}

// Read starts pulling the stream.
func (rdr *RTSP) Read() {
	startFunc := func(*RTSP) error {
		return nil
	}
	_ = rdr.Start(startFunc)
}

// Step runs one RTSP session until it fails, then waits before the next attempt.
func (rdr *RTSP) Step(stopCh <-chan struct{}) error {
	err := rdr.session(stopCh)

	select {
	case <-stopCh:
		return &lifecycle.BreakError{}
	default:
	}

	// Log only if we haven't reached the max reconnect interval yet
	if rdr.recInterval < maxReconnectInterval {
		logger.Warningf(rdr, "Session ended: %v", err)
		logger.Infof(rdr, "Reconnecting in %.fs", rdr.recInterval.Seconds())
	}

	select {
	case <-time.After(rdr.recInterval):
	case <-stopCh:
		return &lifecycle.BreakError{}
	}
	rdr.recInterval = rdr.updateReconnectInterval(rdr.recInterval)
	return nil
}

// session connects, plays and blocks until the session fails or stopCh is closed.
func (rdr *RTSP) session(stopCh <-chan struct{}) error {
	u, err := base.ParseURL(rdr.src)
	if err != nil {
		return err
	}

	c := &gortsplib.Client{ //nolint:exhaustruct // library defaults
		ReadTimeout:  rdr.timeout,
		WriteTimeout: rdr.timeout,
	}
	if err = c.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer c.Close()

	desc, _, err := c.Describe(u)
	if err != nil {
		return fmt.Errorf("describe: %w", err)
	}

	var forma *format.H264
	medi := desc.FindFormat(&forma)
	if medi == nil {
		return ErrNoH264
	}

	rtpDec, err := forma.CreateDecoder()
	if err != nil {
		return fmt.Errorf("create RTP decoder: %w", err)
	}

	grouper := &Grouper{}
	if sps, pps := forma.SafeParams(); sps != nil && pps != nil {
		logger.Debugf(rdr, "Parameter sets from SDP: SPS %d bytes, PPS %d bytes", len(sps), len(pps))
		grouper.SetParameters(sps, pps)
	}

	if _, err = c.Setup(desc.BaseURL, medi, 0, 0); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	c.OnPacketRTP(medi, forma, func(pkt *rtp.Packet) {
		au, err := rtpDec.Decode(pkt)
		if err != nil {
			if !errors.Is(err, rtph264.ErrMorePacketsNeeded) {
				logger.Tracef(rdr, "Dropping RTP packet: %v", err)
			}
			return
		}
		for _, nalu := range au {
			buf, ok := grouper.Push(nalu)
			if !ok {
				continue
			}
			select {
			case rdr.packets <- buf:
			case <-stopCh:
				return
			}
		}
	})

	if _, err = c.Play(nil); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	logger.Infof(rdr, "Playing %v", forma.Codec())
	rdr.recInterval = minReconnectInterval

	errCh := make(chan error, 1)
	go func() { errCh <- c.Wait() }()

	select {
	case <-stopCh:
		return nil
	case err = <-errCh:
		return err
	}
}

// updateReconnectInterval increases the reconnect interval exponentially up to the maximum
func (rdr *RTSP) updateReconnectInterval(current time.Duration) time.Duration {
	if current >= maxReconnectInterval {
		return current
	}

	const scaleFactor = 2
	newInterval := current * scaleFactor

	if newInterval >= maxReconnectInterval {
		newInterval = maxReconnectInterval
		logger.Infof(rdr, "Max reconnect interval reached. Further attempts will be silent")
	}

	return newInterval
}

func (rdr *RTSP) Packets() <-chan []byte {
	return rdr.packets
}

func (rdr *RTSP) Close() {
	rdr.AsyncManager.Close()
}

// Close_ closes the packets channel.
func (rdr *RTSP) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	logger.Infof(rdr, "Closing reader")
	close(rdr.packets)
}

func (rdr *RTSP) String() string {
	return "RTSP_READER " + rdr.host
}
