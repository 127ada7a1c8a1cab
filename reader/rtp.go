package reader

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/ugparu/hwdec/utils/lifecycle"
	"github.com/ugparu/hwdec/utils/logger"
	"github.com/ugparu/hwdec/utils/nal"
)

const (
	maxDatagramSize = 1500
	rtpPollInterval = 200 * time.Millisecond
)

// RTP receives an H.264 RTP stream (RFC 6184: single NAL, STAP-A and FU-A payloads) on a UDP socket.
type RTP struct {
	lifecycle.AsyncManager[*RTP]
	conn    net.PacketConn
	depack  *codecs.H264Packet
	grouper Grouper
	buf     []byte
	lastSeq uint16
	started bool
	packets chan []byte
}

// NewRTP binds listen, e.g. ":5004". The socket is owned by the reader until Close.
func NewRTP(listen string, chanSize int) (*RTP, error) {
	conn, err := net.ListenPacket("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", listen, err)
	}

	rdr := &RTP{
		AsyncManager: nil,
		conn:         conn,
		depack:       &codecs.H264Packet{}, //nolint:exhaustruct // annex-b output
		grouper:      Grouper{},
		buf:          make([]byte, maxDatagramSize),
		lastSeq:      0,
		started:      false,
		packets:      make(chan []byte, chanSize),
	}
	rdr.AsyncManager = lifecycle.NewFailSafeAsyncManager(rdr)
	return rdr, nil
}

// Addr returns the bound local address.
func (rdr *RTP) Addr() net.Addr {
	return rdr.conn.LocalAddr()
}

// Read starts receiving.
func (rdr *RTP) Read() {
	startFunc := func(rdr *RTP) error {
		logger.Infof(rdr, "Listening for RTP")
		return nil
	}
	_ = rdr.Start(startFunc)
}

// Step handles one datagram. The read deadline keeps the loop responsive to Close.
func (rdr *RTP) Step(stopCh <-chan struct{}) error {
	select {
	case <-stopCh:
		return &lifecycle.BreakError{}
	default:
	}

	if err := rdr.conn.SetReadDeadline(time.Now().Add(rtpPollInterval)); err != nil {
		return err
	}
	n, _, err := rdr.conn.ReadFrom(rdr.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil
		}
		if errors.Is(err, net.ErrClosed) {
			return &lifecycle.BreakError{}
		}
		return err
	}

	pkt := &rtp.Packet{} //nolint:exhaustruct // filled by Unmarshal
	if err = pkt.Unmarshal(rdr.buf[:n]); err != nil {
		return fmt.Errorf("bad RTP packet: %w", err)
	}
	if rdr.started && pkt.SequenceNumber != rdr.lastSeq+1 {
		logger.Debugf(rdr, "Sequence gap %d -> %d", rdr.lastSeq, pkt.SequenceNumber)
	}
	rdr.lastSeq, rdr.started = pkt.SequenceNumber, true

	payload, err := rdr.depack.Unmarshal(pkt.Payload)
	if err != nil {
		return fmt.Errorf("bad H264 payload: %w", err)
	}
	// an incomplete fragmentation unit yields nothing yet
	for _, nalu := range nal.SplitAnnexB(payload) {
		buf, ok := rdr.grouper.Push(nalu)
		if !ok {
			continue
		}
		select {
		case <-stopCh:
			return &lifecycle.BreakError{}
		case rdr.packets <- buf:
		}
	}
	return nil
}

func (rdr *RTP) Packets() <-chan []byte {
	return rdr.packets
}

func (rdr *RTP) Close() {
	rdr.AsyncManager.Close()
}

// Close_ releases the socket and closes the packets channel.
func (rdr *RTP) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	if err := rdr.conn.Close(); err != nil {
		logger.Warningf(rdr, "Failed to close socket: %v", err)
	}
	close(rdr.packets)
}

func (rdr *RTP) String() string {
	return "RTP_READER " + rdr.conn.LocalAddr().String()
}
