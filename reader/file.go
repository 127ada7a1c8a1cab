package reader

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/ugparu/hwdec/codec/h264"
	"github.com/ugparu/hwdec/utils/lifecycle"
	"github.com/ugparu/hwdec/utils/logger"
	"github.com/ugparu/hwdec/utils/nal"
)

var ErrEmptyStream = errors.New("reader: stream contains no coded slices")

// File replays an Annex-B elementary stream file, one coded slice per tick.
type File struct {
	lifecycle.AsyncManager[*File]
	name      string
	nalus     [][]byte
	pos       int
	interval  time.Duration
	loop      bool
	grouper   Grouper
	ticker    *time.Ticker
	packets   chan []byte
	closeOnce sync.Once
}

// NewFile loads path into memory. With fps <= 0 buffers are sent as fast as they are consumed.
// When loop is set the stream restarts from the beginning, otherwise Packets is closed at the end.
func NewFile(path string, fps int, loop bool, chanSize int) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	nalus := nal.SplitAnnexB(data)
	if !slices.ContainsFunc(nalus, func(nalu []byte) bool { return len(nalu) > 0 && h264.IsSlice(h264.TypeOf(nalu[0])) }) {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyStream)
	}

	rdr := &File{
		AsyncManager: nil,
		name:         filepath.Base(path),
		nalus:        nalus,
		pos:          0,
		interval:     0,
		loop:         loop,
		grouper:      Grouper{},
		ticker:       nil,
		packets:      make(chan []byte, chanSize),
		closeOnce:    sync.Once{},
	}
	if fps > 0 {
		rdr.interval = time.Second / time.Duration(fps)
	}
	rdr.AsyncManager = lifecycle.NewAsyncManager(rdr)
	return rdr, nil
}

// Read starts replaying.
func (rdr *File) Read() {
	startFunc := func(rdr *File) error {
		if rdr.interval > 0 {
			rdr.ticker = time.NewTicker(rdr.interval)
		}
		logger.Infof(rdr, "Replaying %d units, interval %v, loop %t", len(rdr.nalus), rdr.interval, rdr.loop)
		return nil
	}
	_ = rdr.Start(startFunc)
}

// Step sends the next buffer.
func (rdr *File) Step(stopCh <-chan struct{}) error {
	for {
		if rdr.pos == len(rdr.nalus) {
			if !rdr.loop {
				logger.Info(rdr, "End of stream")
				rdr.closePackets()
				return &lifecycle.BreakError{}
			}
			logger.Debug(rdr, "Restarting stream")
			rdr.pos = 0
			rdr.grouper.Reset()
		}

		buf, ok := rdr.grouper.Push(rdr.nalus[rdr.pos])
		rdr.pos++
		if !ok {
			continue
		}

		if rdr.ticker != nil {
			select {
			case <-stopCh:
				return &lifecycle.BreakError{}
			case <-rdr.ticker.C:
			}
		}

		select {
		case <-stopCh:
			return &lifecycle.BreakError{}
		case rdr.packets <- buf:
			return nil
		}
	}
}

func (rdr *File) closePackets() {
	rdr.closeOnce.Do(func() { close(rdr.packets) })
}

func (rdr *File) Packets() <-chan []byte {
	return rdr.packets
}

func (rdr *File) Close() {
	rdr.AsyncManager.Close()
}

// Close_ stops the ticker and closes the packets channel.
func (rdr *File) Close_() { //nolint:revive // required by lifecycle.AsyncInstance interface
	if rdr.ticker != nil {
		rdr.ticker.Stop()
	}
	rdr.closePackets()
}

func (rdr *File) String() string {
	return "FILE_READER " + rdr.name
}
