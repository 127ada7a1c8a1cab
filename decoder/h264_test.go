package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ugparu/hwdec/utils/handle"
)

func newTestDecoder(t *testing.T, hw *fakeHW, sink *recordingSink, cfg Config) *H264 {
	t.Helper()
	dec := NewH264(hw, sink, cfg)
	t.Cleanup(func() {
		if sink.gate != nil {
			close(sink.gate)
		}
		dec.Close()
		hw.wg.Wait()
	})
	return dec
}

func TestInitialState(t *testing.T) {
	t.Parallel()
	dec := newTestDecoder(t, &fakeHW{}, &recordingSink{}, Config{})

	require.Equal(t, AwaitingParameters, dec.State())
	require.Nil(t, dec.Descriptor())
	require.Equal(t, "H264_DECODER state=AwaitingParameters", dec.String())
}

func TestFullParameterSetAndIDR(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeAsync}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{})

	buf := annexB(testSPS, testPPS, testIDR)
	total := len(buf)
	require.NoError(t, dec.Feed(buf))

	require.Equal(t, Ready, dec.State())
	require.NotNil(t, dec.Descriptor())

	builds, creates, invalidations, live, _, submits := hw.snapshot()
	require.Equal(t, 1, builds)
	require.Equal(t, 1, creates)
	require.Equal(t, 0, invalidations)
	require.Equal(t, 1, live)
	require.Equal(t, 1, submits)

	// parameter sets are passed without start codes and exactly as long as they are
	require.Equal(t, testSPS, hw.builds[0][0])
	require.Equal(t, testPPS, hw.builds[0][1])

	// the outer buffer carries the length of everything after its prefix
	require.Equal(t, uint32(total-4), binary.BigEndian.Uint32(buf))

	// the slice is submitted with its own length prefix
	unit := hw.submitted(0)
	require.Equal(t, uint32(len(testIDR)), binary.BigEndian.Uint32(unit))
	require.Equal(t, testIDR, unit[4:])

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return dec.Stats().FramesDelivered == 1 }, time.Second, time.Millisecond)

	stats := dec.Stats()
	require.Equal(t, Ready, stats.State)
	require.Equal(t, uint64(1), stats.DescriptorsBuilt)
	require.Equal(t, uint64(1), stats.SessionsCreated)
	require.Equal(t, uint64(1), stats.Submitted)
	require.Equal(t, uint64(0), stats.Failures)
}

func TestSliceBeforeParameters(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeInline}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{})

	buf := annexB(testSlice)
	orig := bytes.Clone(buf)
	require.NoError(t, dec.Feed(buf))

	require.Equal(t, AwaitingParameters, dec.State())
	require.Equal(t, orig, buf)
	_, creates, _, _, _, submits := hw.snapshot()
	require.Equal(t, 0, creates)
	require.Equal(t, 0, submits)
	require.Equal(t, uint64(1), dec.Stats().Dropped)

	require.NoError(t, dec.Feed(annexB(testIDR)))
	_, _, _, _, _, submits = hw.snapshot()
	require.Equal(t, 0, submits)
}

func TestOversizedSPS(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	long := append(bytes.Clone(testSPS), bytes.Repeat([]byte{0x11}, 30)...)
	require.Len(t, long, 40)

	err := dec.Feed(annexB(long, testPPS, testIDR))
	var malformed *MalformedInputError
	require.ErrorAs(t, err, &malformed)
	require.ErrorAs(t, nextError(t, dec), &malformed)

	require.Equal(t, AwaitingParameters, dec.State())
	require.Nil(t, dec.store.sps)
	builds, creates, _, _, _, _ := hw.snapshot()
	require.Equal(t, 0, builds)
	require.Equal(t, 0, creates)
}

func TestLargerWindowAcceptsLongSPS(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{SPSWindow: 64})

	long := append(bytes.Clone(testSPS), bytes.Repeat([]byte{0x11}, 30)...)
	require.NoError(t, dec.Feed(annexB(long, testPPS, testIDR)))
	require.Equal(t, Ready, dec.State())
	require.Equal(t, long, hw.builds[0][0])
}

func TestOversizedPPS(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	long := append(bytes.Clone(testPPS), bytes.Repeat([]byte{0x22}, 40)...)
	err := dec.Feed(annexB(testSPS, long, testIDR))
	var malformed *MalformedInputError
	require.ErrorAs(t, err, &malformed)
	require.Equal(t, AwaitingParameters, dec.State())
	require.Nil(t, dec.store.sps)
}

func TestSPSWithoutFollowingUnit(t *testing.T) {
	t.Parallel()
	dec := newTestDecoder(t, &fakeHW{}, &recordingSink{}, Config{})

	var malformed *MalformedInputError
	require.ErrorAs(t, dec.Feed(annexB(testSPS)), &malformed)
	require.Equal(t, AwaitingParameters, dec.State())

	// a start code at the very end carries no header
	buf := append(annexB(testSPS), 0, 0, 0, 1)
	require.ErrorAs(t, dec.Feed(buf), &malformed)
}

func TestShortOrUnframedInput(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	var malformed *MalformedInputError
	require.ErrorAs(t, dec.Feed(nil), &malformed)
	require.ErrorAs(t, dec.Feed([]byte{0, 0, 0, 1}), &malformed)
	require.ErrorAs(t, dec.Feed([]byte{0, 0, 1, 0x67, 0x42, 0xc0}), &malformed)
	require.ErrorAs(t, dec.Feed(append([]byte{1, 2, 3, 4}, testSPS...)), &malformed)
	require.Equal(t, uint64(4), dec.Stats().Failures)
}

func TestMalformedWhileReadyKeepsSession(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	require.Equal(t, Ready, dec.State())

	long := append(bytes.Clone(testSPS), bytes.Repeat([]byte{0x11}, 40)...)
	require.Error(t, dec.Feed(annexB(long, testPPS, testIDR)))
	require.Equal(t, Ready, dec.State())

	require.NoError(t, dec.Feed(annexB(testSlice)))
	_, creates, invalidations, live, _, submits := hw.snapshot()
	require.Equal(t, 1, creates)
	require.Equal(t, 0, invalidations)
	require.Equal(t, 1, live)
	require.Equal(t, 2, submits)
}

func TestRepeatedParameterSetsRebuild(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeAsync}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))

	builds, creates, invalidations, live, maxLive, submits := hw.snapshot()
	require.Equal(t, 2, builds)
	require.Equal(t, 2, creates)
	require.Equal(t, 1, invalidations)
	require.Equal(t, 1, live)
	require.Equal(t, 1, maxLive)
	require.Equal(t, 2, submits)

	// the second frame is always delivered, the first one may race with its invalidation
	require.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, time.Millisecond)
}

func TestRepeatedParameterSetsDeliverBothFrames(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeInline}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))

	builds, creates, invalidations, live, maxLive, submits := hw.snapshot()
	require.Equal(t, 2, builds)
	require.Equal(t, 2, creates)
	require.Equal(t, 1, invalidations)
	require.Equal(t, 1, live)
	require.Equal(t, 1, maxLive)
	require.Equal(t, 2, submits)

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
	require.Never(t, func() bool { return sink.count() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	require.Zero(t, dec.Stats().StaleCallbacks)
}

func TestReuseIdenticalKeepsSession(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeInline}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{ReuseIdentical: true})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))

	builds, creates, invalidations, _, _, submits := hw.snapshot()
	require.Equal(t, 1, builds)
	require.Equal(t, 1, creates)
	require.Equal(t, 0, invalidations)
	require.Equal(t, 2, submits)
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)

	changed := bytes.Clone(testPPS)
	changed[1] ^= 0x01
	require.NoError(t, dec.Feed(annexB(testSPS, changed, testIDR)))
	builds, creates, invalidations, _, _, _ = hw.snapshot()
	require.Equal(t, 2, builds)
	require.Equal(t, 2, creates)
	require.Equal(t, 1, invalidations)
}

func TestSeparateParameterSets(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testSlice)))
	require.Equal(t, AwaitingPPS, dec.State())
	builds, _, _, _, _, submits := hw.snapshot()
	require.Equal(t, 0, builds)
	require.Equal(t, 0, submits)

	require.NoError(t, dec.Feed(annexB(testPPS, testIDR)))
	require.Equal(t, Ready, dec.State())
	builds, creates, _, _, _, submits := hw.snapshot()
	require.Equal(t, 1, builds)
	require.Equal(t, 1, creates)
	require.Equal(t, 1, submits)
	require.Equal(t, testSPS, hw.builds[0][0])
	require.Equal(t, testPPS, hw.builds[0][1])

	unit := hw.submitted(0)
	require.Equal(t, uint32(len(testIDR)), binary.BigEndian.Uint32(unit))
}

func TestNewSPSDiscardsPendingPPS(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	require.NoError(t, dec.Feed(annexB(testSPS, testSlice)))

	// the old session survives until a PPS completes the new SPS
	require.Equal(t, AwaitingPPS, dec.State())
	require.Nil(t, dec.Descriptor())
	require.NoError(t, dec.Feed(annexB(testSlice)))
	_, _, _, _, _, submits := hw.snapshot()
	require.Equal(t, 1, submits)

	require.NoError(t, dec.Feed(annexB(testPPS, testIDR)))
	require.Equal(t, Ready, dec.State())
	_, creates, invalidations, live, maxLive, _ := hw.snapshot()
	require.Equal(t, 2, creates)
	require.Equal(t, 1, invalidations)
	require.Equal(t, 1, live)
	require.Equal(t, 1, maxLive)
}

func TestPPSWithoutSPSIgnored(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	require.NoError(t, dec.Feed(annexB(testPPS, testIDR)))
	require.Equal(t, AwaitingParameters, dec.State())
	builds, _, _, _, _, _ := hw.snapshot()
	require.Equal(t, 0, builds)
}

func TestPPSWhileReadyRebuildsWithStoredSPS(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))

	changed := bytes.Clone(testPPS)
	changed[2] ^= 0x01
	require.NoError(t, dec.Feed(annexB(changed, testIDR)))

	require.Equal(t, Ready, dec.State())
	builds, creates, invalidations, _, _, submits := hw.snapshot()
	require.Equal(t, 2, builds)
	require.Equal(t, 2, creates)
	require.Equal(t, 1, invalidations)
	require.Equal(t, 2, submits)
	require.Equal(t, testSPS, hw.builds[1][0])
	require.Equal(t, changed, hw.builds[1][1])
}

func TestIgnoredUnitTypes(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	sei := annexB([]byte{0x06, 0x05, 0x10, 0x80})
	orig := bytes.Clone(sei)
	require.NoError(t, dec.Feed(sei))
	require.Equal(t, orig, sei)
	require.Equal(t, AwaitingParameters, dec.State())
}

func TestDescriptorFailure(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{buildErr: errFake}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	err := dec.Feed(annexB(testSPS, testPPS, testIDR))
	var descErr *DescriptorError
	require.ErrorAs(t, err, &descErr)
	require.ErrorIs(t, err, errFake)
	require.ErrorAs(t, nextError(t, dec), &descErr)

	require.Equal(t, AwaitingParameters, dec.State())
	require.Nil(t, dec.store.sps)
	_, creates, _, _, _, submits := hw.snapshot()
	require.Equal(t, 0, creates)
	require.Equal(t, 0, submits)

	require.NoError(t, dec.Feed(annexB(testSlice)))
	_, _, _, _, _, submits = hw.snapshot()
	require.Equal(t, 0, submits)

	hw.set(func(hw *fakeHW) { hw.buildErr = nil })
	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	require.Equal(t, Ready, dec.State())
}

func TestDescriptorFailureReleasesOldSession(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	hw.set(func(hw *fakeHW) { hw.buildErr = errFake })
	require.Error(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))

	require.Equal(t, AwaitingParameters, dec.State())
	_, _, invalidations, live, _, _ := hw.snapshot()
	require.Equal(t, 1, invalidations)
	require.Equal(t, 0, live)
}

func TestSessionFailure(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{createErr: errFake}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	err := dec.Feed(annexB(testSPS, testPPS, testIDR))
	var sessErr *SessionError
	require.ErrorAs(t, err, &sessErr)
	require.ErrorIs(t, err, errFake)

	require.Equal(t, AwaitingParameters, dec.State())
	require.Nil(t, dec.Descriptor())
	require.Equal(t, handle.Invalid, dec.token.Load())
	_, _, _, _, _, submits := hw.snapshot()
	require.Equal(t, 0, submits)
}

func TestSubmitFailureKeepsSession(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	hw.set(func(hw *fakeHW) { hw.submitErr = errFake })

	err := dec.Feed(annexB(testSlice))
	require.ErrorIs(t, err, errFake)
	var submitErr *SubmitError
	require.ErrorAs(t, err, &submitErr)
	require.Equal(t, "NonIDR", submitErr.Type)
	require.Same(t, submitErr, nextError(t, dec))

	require.Equal(t, Ready, dec.State())
	hw.set(func(hw *fakeHW) { hw.submitErr = nil })
	require.NoError(t, dec.Feed(annexB(testSlice)))
	_, creates, invalidations, _, _, submits := hw.snapshot()
	require.Equal(t, 1, creates)
	require.Equal(t, 0, invalidations)
	require.Equal(t, 2, submits)
}

func TestDecodeFailureReported(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeAsync, decodeErr: errFake}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))

	err := nextError(t, dec)
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	require.ErrorIs(t, err, errFake)
	require.Equal(t, Ready, dec.State())
	require.Equal(t, 0, sink.count())
}

func TestInlineCompletion(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeInline}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	require.NoError(t, dec.Feed(annexB(testSlice)))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, time.Millisecond)
}

func TestLateCompletionOfReplacedSession(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	old := hw.session(0)
	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))

	frame := image.NewGray(image.Rect(0, 0, 2, 2))
	old.cb(old.token, nil, frame)
	require.Equal(t, uint64(1), dec.Stats().StaleCallbacks)
	require.Never(t, func() bool { return sink.count() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	cur := hw.session(1)
	cur.cb(cur.token, nil, frame)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
}

func TestStaleCallbacksOfForgottenSessions(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	sink := &recordingSink{}
	dec := NewH264(hw, sink, Config{})

	for range retiredTokens + 2 {
		require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	}
	frame := image.NewGray(image.Rect(0, 0, 2, 2))

	// the oldest session fell out of the retired window and can not be attributed
	first := hw.session(0)
	first.cb(first.token, nil, frame)
	require.Zero(t, dec.Stats().StaleCallbacks)

	recent := hw.session(retiredTokens)
	recent.cb(recent.token, nil, frame)
	require.Equal(t, uint64(1), dec.Stats().StaleCallbacks)

	dec.Close()
	live := hw.session(retiredTokens + 1)
	live.cb(live.token, nil, frame)
	recent.cb(recent.token, nil, frame)
	require.Equal(t, uint64(1), dec.Stats().StaleCallbacks)
	require.Zero(t, sink.count())
}

func TestDispatchOverflow(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeInline}
	sink := &recordingSink{gate: make(chan struct{})}
	dec := newTestDecoder(t, hw, sink, Config{DispatchQueue: 1})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	for range 4 {
		require.NoError(t, dec.Feed(annexB(testSlice)))
	}

	var dispatchErr *DispatchError
	require.Eventually(t, func() bool {
		select {
		case err := <-dec.Errors():
			return errors.As(err, &dispatchErr)
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, dispatchErr.QueueSize)
}

func TestCopyInputLeavesBufferIntact(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	dec := newTestDecoder(t, hw, &recordingSink{}, Config{CopyInput: true})

	buf := annexB(testSPS, testPPS, testIDR)
	orig := bytes.Clone(buf)
	require.NoError(t, dec.Feed(buf))
	require.Equal(t, orig, buf)
	require.Equal(t, Ready, dec.State())

	unit := hw.submitted(0)
	require.Equal(t, uint32(len(testIDR)), binary.BigEndian.Uint32(unit))
}

func TestFeedAfterClose(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{}
	sink := &recordingSink{}
	dec := NewH264(hw, sink, Config{})

	require.NoError(t, dec.Feed(annexB(testSPS, testPPS, testIDR)))
	sess := hw.session(0)
	dec.Close()

	require.ErrorAs(t, dec.Feed(annexB(testSlice)), &ClosedError{})
	require.Equal(t, AwaitingParameters, dec.State())
	_, _, invalidations, live, _, _ := hw.snapshot()
	require.Equal(t, 1, invalidations)
	require.Equal(t, 0, live)

	sess.cb(sess.token, nil, image.NewGray(image.Rect(0, 0, 2, 2)))
	require.Equal(t, 0, sink.count())

	dec.Close()
}

func TestConcurrentFeedAndCompletions(t *testing.T) {
	t.Parallel()
	hw := &fakeHW{mode: completeAsync}
	sink := &recordingSink{}
	dec := newTestDecoder(t, hw, sink, Config{DispatchQueue: 256})

	wg := sync.WaitGroup{}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				if i%5 == 0 {
					_ = dec.Feed(annexB(testSPS, testPPS, testIDR))
				} else {
					_ = dec.Feed(annexB(testSlice))
				}
				_ = dec.Stats()
			}
		}()
	}
	wg.Wait()
	hw.wg.Wait()

	_, creates, invalidations, live, maxLive, _ := hw.snapshot()
	require.Equal(t, 1, maxLive)
	require.Equal(t, 1, live)
	require.Equal(t, creates-1, invalidations)
	require.Equal(t, Ready, dec.State())
}
