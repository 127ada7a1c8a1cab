package lifecycle

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type counting struct {
	released atomic.Int32
}

func (c *counting) Close_() { c.released.Add(1) }

func (*counting) String() string { return "COUNTING" }

func TestDefaultStart(t *testing.T) {
	t.Parallel()

	manager := NewDefaultManager(&counting{})
	require.NoError(t, manager.Start(func(*counting) error { return nil }))

	err := manager.Start(func(*counting) error { return nil })
	var already *StartedAlreadyError
	require.ErrorAs(t, err, &already)
}

func TestDefaultStartError(t *testing.T) {
	t.Parallel()

	manager := NewDefaultManager(&counting{})
	require.Error(t, manager.Start(func(*counting) error { return errors.New("no device") }))
}

func TestDefaultCloseReleasesOnce(t *testing.T) {
	t.Parallel()

	inst := &counting{}
	manager := NewDefaultManager(inst)
	require.NoError(t, manager.Start(func(*counting) error { return nil }))

	manager.Close()
	manager.Close()
	require.Equal(t, int32(1), inst.released.Load())
}

func TestDefaultCloseBeforeStart(t *testing.T) {
	t.Parallel()

	inst := &counting{}
	manager := NewDefaultManager(inst)
	manager.Close()
	require.Equal(t, int32(1), inst.released.Load())

	err := manager.Start(func(*counting) error { return nil })
	var afterClose *StartedAfterCloseError
	require.ErrorAs(t, err, &afterClose)
}

type observer struct {
	counting
	manager   Manager[*observer]
	sawClosed bool
}

func (o *observer) Close_() {
	select {
	case <-o.manager.Closed():
		o.sawClosed = true
	default:
	}
	o.counting.Close_()
}

func TestDefaultClosedBeforeRelease(t *testing.T) {
	t.Parallel()

	inst := &observer{}
	inst.manager = NewDefaultManager(inst)

	select {
	case <-inst.manager.Closed():
		t.Fatal("closed before Close")
	default:
	}

	inst.manager.Close()
	require.True(t, inst.sawClosed)
	require.Equal(t, int32(1), inst.released.Load())
}
