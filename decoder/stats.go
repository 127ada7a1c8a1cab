package decoder

import "sync/atomic"

type counters struct {
	descriptorsBuilt    atomic.Uint64
	sessionsCreated     atomic.Uint64
	sessionsInvalidated atomic.Uint64
	submitted           atomic.Uint64
	dropped             atomic.Uint64
	framesDelivered     atomic.Uint64
	staleCallbacks      atomic.Uint64
	failures            atomic.Uint64
}

// Stats is a snapshot of decoder activity since creation.
type Stats struct {
	State               State  `json:"state"`
	DescriptorsBuilt    uint64 `json:"descriptors_built"`
	SessionsCreated     uint64 `json:"sessions_created"`
	SessionsInvalidated uint64 `json:"sessions_invalidated"`
	Submitted           uint64 `json:"submitted"`
	Dropped             uint64 `json:"dropped"` // slices seen before a session was ready, and orphan PPS
	FramesDelivered     uint64 `json:"frames_delivered"`
	StaleCallbacks      uint64 `json:"stale_callbacks"`
	Failures            uint64 `json:"failures"`
}

func (dec *H264) Stats() Stats {
	return Stats{
		State:               dec.State(),
		DescriptorsBuilt:    dec.stats.descriptorsBuilt.Load(),
		SessionsCreated:     dec.stats.sessionsCreated.Load(),
		SessionsInvalidated: dec.stats.sessionsInvalidated.Load(),
		Submitted:           dec.stats.submitted.Load(),
		Dropped:             dec.stats.dropped.Load(),
		FramesDelivered:     dec.stats.framesDelivered.Load(),
		StaleCallbacks:      dec.stats.staleCallbacks.Load(),
		Failures:            dec.stats.failures.Load(),
	}
}
