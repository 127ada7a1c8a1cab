package decoder

// State is the position of a decoder in its parameter/session state machine.
type State uint32

const (
	// AwaitingParameters is the initial state: no usable SPS is known, slices are dropped.
	AwaitingParameters State = iota
	// AwaitingPPS means a SPS was stored and the decoder waits for the PPS that completes it.
	AwaitingPPS
	// Ready means a session exists and slices are submitted.
	Ready
)

func (s State) String() string {
	switch s {
	case AwaitingParameters:
		return "AwaitingParameters"
	case AwaitingPPS:
		return "AwaitingPPS"
	case Ready:
		return "Ready"
	}
	return "Unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
