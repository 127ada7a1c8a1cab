package decoder

const (
	// DefaultSPSWindow covers SPS payloads of up to 36 bytes: the boundary is searched at offsets 4..39.
	DefaultSPSWindow = 36
	// DefaultPPSWindow covers PPS payloads of up to 30 bytes after the PPS start code.
	DefaultPPSWindow = 30
	// DefaultDispatchQueue is the number of decoded frames waiting for the sink.
	DefaultDispatchQueue = 16
	// DefaultDiagnosticsQueue is the number of undelivered reports kept on Errors.
	DefaultDiagnosticsQueue = 64
)

// Config tunes the H.264 decoder core. Zero values select the defaults.
type Config struct {
	// SPSWindow is how many offsets after the SPS start code are searched for the next start code.
	// Parameter sets longer than the window are reported as malformed input.
	SPSWindow int
	// PPSWindow is the same bound for the PPS.
	PPSWindow int
	// DispatchQueue is the capacity of the frame queue in front of the sink.
	DispatchQueue int
	// DiagnosticsQueue is the capacity of the Errors channel.
	DiagnosticsQueue int
	// CopyInput makes Feed reframe a private copy instead of the caller's buffer.
	CopyInput bool
	// ReuseIdentical keeps the live session when a SPS/PPS pair byte-identical to the
	// current one arrives. Off by default: every pair triggers a full teardown and rebuild.
	ReuseIdentical bool
}

func (c Config) withDefaults() Config {
	if c.SPSWindow <= 0 {
		c.SPSWindow = DefaultSPSWindow
	}
	if c.PPSWindow <= 0 {
		c.PPSWindow = DefaultPPSWindow
	}
	if c.DispatchQueue <= 0 {
		c.DispatchQueue = DefaultDispatchQueue
	}
	if c.DiagnosticsQueue <= 0 {
		c.DiagnosticsQueue = DefaultDiagnosticsQueue
	}
	return c
}
