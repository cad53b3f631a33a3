// Package sink defines the virtual-controller backend consumed by the host.
// The OS-level driver lives behind this interface; the core only needs
// create, press/release, absolute axis writes, commit and teardown.
package sink

// Sink is one virtual controller instance. Calls are made synchronously
// from the host's receive loop; implementations must not block indefinitely.
type Sink interface {
	PressButton(bit uint16) error
	ReleaseButton(bit uint16) error
	// SetSticks writes absolute stick positions, full int16 range.
	SetSticks(lx, ly, rx, ry int16) error
	// SetTriggers writes absolute trigger magnitudes, 0..255.
	SetTriggers(lt, rt uint8) error
	// Commit flushes the pending frame to the OS.
	Commit() error
	// Reset returns the controller to neutral (all released, axes centered).
	Reset() error
	// Close releases the underlying device.
	Close() error
}

// Factory creates one Sink per session. Creation may fail when the backend
// is unavailable; the host retries a bounded number of times.
type Factory interface {
	New() (Sink, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func() (Sink, error)

func (f FactoryFunc) New() (Sink, error) { return f() }
