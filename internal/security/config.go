package security

import "time"

// Config tunes the admission controller. Zero values are not usable
// directly; start from DefaultConfig and override.
type Config struct {
	// Per-client token bucket.
	ClientRate  float64 // packets per second
	ClientBurst int

	// Per-IP token bucket. Deliberately higher than the client rate so that
	// several legitimate clients behind one NAT can share an address.
	IPRate  float64
	IPBurst int

	// MaxClientsPerIP caps distinct client IDs admitted from one address.
	MaxClientsPerIP int

	// Auto-blocking.
	AutoBlockThreshold int
	BlockDuration      time.Duration

	// Replay window around the receiver's clock.
	MaxTimestampAge    time.Duration
	MaxTimestampFuture time.Duration

	// Whitelist override. When enabled, packets from addresses outside the
	// list are rejected before any other check.
	EnableWhitelist bool
	WhitelistIPs    []string

	// Housekeeping.
	ClientTTL     time.Duration // inactivity window before record eviction
	SweepInterval time.Duration
	EventLogSize  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ClientRate:         120,
		ClientBurst:        20,
		IPRate:             200,
		IPBurst:            20,
		MaxClientsPerIP:    3,
		AutoBlockThreshold: 5,
		BlockDuration:      300 * time.Second,
		MaxTimestampAge:    5 * time.Second,
		MaxTimestampFuture: 1 * time.Second,
		ClientTTL:          300 * time.Second,
		SweepInterval:      60 * time.Second,
		EventLogSize:       1000,
	}
}
