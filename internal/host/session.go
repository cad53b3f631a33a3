package host

import (
	"fmt"
	"math"
	"net"
	"time"

	"coopad.dev/coopad/internal/metrics"
	"coopad.dev/coopad/internal/protocol"
	"coopad.dev/coopad/internal/sink"
	"coopad.dev/coopad/internal/telemetry"
)

// latencyWindow is the number of samples used for the jitter estimate.
const latencyWindow = 50

// playerColors is the presentation palette, indexed by slot-1.
var playerColors = []string{"#e74c3c", "#3498db", "#2ecc71", "#f1c40f"}

// Session is the live binding between one remote client identifier and one
// virtual-controller instance. All fields are owned by the receive loop;
// snapshots for the operator surface go through Host.ListSessions.
type Session struct {
	ClientID uint32
	// Addr is recorded for diagnostics only. Routing is by client ID, since
	// NAT or VPN rebinds can change the source address mid-session.
	Addr  *net.UDPAddr
	Slot  int
	Label string
	Color string

	// Degraded marks a session whose sink could not be created: input is
	// logged, not applied, so the operator still sees the client.
	Degraded bool

	sink        sink.Sink
	hasSeq      bool
	lastSeq     uint16
	lastButtons uint16

	firstSeen    time.Time
	lastAccepted time.Time
	packets      uint64

	latency   [latencyWindow]float64
	latencyN  int
	latencyIx int

	rateStart time.Time
	rateCount int
	lastRate  float64

	lastTelemetry time.Time
}

func newSession(clientID uint32, addr *net.UDPAddr, slot int, s sink.Sink, now time.Time) *Session {
	color := ""
	if slot >= 1 && slot <= len(playerColors) {
		color = playerColors[slot-1]
	}
	return &Session{
		ClientID:  clientID,
		Addr:      addr,
		Slot:      slot,
		Label:     fmt.Sprintf("Player %d", slot),
		Color:     color,
		Degraded:  s == nil,
		sink:      s,
		firstSeen: now,
		rateStart: now,
	}
}

// LastSeen is the time of the last accepted packet, falling back to the
// join time for a session that has not been observed yet.
func (s *Session) LastSeen() time.Time {
	if s.lastAccepted.IsZero() {
		return s.firstSeen
	}
	return s.lastAccepted
}

// acceptSequence runs the modular duplicate check and advances the baseline.
// Returns false for a duplicate. Any nonzero delta, including reordered or
// wrapped ones, is accepted: the newest arriving state wins.
func (s *Session) acceptSequence(seq uint16) bool {
	if s.hasSeq && protocol.SeqDelta(s.lastSeq, seq) == 0 {
		return false
	}
	s.hasSeq = true
	s.lastSeq = seq
	return true
}

// apply pushes one accepted frame into the sink: press/release transitions
// for changed button bits only, then absolute axes and triggers, then a
// commit. A nil sink (degraded session) is a no-op at this level.
func (s *Session) apply(st protocol.State) error {
	if s.sink == nil {
		return nil
	}

	changed := s.lastButtons ^ st.Buttons
	for bit := uint(0); bit < 16; bit++ {
		mask := uint16(1) << bit
		if changed&mask == 0 {
			continue
		}
		var err error
		if st.Buttons&mask != 0 {
			err = s.sink.PressButton(mask)
		} else {
			err = s.sink.ReleaseButton(mask)
		}
		if err != nil {
			metrics.SinkErrorsTotal.WithLabelValues("button").Inc()
			return fmt.Errorf("button %#04x: %w", mask, err)
		}
	}
	s.lastButtons = st.Buttons

	// Sticks and triggers carry absolute values; set them every frame.
	if err := s.sink.SetSticks(st.LX, st.LY, st.RX, st.RY); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("sticks").Inc()
		return fmt.Errorf("sticks: %w", err)
	}
	if err := s.sink.SetTriggers(st.LeftTrigger, st.RightTrigger); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("triggers").Inc()
		return fmt.Errorf("triggers: %w", err)
	}
	if err := s.sink.Commit(); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("commit").Inc()
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// release resets the sink to neutral and frees the device. Called on
// liveness eviction and host shutdown.
func (s *Session) release() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Reset(); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("reset").Inc()
	}
	if err := s.sink.Close(); err != nil {
		metrics.SinkErrorsTotal.WithLabelValues("close").Inc()
	}
	s.sink = nil
}

// observe updates the latency/jitter/rate bookkeeping for an accepted
// packet and reports stats at most once per second.
func (s *Session) observe(st protocol.State, now time.Time, tel telemetry.Sink) {
	s.lastAccepted = now
	s.packets++

	// Latency is receive time minus sender origin timestamp. Only a
	// diagnostic: meaningful when both clocks are reasonably synced.
	latencyMs := float64(now.UnixNano()-int64(st.Timestamp)) / 1e6
	metrics.SessionLatencyMs.Observe(latencyMs)
	s.latency[s.latencyIx] = latencyMs
	s.latencyIx = (s.latencyIx + 1) % latencyWindow
	if s.latencyN < latencyWindow {
		s.latencyN++
	}

	s.rateCount++
	if elapsed := now.Sub(s.rateStart); elapsed >= time.Second {
		s.lastRate = float64(s.rateCount) / elapsed.Seconds()
		s.rateStart = now
		s.rateCount = 0
	}

	if now.Sub(s.lastTelemetry) >= time.Second {
		s.lastTelemetry = now
		tel.SessionStats(telemetry.SessionStats{
			ClientID:  s.ClientID,
			Slot:      s.Slot,
			LatencyMs: latencyMs,
			JitterMs:  s.jitter(),
			RateHz:    s.lastRate,
			Sequence:  st.Sequence,
		})
	}
}

// jitter is the standard deviation over the rolling latency window.
func (s *Session) jitter() float64 {
	if s.latencyN < 2 {
		return 0
	}
	var sum float64
	for i := 0; i < s.latencyN; i++ {
		sum += s.latency[i]
	}
	mean := sum / float64(s.latencyN)
	var sq float64
	for i := 0; i < s.latencyN; i++ {
		d := s.latency[i] - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(s.latencyN-1))
}

// SessionInfo is an operator-facing snapshot of one session.
type SessionInfo struct {
	ClientID  uint32    `json:"client_id"`
	Addr      string    `json:"addr"`
	Slot      int       `json:"slot"`
	Label     string    `json:"label"`
	Color     string    `json:"color"`
	Degraded  bool      `json:"degraded"`
	Packets   uint64    `json:"packets"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	JitterMs  float64   `json:"jitter_ms"`
	RateHz    float64   `json:"rate_hz"`
}

func (s *Session) info() SessionInfo {
	addr := ""
	if s.Addr != nil {
		addr = s.Addr.String()
	}
	return SessionInfo{
		ClientID:  s.ClientID,
		Addr:      addr,
		Slot:      s.Slot,
		Label:     s.Label,
		Color:     s.Color,
		Degraded:  s.Degraded,
		Packets:   s.packets,
		FirstSeen: s.firstSeen,
		LastSeen:  s.lastAccepted,
		JitterMs:  s.jitter(),
		RateHz:    s.lastRate,
	}
}
