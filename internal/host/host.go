// Package host implements the session orchestrator: a single receive loop
// that owns the UDP socket, runs every frame through admission control, and
// applies admitted frames to per-session virtual controllers.
package host

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"coopad.dev/coopad/internal/config"
	"coopad.dev/coopad/internal/metrics"
	"coopad.dev/coopad/internal/protocol"
	"coopad.dev/coopad/internal/security"
	"coopad.dev/coopad/internal/sink"
	"coopad.dev/coopad/internal/telemetry"
)

const (
	sinkCreateAttempts = 3
	sinkCreateBackoff  = 100 * time.Millisecond

	// rejectLogInterval throttles warn-level logs for drops that an attacker
	// can trigger at line rate.
	rejectLogInterval = 5 * time.Second
)

// ErrStopTimeout is returned by Stop when the receive loop does not exit
// within the shutdown grace period.
var ErrStopTimeout = errors.New("host: receive loop did not stop in time")

// Host binds the UDP socket, the admission controller and the sink factory
// into one running unit. Start and Stop are idempotent.
type Host struct {
	cfg      config.HostConfig
	security *security.Manager
	sinks    sink.Factory
	tel      telemetry.Sink
	log      *logrus.Entry

	// mu guards sessions, slots and owner. The receive loop takes it per
	// packet; the operator surface takes it for snapshots.
	mu       sync.Mutex
	sessions map[uint32]*Session
	slots    []*Session // index 0 = slot 1
	owner    *Session   // single mode only

	conn    *net.UDPConn
	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	lastSweep    time.Time
	lastDropLog  map[string]time.Time
	droppedSince map[string]int

	// loop-owned; a failing deadline is logged once, not per iteration
	deadlineErrLogged bool
}

// New creates a host. The telemetry sink may be nil, in which case events
// are discarded.
func New(cfg config.HostConfig, sec *security.Manager, sinks sink.Factory, tel telemetry.Sink) *Host {
	if tel == nil {
		tel = telemetry.Nop{}
	}
	slots := cfg.MaxSlots
	if cfg.Mode == config.ModeSingle {
		slots = 1
	}
	return &Host{
		cfg:          cfg,
		security:     sec,
		sinks:        sinks,
		tel:          tel,
		log:          logrus.WithField("component", "host"),
		sessions:     make(map[uint32]*Session),
		slots:        make([]*Session, slots),
		lastDropLog:  make(map[string]time.Time),
		droppedSince: make(map[string]int),
	}
}

// Start binds the UDP socket and launches the receive loop. Calling Start on
// a running host is a no-op.
func (h *Host) Start() error {
	if !h.running.CompareAndSwap(false, true) {
		return nil
	}

	addr := &net.UDPAddr{IP: net.ParseIP(h.cfg.Bind), Port: h.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		h.running.Store(false)
		return fmt.Errorf("host: bind %s:%d: %w", h.cfg.Bind, h.cfg.Port, err)
	}

	h.conn = conn
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	h.lastSweep = time.Now()
	h.deadlineErrLogged = false

	h.log.WithFields(logrus.Fields{
		"addr": conn.LocalAddr().String(),
		"mode": h.cfg.Mode,
	}).Info("host started")
	h.tel.Status(fmt.Sprintf("listening on %s (%s mode)", conn.LocalAddr(), h.cfg.Mode))

	go h.run()
	return nil
}

// Stop shuts the receive loop down, resets every controller to neutral and
// releases the devices. Safe to call more than once.
func (h *Host) Stop() error {
	if !h.running.CompareAndSwap(true, false) {
		return nil
	}
	close(h.stop)
	h.conn.Close()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		return ErrStopTimeout
	}

	h.mu.Lock()
	for _, s := range h.sessions {
		s.release()
		h.tel.SessionLeft(s.ClientID, s.Label, s.Color, s.Slot)
	}
	h.sessions = make(map[uint32]*Session)
	h.slots = make([]*Session, len(h.slots))
	h.owner = nil
	h.mu.Unlock()

	metrics.ActiveSessions.Set(0)
	h.log.Info("host stopped")
	h.tel.Status("host stopped")
	return nil
}

// Addr returns the bound socket address, or nil when not running.
func (h *Host) Addr() net.Addr {
	if h.conn == nil {
		return nil
	}
	return h.conn.LocalAddr()
}

// run is the receive loop. It alone reads the socket; the short read
// deadline doubles as the liveness sweep tick.
func (h *Host) run() {
	defer close(h.done)

	buf := make([]byte, protocol.MaxPacketSize)
	for {
		select {
		case <-h.stop:
			return
		default:
		}

		if err := h.conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeoutDuration())); err != nil && !h.deadlineErrLogged {
			h.deadlineErrLogged = true
			h.log.WithError(err).Warn("set read deadline failed")
		}
		n, addr, err := h.conn.ReadFromUDP(buf)
		now := time.Now()

		if now.Sub(h.lastSweep) >= h.cfg.ReadTimeoutDuration() {
			h.lastSweep = now
			h.sweep(now)
		}

		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			h.log.WithError(err).Warn("socket read failed")
			continue
		}

		h.handlePacket(buf[:n], addr, now)
	}
}

// handlePacket runs one datagram through the pipeline: decode, admission,
// routing, duplicate suppression, apply.
func (h *Host) handlePacket(data []byte, addr *net.UDPAddr, now time.Time) {
	metrics.PacketsReceivedTotal.Inc()

	st, err := protocol.Unmarshal(data)
	if err != nil {
		// Anyone can spray garbage at an open UDP port; count every drop
		// but log at most one line per throttle window.
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropMalformed).Inc()
		h.dropThrottled(metrics.DropMalformed, addr, now, err.Error())
		return
	}

	ip := addr.IP.String()
	ok, reason := h.security.Check(st.ClientID, ip, st.Timestamp)
	if !ok {
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropRejected).Inc()
		metrics.AdmissionRejectionsTotal.WithLabelValues(reason).Inc()
		h.dropThrottled(metrics.DropRejected, addr, now, reason)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.route(st.ClientID, addr, now)
	if !ok {
		return
	}

	if !s.acceptSequence(st.Sequence) {
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropDuplicate).Inc()
		return
	}

	if s.Degraded {
		h.log.WithFields(logrus.Fields{
			"client_id": s.ClientID,
			"slot":      s.Slot,
			"seq":       st.Sequence,
			"buttons":   fmt.Sprintf("%#04x", st.Buttons),
		}).Debug("frame received (degraded, not applied)")
	} else if err := s.apply(st); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{
			"client_id": s.ClientID,
			"slot":      s.Slot,
		}).Warn("sink apply failed")
	} else {
		metrics.PacketsAppliedTotal.Inc()
	}

	s.observe(st, now, h.tel)
}

// route finds or creates the session for a client. Callers hold mu.
func (h *Host) route(clientID uint32, addr *net.UDPAddr, now time.Time) (*Session, bool) {
	if h.cfg.Mode == config.ModeSingle {
		return h.routeSingle(clientID, addr, now)
	}

	if s, ok := h.sessions[clientID]; ok {
		s.Addr = addr
		return s, true
	}

	slot := -1
	for i, occ := range h.slots {
		if occ == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropCapacity).Inc()
		h.dropThrottled(metrics.DropCapacity, addr, now, "all slots occupied")
		return nil, false
	}

	return h.join(clientID, addr, slot, now), true
}

// routeSingle admits exactly one owner at a time. Packets from any other
// client while an owner is live are dropped silently; ownership transfers
// only after the owner has been idle past the owner timeout.
func (h *Host) routeSingle(clientID uint32, addr *net.UDPAddr, now time.Time) (*Session, bool) {
	if h.owner != nil {
		if h.owner.ClientID == clientID {
			h.owner.Addr = addr
			return h.owner, true
		}
		if now.Sub(h.owner.LastSeen()) <= h.cfg.OwnerTimeoutDuration() {
			metrics.PacketsDroppedTotal.WithLabelValues(metrics.DropNotOwner).Inc()
			return nil, false
		}
		h.evict(h.owner, now, "owner timed out")
	}

	s := h.join(clientID, addr, 0, now)
	h.owner = s
	h.tel.Status(fmt.Sprintf("controller owner is now client %d (%s)", clientID, addr))
	return s, true
}

// join creates the session and its sink. Callers hold mu.
func (h *Host) join(clientID uint32, addr *net.UDPAddr, slot int, now time.Time) *Session {
	sk, err := h.createSink()
	if err != nil {
		h.log.WithError(err).WithField("client_id", clientID).
			Error("sink creation failed, session degraded to logging only")
	}

	s := newSession(clientID, addr, slot+1, sk, now)
	h.sessions[clientID] = s
	h.slots[slot] = s
	metrics.ActiveSessions.Set(float64(len(h.sessions)))

	h.log.WithFields(logrus.Fields{
		"client_id": clientID,
		"addr":      addr.String(),
		"slot":      s.Slot,
		"label":     s.Label,
		"degraded":  s.Degraded,
	}).Info("session joined")
	h.tel.SessionJoined(clientID, s.Label, s.Color, s.Slot)
	return s
}

// createSink tries the factory a bounded number of times. The backoff is
// interruptible so shutdown is never delayed by a flapping backend.
func (h *Host) createSink() (sink.Sink, error) {
	var lastErr error
	for attempt := 1; attempt <= sinkCreateAttempts; attempt++ {
		s, err := h.sinks.New()
		if err == nil {
			return s, nil
		}
		lastErr = err
		h.log.WithError(err).WithField("attempt", attempt).Warn("sink creation failed")
		if attempt < sinkCreateAttempts {
			select {
			case <-h.stop:
				return nil, lastErr
			case <-time.After(sinkCreateBackoff):
			}
		}
	}
	return nil, lastErr
}

// sweep evicts sessions idle past their liveness window. Callers must NOT
// hold mu.
func (h *Host) sweep(now time.Time) {
	timeout := h.cfg.LivenessTimeoutDuration()
	if h.cfg.Mode == config.ModeSingle {
		timeout = h.cfg.OwnerTimeoutDuration()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		if now.Sub(s.LastSeen()) > timeout {
			h.evict(s, now, "liveness timeout")
		}
	}
}

// evict removes one session, resetting its controller to neutral before
// freeing the slot. Callers hold mu.
func (h *Host) evict(s *Session, now time.Time, why string) {
	s.release()
	delete(h.sessions, s.ClientID)
	h.slots[s.Slot-1] = nil
	if h.owner == s {
		h.owner = nil
	}
	metrics.ActiveSessions.Set(float64(len(h.sessions)))

	h.log.WithFields(logrus.Fields{
		"client_id": s.ClientID,
		"slot":      s.Slot,
		"idle":      now.Sub(s.LastSeen()).Round(time.Millisecond).String(),
		"reason":    why,
	}).Info("session left")
	h.tel.SessionLeft(s.ClientID, s.Label, s.Color, s.Slot)
}

// Disconnect force-removes a session by client ID. Returns false when no
// such session exists.
func (h *Host) Disconnect(clientID uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[clientID]
	if !ok {
		return false
	}
	h.evict(s, time.Now(), "operator disconnect")
	return true
}

// ListSessions returns a snapshot of live sessions ordered by slot.
func (h *Host) ListSessions() []SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]SessionInfo, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Status summarizes the host for the operator surface.
type Status struct {
	Running  bool   `json:"running"`
	Addr     string `json:"addr"`
	Mode     string `json:"mode"`
	MaxSlots int    `json:"max_slots"`
	Sessions int    `json:"sessions"`
}

// CurrentStatus returns the operator status snapshot.
func (h *Host) CurrentStatus() Status {
	h.mu.Lock()
	n := len(h.sessions)
	h.mu.Unlock()
	st := Status{
		Running:  h.running.Load(),
		Mode:     h.cfg.Mode,
		MaxSlots: len(h.slots),
		Sessions: n,
	}
	if st.Running && h.conn != nil {
		st.Addr = h.conn.LocalAddr().String()
	}
	return st
}

// dropThrottled logs packet drops at most once per interval per reason so a
// flood cannot turn the log into its own denial of service.
func (h *Host) dropThrottled(reason string, addr *net.UDPAddr, now time.Time, detail string) {
	h.droppedSince[reason]++
	if now.Sub(h.lastDropLog[reason]) < rejectLogInterval {
		return
	}
	h.lastDropLog[reason] = now
	n := h.droppedSince[reason]
	h.droppedSince[reason] = 0
	h.log.WithFields(logrus.Fields{
		"reason": reason,
		"detail": detail,
		"addr":   addr.String(),
		"count":  n,
	}).Warn("packets dropped")
}
