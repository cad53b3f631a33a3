package host

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coopad.dev/coopad/internal/config"
	"coopad.dev/coopad/internal/protocol"
	"coopad.dev/coopad/internal/security"
	"coopad.dev/coopad/internal/sink"
	"coopad.dev/coopad/internal/telemetry"
)

// fakeSink records every call so tests can assert on applied transitions.
type fakeSink struct {
	mu       sync.Mutex
	presses  []uint16
	releases []uint16
	commits  int
	resets   int
	closed   bool
}

func (f *fakeSink) PressButton(bit uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.presses = append(f.presses, bit)
	return nil
}

func (f *fakeSink) ReleaseButton(bit uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, bit)
	return nil
}

func (f *fakeSink) SetSticks(lx, ly, rx, ry int16) error { return nil }
func (f *fakeSink) SetTriggers(lt, rt uint8) error       { return nil }

func (f *fakeSink) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeSink) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSink) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

// fakeFactory hands out fakeSinks, optionally failing the first failN calls.
type fakeFactory struct {
	mu    sync.Mutex
	failN int
	calls int
	sinks []*fakeSink
}

func (f *fakeFactory) New() (sink.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return nil, errors.New("backend unavailable")
	}
	s := &fakeSink{}
	f.sinks = append(f.sinks, s)
	return s, nil
}

func hostConfig(t *testing.T, mode string, slots int, liveness, owner string) config.HostConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Host.Bind = "127.0.0.1"
	cfg.Host.Port = 0
	cfg.Host.Mode = mode
	cfg.Host.MaxSlots = slots
	cfg.Host.ReadTimeout = "50ms"
	cfg.Host.LivenessTimeout = liveness
	cfg.Host.OwnerTimeout = owner
	require.NoError(t, cfg.ValidateAndApplyDefaults())
	return cfg.Host
}

// relaxedManager admits everything: tests here exercise the orchestrator,
// not admission control.
func relaxedManager() *security.Manager {
	cfg := security.DefaultConfig()
	cfg.ClientRate = 100000
	cfg.ClientBurst = 100000
	cfg.IPRate = 100000
	cfg.IPBurst = 100000
	cfg.MaxClientsPerIP = 64
	return security.NewManager(cfg)
}

func frame(clientID uint32, seq uint16, buttons uint16) []byte {
	return protocol.New(clientID, seq, buttons, 0, 0, 0, 0, 0, 0).Marshal()
}

func testAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func TestDuplicateSequenceAppliedOnce(t *testing.T) {
	f := &fakeFactory{}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})

	now := time.Now()
	addr := testAddr(40001)
	h.handlePacket(frame(7, 1, 0), addr, now)
	h.handlePacket(frame(7, 2, 0x0001), addr, now)
	h.handlePacket(frame(7, 2, 0x0001), addr, now) // retransmit of the baseline

	require.Len(t, f.sinks, 1)
	assert.Equal(t, 2, f.sinks[0].commitCount())

	// Only delta == 0 is a duplicate. A reordered older sequence is applied
	// and becomes the new baseline: newest arriving state wins.
	h.handlePacket(frame(7, 1, 0), addr, now)
	assert.Equal(t, 3, f.sinks[0].commitCount())
	h.handlePacket(frame(7, 1, 0), addr, now) // now a duplicate of the new baseline
	assert.Equal(t, 3, f.sinks[0].commitCount())
}

func TestButtonTransitions(t *testing.T) {
	f := &fakeFactory{}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})

	now := time.Now()
	addr := testAddr(40002)
	h.handlePacket(frame(9, 1, protocol.ButtonA), addr, now)
	h.handlePacket(frame(9, 2, protocol.ButtonA|protocol.ButtonB), addr, now)
	h.handlePacket(frame(9, 3, protocol.ButtonB), addr, now)
	h.handlePacket(frame(9, 4, protocol.ButtonB), addr, now) // no change

	require.Len(t, f.sinks, 1)
	s := f.sinks[0]
	assert.Equal(t, []uint16{protocol.ButtonA, protocol.ButtonB}, s.presses)
	assert.Equal(t, []uint16{protocol.ButtonA}, s.releases)
	assert.Equal(t, 4, s.commits)
}

func TestMultiSlotCapacityAndReuse(t *testing.T) {
	f := &fakeFactory{}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})

	now := time.Now()
	for id := uint32(1); id <= 4; id++ {
		h.handlePacket(frame(id, 1, 0), testAddr(40000+int(id)), now)
	}
	require.Len(t, h.ListSessions(), 4)

	// Fifth client finds no free slot.
	h.handlePacket(frame(5, 1, 0), testAddr(40005), now)
	assert.Len(t, h.ListSessions(), 4)

	// Client 2 goes idle past the liveness window; its slot frees up.
	later := now.Add(11 * time.Second)
	for id := uint32(1); id <= 4; id++ {
		if id != 2 {
			h.handlePacket(frame(id, 2, 0), testAddr(40000+int(id)), later)
		}
	}
	h.sweep(later)
	require.Len(t, h.ListSessions(), 3)

	h.handlePacket(frame(5, 1, 0), testAddr(40005), later)
	sessions := h.ListSessions()
	require.Len(t, sessions, 4)
	assert.Equal(t, 2, sessions[1].Slot)
	assert.Equal(t, uint32(5), sessions[1].ClientID)
	assert.Equal(t, "Player 2", sessions[1].Label)

	// The evicted controller was reset to neutral and released.
	evicted := f.sinks[1]
	assert.Equal(t, 1, evicted.resets)
	assert.True(t, evicted.closed)
}

func TestSingleOwnerClaimAndTransfer(t *testing.T) {
	f := &fakeFactory{}
	h := New(hostConfig(t, config.ModeSingle, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})

	now := time.Now()
	h.handlePacket(frame(1, 1, 0), testAddr(40011), now)
	require.Len(t, h.ListSessions(), 1)

	// A second client cannot take the controller while the owner is live.
	h.handlePacket(frame(2, 1, 0), testAddr(40012), now.Add(10*time.Millisecond))
	sessions := h.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, uint32(1), sessions[0].ClientID)

	// After the owner idles past the timeout, the next client claims it.
	h.handlePacket(frame(2, 1, 0), testAddr(40012), now.Add(600*time.Millisecond))
	sessions = h.ListSessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, uint32(2), sessions[0].ClientID)

	require.Len(t, f.sinks, 2)
	assert.Equal(t, 1, f.sinks[0].resets)
	assert.True(t, f.sinks[0].closed)
}

func TestSinkRetryThenSuccess(t *testing.T) {
	f := &fakeFactory{failN: 2}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})

	h.handlePacket(frame(3, 1, 0), testAddr(40021), time.Now())

	sessions := h.ListSessions()
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Degraded)
	assert.Equal(t, 3, f.calls)
}

func TestDegradedSessionLogsOnly(t *testing.T) {
	f := &fakeFactory{failN: 1000}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})

	now := time.Now()
	addr := testAddr(40022)
	h.handlePacket(frame(4, 1, protocol.ButtonA), addr, now)
	h.handlePacket(frame(4, 2, 0), addr, now)

	sessions := h.ListSessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Degraded)
	assert.Equal(t, uint64(2), sessions[0].Packets)
	assert.Empty(t, f.sinks)
}

func TestMalformedAndRejectedCreateNoSession(t *testing.T) {
	f := &fakeFactory{}
	cfg := security.DefaultConfig()
	cfg.EnableWhitelist = true
	cfg.WhitelistIPs = []string{"10.0.0.1"}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), security.NewManager(cfg), f, telemetry.Nop{})

	now := time.Now()
	addr := testAddr(40031)
	h.handlePacket([]byte{0x01, 0x02}, addr, now)          // truncated
	h.handlePacket(append([]byte{99}, frame(6, 1, 0)[1:]...), addr, now) // bad version
	h.handlePacket(frame(6, 1, 0), addr, now)              // not whitelisted

	assert.Empty(t, h.ListSessions())
	assert.Empty(t, f.sinks)
}

func TestOperatorDisconnect(t *testing.T) {
	f := &fakeFactory{}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})

	h.handlePacket(frame(8, 1, 0), testAddr(40041), time.Now())
	require.Len(t, h.ListSessions(), 1)

	assert.True(t, h.Disconnect(8))
	assert.Empty(t, h.ListSessions())
	assert.True(t, f.sinks[0].closed)
	assert.False(t, h.Disconnect(8))
}

func TestLoopbackEndToEnd(t *testing.T) {
	f := &fakeFactory{}
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), f, telemetry.Nop{})
	require.NoError(t, h.Start())
	defer h.Stop()

	conn, err := net.Dial("udp", h.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	for seq := uint16(1); seq <= 10; seq++ {
		_, err := conn.Write(frame(42, seq, protocol.ButtonX))
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(time.Second)
	for {
		sessions := h.ListSessions()
		if len(sessions) == 1 && sessions[0].Packets >= 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sessions after 1s: %+v", sessions)
		}
		time.Sleep(10 * time.Millisecond)
	}

	require.NoError(t, h.Stop())
	require.Len(t, f.sinks, 1)
	assert.True(t, f.sinks[0].closed)
	assert.Equal(t, 1, f.sinks[0].resets)
	assert.Empty(t, h.ListSessions())
}

func TestStartStopIdempotentAndRestartable(t *testing.T) {
	h := New(hostConfig(t, config.ModeMulti, 4, "10s", "500ms"), relaxedManager(), &fakeFactory{}, telemetry.Nop{})

	require.NoError(t, h.Start())
	require.NoError(t, h.Start()) // no-op
	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop()) // no-op
	assert.False(t, h.CurrentStatus().Running)

	require.NoError(t, h.Start())
	assert.True(t, h.CurrentStatus().Running)
	require.NoError(t, h.Stop())
}
