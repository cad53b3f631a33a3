package command

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coopad.dev/coopad/internal/host"
	"coopad.dev/coopad/internal/security"
)

// fakeHost is a canned HostControl.
type fakeHost struct {
	status       host.Status
	sessions     []host.SessionInfo
	disconnected []uint32
}

func (f *fakeHost) CurrentStatus() host.Status       { return f.status }
func (f *fakeHost) ListSessions() []host.SessionInfo { return f.sessions }
func (f *fakeHost) Disconnect(clientID uint32) bool {
	f.disconnected = append(f.disconnected, clientID)
	return clientID != 0
}

func newTestHandler() (*Handler, *fakeHost, *security.Manager) {
	fh := &fakeHost{
		status: host.Status{Running: true, Mode: "multi", MaxSlots: 4, Sessions: 1},
		sessions: []host.SessionInfo{
			{ClientID: 42, Slot: 1, Label: "Player 1"},
		},
	}
	sec := security.NewManager(security.DefaultConfig())
	return NewHandler(fh, sec), fh, sec
}

func TestHandlerHostStatus(t *testing.T) {
	h, _, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{Method: "host_status", ID: "1"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, host.Status{Running: true, Mode: "multi", MaxSlots: 4, Sessions: 1}, result["host"])
}

func TestHandlerListSessions(t *testing.T) {
	h, _, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{Method: "list_sessions", ID: "2"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, 1, result["count"])
}

func TestHandlerDisconnect(t *testing.T) {
	h, fh, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{
		Method: "disconnect", ID: "3", Params: []byte(`{"client_id":42}`),
	})
	require.Nil(t, resp.Error)
	assert.Equal(t, []uint32{42}, fh.disconnected)

	// Client ID 0 makes the fake report no such session.
	resp = h.Handle(context.Background(), Command{
		Method: "disconnect", ID: "4", Params: []byte(`{"client_id":0}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandlerBlockUnblock(t *testing.T) {
	h, _, sec := newTestHandler()

	resp := h.Handle(context.Background(), Command{
		Method: "block_ip", ID: "5", Params: []byte(`{"ip":"192.0.2.7","duration_sec":60}`),
	})
	require.Nil(t, resp.Error)
	ok, reason := sec.Check(1, "192.0.2.7", uint64(time.Now().UnixNano()))
	assert.False(t, ok)
	assert.Equal(t, security.ReasonIPBlocked, reason)

	resp = h.Handle(context.Background(), Command{
		Method: "unblock_ip", ID: "6", Params: []byte(`{"ip":"192.0.2.7"}`),
	})
	require.Nil(t, resp.Error)
	ok, _ = sec.Check(1, "192.0.2.7", uint64(time.Now().UnixNano()))
	assert.True(t, ok)

	// Missing IP is an invalid-params error.
	resp = h.Handle(context.Background(), Command{
		Method: "block_ip", ID: "7", Params: []byte(`{}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestHandlerSecurityEvents(t *testing.T) {
	h, _, sec := newTestHandler()
	sec.BlockIP("192.0.2.9", time.Minute)

	resp := h.Handle(context.Background(), Command{Method: "security_events", ID: "8"})
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, 1, result["count"])
}

func TestHandlerUnknownMethod(t *testing.T) {
	h, _, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{Method: "reboot_universe", ID: "9"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestHandlerShutdown(t *testing.T) {
	h, _, _ := newTestHandler()

	resp := h.Handle(context.Background(), Command{Method: "shutdown", ID: "10"})
	require.NotNil(t, resp.Error) // no callback registered

	called := make(chan struct{})
	h.SetShutdownFunc(func() { close(called) })
	resp = h.Handle(context.Background(), Command{Method: "shutdown", ID: "11"})
	require.Nil(t, resp.Error)
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestUDSServerClientRoundTrip(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "coopad.sock")
	h, _, sec := newTestHandler()
	sec.BlockIP("192.0.2.1", time.Minute)

	srv := NewUDSServer(socket, h)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	client := NewUDSClient(socket, 2*time.Second)
	require.Eventually(t, func() bool {
		return client.Ping(context.Background()) == nil
	}, 2*time.Second, 20*time.Millisecond)

	resp, err := client.ListSessions(context.Background())
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, float64(1), result["count"]) // JSON numbers decode as float64

	resp, err = client.SecurityEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Nil(t, resp.Error)

	resp, err = client.Call(context.Background(), "no_such_method", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
