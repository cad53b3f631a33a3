// Package command implements the local control plane: a JSON-RPC server on
// a Unix domain socket, the matching client, and the method handlers. This
// is the only write path into a running host besides the UDP socket itself.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"coopad.dev/coopad/internal/host"
	"coopad.dev/coopad/internal/security"
)

// HostControl is the slice of the host surface the control plane needs.
type HostControl interface {
	CurrentStatus() host.Status
	ListSessions() []host.SessionInfo
	Disconnect(clientID uint32) bool
}

// Handler dispatches control plane methods.
type Handler struct {
	hostCtl      HostControl
	security     *security.Manager
	shutdownFunc func() // invoked by the shutdown method
	startTime    time.Time
	log          *logrus.Entry
}

// NewHandler creates a handler bound to a host and its admission controller.
func NewHandler(hostCtl HostControl, sec *security.Manager) *Handler {
	return &Handler{
		hostCtl:   hostCtl,
		security:  sec,
		startTime: time.Now(),
		log:       logrus.WithField("component", "command"),
	}
}

// SetShutdownFunc registers the callback invoked by the shutdown method.
func (h *Handler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents one control plane request.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Handle processes a command and returns a response.
func (h *Handler) Handle(ctx context.Context, cmd Command) Response {
	h.log.WithFields(logrus.Fields{"method": cmd.Method, "id": cmd.ID}).Debug("handling command")

	switch cmd.Method {
	case "host_status":
		return h.handleHostStatus(cmd)
	case "list_sessions":
		return h.handleListSessions(cmd)
	case "disconnect":
		return h.handleDisconnect(cmd)
	case "security_stats":
		return h.handleSecurityStats(cmd)
	case "security_events":
		return h.handleSecurityEvents(cmd)
	case "block_ip":
		return h.handleBlockIP(cmd)
	case "unblock_ip":
		return h.handleUnblockIP(cmd)
	case "shutdown":
		return h.handleShutdown(cmd)
	default:
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeMethodNotFound,
				Message: fmt.Sprintf("method %q not found", cmd.Method),
			},
		}
	}
}

func (h *Handler) handleHostStatus(cmd Command) Response {
	st := h.hostCtl.CurrentStatus()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"host":       st,
			"uptime_sec": int64(time.Since(h.startTime).Seconds()),
		},
	}
}

func (h *Handler) handleListSessions(cmd Command) Response {
	sessions := h.hostCtl.ListSessions()
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"sessions": sessions,
			"count":    len(sessions),
		},
	}
}

// DisconnectParams carries the target of a forced disconnect.
type DisconnectParams struct {
	ClientID uint32 `json:"client_id"`
}

func (h *Handler) handleDisconnect(cmd Command) Response {
	var params DisconnectParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return invalidParams(cmd, err)
	}
	if !h.hostCtl.Disconnect(params.ClientID) {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInvalidParams,
				Message: fmt.Sprintf("no session for client %d", params.ClientID),
			},
		}
	}
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"client_id": params.ClientID, "status": "disconnected"},
	}
}

func (h *Handler) handleSecurityStats(cmd Command) Response {
	return Response{ID: cmd.ID, Result: h.security.Stats()}
}

// SecurityEventsParams bounds the number of events returned.
type SecurityEventsParams struct {
	Limit int `json:"limit,omitempty"`
}

func (h *Handler) handleSecurityEvents(cmd Command) Response {
	var params SecurityEventsParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &params); err != nil {
			return invalidParams(cmd, err)
		}
	}
	if params.Limit <= 0 {
		params.Limit = 50
	}
	events := h.security.RecentEvents(params.Limit)
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"events": events,
			"count":  len(events),
		},
	}
}

// BlockIPParams configures a manual IP block. A zero duration uses the
// admission controller's configured default.
type BlockIPParams struct {
	IP          string `json:"ip"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

func (h *Handler) handleBlockIP(cmd Command) Response {
	var params BlockIPParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return invalidParams(cmd, err)
	}
	if params.IP == "" {
		return invalidParams(cmd, fmt.Errorf("ip is required"))
	}
	h.security.BlockIP(params.IP, time.Duration(params.DurationSec)*time.Second)
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"ip": params.IP, "status": "blocked"},
	}
}

// UnblockIPParams names the IP to unblock.
type UnblockIPParams struct {
	IP string `json:"ip"`
}

func (h *Handler) handleUnblockIP(cmd Command) Response {
	var params UnblockIPParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return invalidParams(cmd, err)
	}
	if params.IP == "" {
		return invalidParams(cmd, fmt.Errorf("ip is required"))
	}
	h.security.UnblockIP(params.IP)
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"ip": params.IP, "status": "unblocked"},
	}
}

func (h *Handler) handleShutdown(cmd Command) Response {
	if h.shutdownFunc == nil {
		return Response{
			ID: cmd.ID,
			Error: &ErrorInfo{
				Code:    ErrCodeInternalError,
				Message: "shutdown handler not registered",
			},
		}
	}
	h.log.Info("shutdown command received")
	go h.shutdownFunc() // non-blocking so the response is sent first
	return Response{
		ID:     cmd.ID,
		Result: map[string]interface{}{"status": "shutting_down"},
	}
}

func invalidParams(cmd Command, err error) Response {
	return Response{
		ID: cmd.ID,
		Error: &ErrorInfo{
			Code:    ErrCodeInvalidParams,
			Message: fmt.Sprintf("invalid params: %v", err),
		},
	}
}
