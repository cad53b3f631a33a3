package command

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// UDSClient is the JSON-RPC client used by the CLI one-shot commands.
type UDSClient struct {
	socketPath string
	timeout    time.Duration
}

// NewUDSClient creates a client. A zero timeout defaults to 10 seconds.
func NewUDSClient(socketPath string, timeout time.Duration) *UDSClient {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &UDSClient{socketPath: socketPath, timeout: timeout}
}

// Call sends one request and waits for the matching response.
func (c *UDSClient) Call(ctx context.Context, method string, params interface{}) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	var paramsJSON json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		paramsJSON = data
	}

	reqID := fmt.Sprintf("req-%d", time.Now().UnixNano())
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  paramsJSON,
		ID:      reqID,
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("connection closed without response")
	}

	var jsonrpcResp JSONRPCResponse
	if err := json.Unmarshal(scanner.Bytes(), &jsonrpcResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if respID := fmt.Sprintf("%v", jsonrpcResp.ID); respID != reqID {
		return nil, fmt.Errorf("response ID mismatch: expected %v, got %v", reqID, respID)
	}

	return &Response{
		ID:     fmt.Sprintf("%v", jsonrpcResp.ID),
		Result: jsonrpcResp.Result,
		Error:  jsonrpcResp.Error,
	}, nil
}

// HostStatus fetches the host status snapshot.
func (c *UDSClient) HostStatus(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "host_status", nil)
}

// ListSessions fetches the live session table.
func (c *UDSClient) ListSessions(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "list_sessions", nil)
}

// Disconnect force-removes one session.
func (c *UDSClient) Disconnect(ctx context.Context, clientID uint32) (*Response, error) {
	return c.Call(ctx, "disconnect", DisconnectParams{ClientID: clientID})
}

// SecurityStats fetches admission controller counters.
func (c *UDSClient) SecurityStats(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "security_stats", nil)
}

// SecurityEvents fetches up to limit recent security events.
func (c *UDSClient) SecurityEvents(ctx context.Context, limit int) (*Response, error) {
	return c.Call(ctx, "security_events", SecurityEventsParams{Limit: limit})
}

// BlockIP installs a manual block, durationSec 0 meaning the default.
func (c *UDSClient) BlockIP(ctx context.Context, ip string, durationSec int) (*Response, error) {
	return c.Call(ctx, "block_ip", BlockIPParams{IP: ip, DurationSec: durationSec})
}

// UnblockIP removes a block.
func (c *UDSClient) UnblockIP(ctx context.Context, ip string) (*Response, error) {
	return c.Call(ctx, "unblock_ip", UnblockIPParams{IP: ip})
}

// Shutdown asks the daemon to exit gracefully.
func (c *UDSClient) Shutdown(ctx context.Context) (*Response, error) {
	return c.Call(ctx, "shutdown", nil)
}

// Ping checks that the daemon is reachable.
func (c *UDSClient) Ping(ctx context.Context) error {
	_, err := c.HostStatus(ctx)
	return err
}
