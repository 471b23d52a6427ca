package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"soundfield/internal/perform"
	"soundfield/internal/session"
)

// ============================================================================
// Admin IPC - Unix Domain Socket Interface
// ============================================================================
// Protocol: line-delimited JSON
//   - Client sends: {"type": "solo", "data": {"client": "<id>"}}
//   - Server responds: {"status": "ok"} or {"status": "error", "error": "msg"}
//
// Commands: solo, unsolo, status. status answers with the registry snapshot
// in "data".
// ============================================================================

// IPC command types.
const (
	IPCSolo   = "solo"
	IPCUnsolo = "unsolo"
	IPCStatus = "status"
)

const ipcReplyTimeout = 2 * time.Second

// IPCRequest is one admin command.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCClientData addresses a client.
type IPCClientData struct {
	Client string `json:"client"`
}

// IPCResponse represents the response sent back to IPC clients.
type IPCResponse struct {
	Status string            `json:"status"`          // "ok" or "error"
	Error  string            `json:"error,omitempty"` // error message if status == "error"
	Data   *session.Snapshot `json:"data,omitempty"`
}

// RunIPCServer serves admin commands on socketPath until ctx is canceled.
func RunIPCServer(ctx context.Context, socketPath string, events chan<- perform.Event, logger *slog.Logger) error {
	// Remove existing socket file if it exists
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Close the listener on shutdown. This unblocks Accept().
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go handleIPCConnection(ctx, conn, events, logger)
	}
}

// handleIPCConnection processes a single IPC client connection.
func handleIPCConnection(ctx context.Context, conn net.Conn, events chan<- perform.Event, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		resp := dispatchIPC(ctx, []byte(line), events)
		if encErr := encoder.Encode(resp); encErr != nil {
			logger.Error("IPC failed to send response", "error", encErr)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

func dispatchIPC(ctx context.Context, line []byte, events chan<- perform.Event) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return ipcError(fmt.Errorf("parse request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, ipcReplyTimeout)
	defer cancel()

	switch req.Type {
	case IPCStatus:
		snap, err := RequestStatus(ctx, events)
		if err != nil {
			return ipcError(err)
		}
		return IPCResponse{Status: "ok", Data: &snap}

	case IPCSolo, IPCUnsolo:
		var d IPCClientData
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &d); err != nil {
				return ipcError(fmt.Errorf("parse %s data: %w", req.Type, err))
			}
		}
		if d.Client == "" {
			return ipcError(fmt.Errorf("%s: client is required", req.Type))
		}

		reply := make(chan error, 1)
		var ev perform.Event = perform.SoloRequested{Client: session.ClientID(d.Client), Reply: reply}
		if req.Type == IPCUnsolo {
			ev = perform.UnsoloRequested{Client: session.ClientID(d.Client), Reply: reply}
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ipcError(fmt.Errorf("event queue full: %w", ctx.Err()))
		}
		select {
		case err := <-reply:
			if err != nil {
				return ipcError(err)
			}
			return IPCResponse{Status: "ok"}
		case <-ctx.Done():
			return ipcError(ctx.Err())
		}

	default:
		return ipcError(fmt.Errorf("unknown command %q", req.Type))
	}
}

func ipcError(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// ============================================================================
// IPC client
// ============================================================================

// SendIPC sends one admin command and returns the decoded response. A
// response with status "error" is returned as an error.
func SendIPC(socketPath string, req IPCRequest) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := json.Marshal(req)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send request: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}

// NewClientRequest builds a solo or unsolo request.
func NewClientRequest(typ, client string) IPCRequest {
	data, _ := json.Marshal(IPCClientData{Client: client})
	return IPCRequest{Type: typ, Data: data}
}
