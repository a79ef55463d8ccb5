// Copyright 2024 NTVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"ntvfs/internal/common"
	"ntvfs/internal/notify"
	"ntvfs/internal/util"
)

// Request types
const (
	RequestStatus       = "status"
	RequestStop         = "stop"
	RequestNotify       = "notify"        // Watch a path; ack then final response on the same connection
	RequestNotifyCancel = "notify_cancel" // Cancel an outstanding watch by handle
	RequestReloadConfig = "reload_config" // Reload settings from disk
)

// Request represents an IPC request
type Request struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// Notify fields
	NotifyID         int    `json:"notify_id,omitempty"`
	Path             string `json:"path,omitempty"`
	Recursive        bool   `json:"recursive,omitempty"`
	CompletionFilter uint32 `json:"completion_filter,omitempty"`

	// NotifyCancel field
	Handle uint32 `json:"handle,omitempty"`
}

// Response represents an IPC response
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	PID     int    `json:"pid,omitempty"`

	// Notify response fields. The ack carries Handle with Pending set; the
	// final response carries Status and Result.
	Handle    uint32 `json:"handle,omitempty"`
	Pending   bool   `json:"pending,omitempty"`
	Status    uint32 `json:"status,omitempty"`
	ResultLen int    `json:"result_len,omitempty"`
	Result    []byte `json:"result,omitempty"` // change records, base64 in JSON

	// Status response fields
	Watches int `json:"watches,omitempty"`
}

// Handler serves one request. reply sends an intermediate response on the
// connection before the handler returns its final one. ctx is cancelled when
// the client hangs up.
type Handler func(ctx context.Context, req *Request, reply func(*Response) error) *Response

// Server is the IPC server
type Server struct {
	path     string
	listener net.Listener
	handler  Handler
}

// NewServer creates a new IPC server listening on SocketPath()
func NewServer(handler Handler) *Server {
	return &Server{path: SocketPath(), handler: handler}
}

// Start starts the IPC server
func (s *Server) Start() error {
	os.Remove(s.path)

	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener

	os.Chmod(s.path, 0600)

	go s.accept()
	return nil
}

// Stop stops the IPC server
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
		os.Remove(s.path)
	}
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Server stopped
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	var req Request
	if err := decoder.Decode(&req); err != nil {
		return
	}

	// One request per connection: any further read ends when the client
	// hangs up.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		var b [1]byte
		for {
			if _, err := conn.Read(b[:]); err != nil {
				cancel()
				return
			}
		}
	}()

	encoder := json.NewEncoder(conn)
	reply := func(resp *Response) error {
		return encoder.Encode(resp)
	}

	resp := s.handler(ctx, &req, reply)
	if resp == nil || ctx.Err() != nil {
		return
	}
	if err := encoder.Encode(resp); err != nil {
		log.Debugf("[IPC] %s %s: write response: %v", req.Type, req.RequestID, err)
	}
}

// dialRetryOptions retries a refused or missing socket briefly, which covers
// a daemon that is still starting.
func dialRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(50 * time.Millisecond),
		retry.MaxDelay(200 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(util.IsTransientDial),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

func dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return util.RetryWithResult(ctx, func() (net.Conn, error) {
		return d.DialContext(ctx, "unix", path)
	}, dialRetryOptions(ctx)...)
}

// Client is the IPC client
type Client struct {
	conn net.Conn
}

// Connect connects to the daemon
func Connect() (*Client, error) {
	return ConnectContext(context.Background())
}

// ConnectContext connects to the daemon, retrying while the socket is not
// yet accepting connections.
func ConnectContext(ctx context.Context) (*Client, error) {
	conn, err := dial(ctx, SocketPath())
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send sends a request and returns the response
func (c *Client) Send(req *Request) (*Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	encoder := json.NewEncoder(c.conn)
	if err := encoder.Encode(req); err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(c.conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("daemon closed connection")
		}
		return nil, err
	}
	return &resp, nil
}

// Status sends a status request
func (c *Client) Status() (*Response, error) {
	return c.Send(&Request{Type: RequestStatus})
}

// Stop sends a stop request
func (c *Client) Stop() (*Response, error) {
	return c.Send(&Request{Type: RequestStop})
}

// ReloadConfig requests the daemon to reload its configuration from disk
func (c *Client) ReloadConfig() error {
	resp, err := c.Send(&Request{Type: RequestReloadConfig})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("reload config failed: %s", resp.Error)
	}
	return nil
}

// IsDaemonRunning checks if the daemon is running
func IsDaemonRunning() bool {
	conn, err := net.Dial("unix", SocketPath())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Channel carries notify waits to the daemon. Every call uses its own
// connection so a blocked wait never holds up a cancel.
type Channel struct {
	path string
}

var _ notify.Channel = (*Channel)(nil)

// NewChannel returns a channel to the daemon socket at path. An empty path
// means SocketPath().
func NewChannel(path string) *Channel {
	if path == "" {
		path = SocketPath()
	}
	return &Channel{path: path}
}

// Notify sends a watch request, reports the handle from the ack through
// onRegistered and blocks for the final response. Cancelling ctx hangs up,
// which drops the watch on the daemon side.
func (c *Channel) Notify(ctx context.Context, req notify.Request, onRegistered func(handle uint32)) (*notify.Response, error) {
	conn, err := dial(ctx, c.path)
	if err != nil {
		return nil, fmt.Errorf("dial notification service: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	id := uuid.NewString()
	if err := json.NewEncoder(conn).Encode(&Request{
		Type:             RequestNotify,
		RequestID:        id,
		NotifyID:         req.ID,
		Path:             req.Path,
		Recursive:        req.Recursive,
		CompletionFilter: req.Filter,
	}); err != nil {
		return nil, ctxErr(ctx, err)
	}

	decoder := json.NewDecoder(conn)
	var ack Response
	if err := decoder.Decode(&ack); err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("read ack: %w", err))
	}
	if !ack.Success {
		return nil, fmt.Errorf("notify %s rejected: %s", id, ack.Error)
	}
	if !ack.Pending {
		return nil, fmt.Errorf("notify %s: expected pending ack: %w", id, common.ErrIPCFailure)
	}
	log.Debugf("[IPC] notify %s registered handle=%d", id, ack.Handle)
	if onRegistered != nil {
		onRegistered(ack.Handle)
	}

	var final Response
	if err := decoder.Decode(&final); err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("read result: %w", err))
	}
	if !final.Success {
		return nil, fmt.Errorf("notify %s failed: %s", id, final.Error)
	}
	if final.ResultLen != len(final.Result) {
		return nil, fmt.Errorf("notify %s: result_len %d, got %d bytes: %w", id, final.ResultLen, len(final.Result), common.ErrIPCFailure)
	}
	return &notify.Response{Handle: ack.Handle, Status: final.Status, Buffer: final.Result}, nil
}

// CancelNotify asks the daemon to complete the watch with handle as cancelled
func (c *Channel) CancelNotify(ctx context.Context, handle uint32) error {
	conn, err := dial(ctx, c.path)
	if err != nil {
		return fmt.Errorf("dial notification service: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client := &Client{conn: conn}
	resp, err := client.Send(&Request{Type: RequestNotifyCancel, Handle: handle})
	if err != nil {
		return ctxErr(ctx, err)
	}
	if !resp.Success {
		return fmt.Errorf("notify cancel %d: %s", handle, resp.Error)
	}
	return nil
}

// ctxErr prefers the context's error when a read failed because ctx closed
// the connection.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.Join(ctx.Err(), err)
	}
	return err
}
