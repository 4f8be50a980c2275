package ipc

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"

	"checkpilot/internal/checkin"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	if err := c.client.Call(serviceName+"."+method, req, resp); err != nil {
		return restoreSentinel(err)
	}
	return nil
}

// sentinels are the errors whose text survives the JSON-RPC round trip
// inside the server's message.
var sentinels = []error{
	checkin.ErrValidation,
	checkin.ErrDuplicate,
	checkin.ErrLaunch,
	checkin.ErrNotFound,
	checkin.ErrTerminal,
	checkin.ErrTransition,
}

// remoteError keeps the server's message and unwraps to the sentinel it names.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.sentinel }

// restoreSentinel rewraps a server error so callers can test it with errors.Is.
func restoreSentinel(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	msg := string(serverErr)
	for _, sentinel := range sentinels {
		if strings.Contains(msg, sentinel.Error()) {
			return &remoteError{msg: msg, sentinel: sentinel}
		}
	}
	return err
}

// Schedule asks the daemon to check a traveler in.
func (c *Client) Schedule(code, firstName, lastName string) (*ScheduleResponse, error) {
	var resp ScheduleResponse
	req := ScheduleRequest{ConfirmationNumber: code, FirstName: firstName, LastName: lastName}
	if err := c.call("Schedule", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels one record.
func (c *Client) Cancel(id string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", CancelRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get returns one record.
func (c *Client) Get(id string) (*GetResponse, error) {
	var resp GetResponse
	if err := c.call("Get", GetRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns records matching the request filters.
func (c *Client) List(req ListRequest) (*ListResponse, error) {
	var resp ListResponse
	if err := c.call("List", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logs returns the progress log of one record.
func (c *Client) Logs(id string) (*LogsResponse, error) {
	var resp LogsResponse
	if err := c.call("Logs", LogsRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reconcile reports progress for a handed-off record.
func (c *Client) Reconcile(req ReconcileRequest) (*ReconcileResponse, error) {
	var resp ReconcileResponse
	if err := c.call("Reconcile", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
