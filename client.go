package modbus

import (
	"context"
	"fmt"
	"time"
)

// ClientConfig configures a Client (spec §6: "construct(session address,
// reconnect config, queue capacity, default timeout) -> handle").
type ClientConfig struct {
	// Address is the server's host:port (default Modbus/TCP port 502).
	Address string
	// QueueCapacity bounds the client's work queue (spec §5: "bounded
	// to apply backpressure"). Defaults to 32.
	QueueCapacity int
	// Reconnect configures the exponential backoff used while
	// reconnecting (spec §4.3).
	Reconnect ReconnectConfig
	// DisconnectedPolicy selects what happens to calls submitted while
	// disconnected (spec §4.3).
	DisconnectedPolicy DisconnectedPolicy
	// Timeout is the default per-call deadline when the caller's
	// context carries none.
	Timeout time.Duration
	// Logger provides a custom sink for log messages. If nil, messages
	// are written to stdout.
	Logger LeveledLogger
}

// Client multiplexes callers onto a single TCP session, pipelining
// requests by transaction id (spec §2, components 4/5).
type Client struct {
	sess           *session
	defaultTimeout time.Duration
}

// NewClient constructs and starts a Client. The underlying session
// begins connecting immediately in the background; calls submitted
// before the first connect either queue or fail, depending on
// conf.DisconnectedPolicy.
func NewClient(conf ClientConfig) (*Client, error) {
	if conf.Address == "" {
		return nil, fmt.Errorf("%w: missing address", ErrConfiguration)
	}

	if conf.QueueCapacity <= 0 {
		conf.QueueCapacity = 32
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 1 * time.Second
	}
	logger := conf.Logger
	if logger == nil {
		logger = newLogger(fmt.Sprintf("modbus-client(%s)", conf.Address))
	}

	c := &Client{
		sess:           newSession(conf.Address, conf.QueueCapacity, conf.Reconnect, conf.DisconnectedPolicy, conf.Timeout, logger),
		defaultTimeout: conf.Timeout,
	}
	go c.sess.run()

	return c, nil
}

// Close drains in-flight calls with ErrShutdown and closes the
// underlying socket (spec §6, "Exit/shutdown").
func (c *Client) Close() error {
	c.sess.close()
	return nil
}

// Status reports whether the client is Disconnected, Connecting,
// Connected, or Stopped.
func (c *Client) Status() string {
	switch c.sess.Status() {
	case stateConnecting:
		return "Connecting"
	case stateConnected:
		return "Connected"
	case stateStopped:
		return "Stopped"
	default:
		return "Disconnected"
	}
}

// Call is the handle returned by the async façade (spec §4.4).
type Call struct {
	pc *pendingCall
}

// Done returns a channel closed when the call completes.
func (call *Call) Done() <-chan struct{} {
	return call.pc.done
}

// Result blocks until the call completes and returns its outcome.
// Dropping a Call without reading its Result cancels caller-side
// notification only: the wire operation still proceeds to preserve
// protocol integrity (spec §5).
func (call *Call) Result() (*Response, error) {
	<-call.pc.done
	return call.pc.resp, call.pc.err
}

// Execute is the blocking façade: it enqueues req and waits for the
// session to deliver a result or for ctx to be done. All three façades
// (Execute, ExecuteAsync, ExecuteCallback) enqueue to the same session
// queue and share the same argument validation (spec §4.4).
func (c *Client) Execute(ctx context.Context, unitID uint8, req *Request) (*Response, error) {
	call, err := c.sess.submit(unitID, req, c.deadlineFrom(ctx))
	if err != nil {
		return nil, err
	}

	select {
	case <-call.done:
		return call.resp, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteAsync is the async façade: it enqueues req and returns
// immediately with a handle that completes when the session task
// delivers a result (spec §4.4).
func (c *Client) ExecuteAsync(unitID uint8, req *Request) (*Call, error) {
	call, err := c.sess.submit(unitID, req, time.Now().Add(c.defaultTimeout))
	if err != nil {
		return nil, err
	}
	return &Call{pc: call}, nil
}

// ExecuteCallback is the callback façade: cb is invoked exactly once
// with the typed result (spec §4.4). It runs from a dedicated
// per-call goroutine rather than the session task itself, so a slow
// callback can never stall the pipeline.
func (c *Client) ExecuteCallback(unitID uint8, req *Request, cb func(*Response, error)) error {
	call, err := c.sess.submit(unitID, req, time.Now().Add(c.defaultTimeout))
	if err != nil {
		return err
	}

	go func() {
		<-call.done
		cb(call.resp, call.err)
	}()

	return nil
}

func (c *Client) deadlineFrom(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(c.defaultTimeout)
}

// The eight per-function-code blocking convenience methods (spec §6:
// "handle offers one method per function code"). Each builds the typed
// Request and delegates to Execute, which validates it before any I/O.

// ReadCoils reads quantity coils starting at addr (function code 0x01).
func (c *Client) ReadCoils(ctx context.Context, unitID uint8, addr, quantity uint16) ([]bool, error) {
	resp, err := c.Execute(ctx, unitID, &Request{Code: ReadCoils, Range: AddressRange{Start: addr, Count: quantity}})
	if err != nil {
		return nil, err
	}
	return resp.Bools, nil
}

// ReadDiscreteInputs reads quantity discrete inputs starting at addr
// (function code 0x02).
func (c *Client) ReadDiscreteInputs(ctx context.Context, unitID uint8, addr, quantity uint16) ([]bool, error) {
	resp, err := c.Execute(ctx, unitID, &Request{Code: ReadDiscreteInputs, Range: AddressRange{Start: addr, Count: quantity}})
	if err != nil {
		return nil, err
	}
	return resp.Bools, nil
}

// ReadHoldingRegisters reads quantity holding registers starting at addr
// (function code 0x03).
func (c *Client) ReadHoldingRegisters(ctx context.Context, unitID uint8, addr, quantity uint16) ([]uint16, error) {
	resp, err := c.Execute(ctx, unitID, &Request{Code: ReadHoldingRegisters, Range: AddressRange{Start: addr, Count: quantity}})
	if err != nil {
		return nil, err
	}
	return resp.Registers, nil
}

// ReadInputRegisters reads quantity input registers starting at addr
// (function code 0x04).
func (c *Client) ReadInputRegisters(ctx context.Context, unitID uint8, addr, quantity uint16) ([]uint16, error) {
	resp, err := c.Execute(ctx, unitID, &Request{Code: ReadInputRegisters, Range: AddressRange{Start: addr, Count: quantity}})
	if err != nil {
		return nil, err
	}
	return resp.Registers, nil
}

// WriteSingleCoil writes a single coil (function code 0x05).
func (c *Client) WriteSingleCoil(ctx context.Context, unitID uint8, addr uint16, value bool) error {
	_, err := c.Execute(ctx, unitID, &Request{Code: WriteSingleCoil, CoilAddr: addr, CoilValue: value})
	return err
}

// WriteSingleRegister writes a single register (function code 0x06).
func (c *Client) WriteSingleRegister(ctx context.Context, unitID uint8, addr, value uint16) error {
	_, err := c.Execute(ctx, unitID, &Request{Code: WriteSingleRegister, RegisterAddr: addr, RegisterValue: value})
	return err
}

// WriteMultipleCoils writes len(values) coils starting at addr
// (function code 0x0f).
func (c *Client) WriteMultipleCoils(ctx context.Context, unitID uint8, addr uint16, values []bool) error {
	_, err := c.Execute(ctx, unitID, &Request{
		Code:       WriteMultipleCoils,
		Range:      AddressRange{Start: addr, Count: uint16(len(values))},
		CoilValues: values,
	})
	return err
}

// WriteMultipleRegisters writes len(values) registers starting at addr
// (function code 0x10).
func (c *Client) WriteMultipleRegisters(ctx context.Context, unitID uint8, addr uint16, values []uint16) error {
	_, err := c.Execute(ctx, unitID, &Request{
		Code:           WriteMultipleRegisters,
		Range:          AddressRange{Start: addr, Count: uint16(len(values))},
		RegisterValues: values,
	})
	return err
}
