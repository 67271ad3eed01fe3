package modbus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// sessionState is the client session state machine of spec §4.8:
// Disconnected -> Connecting -> Connected -> Disconnected, with a
// terminal Stopped reachable from any state on shutdown.
type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateConnected
	stateStopped
)

// DisconnectedPolicy selects what happens to a call submitted while the
// session is Disconnected (spec §4.3).
type DisconnectedPolicy int

const (
	// PolicyQueue holds the call until the session reconnects or its
	// deadline elapses.
	PolicyQueue DisconnectedPolicy = iota
	// PolicyReject completes the call immediately with ErrNotConnected.
	PolicyReject
)

// ReconnectConfig configures the client session's exponential backoff
// (spec §4.3, §9).
type ReconnectConfig struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (rc ReconnectConfig) withDefaults() ReconnectConfig {
	if rc.MinBackoff <= 0 {
		rc.MinBackoff = time.Second
	}
	if rc.MaxBackoff <= 0 {
		rc.MaxBackoff = 10 * time.Second
	}
	if rc.MaxBackoff < rc.MinBackoff {
		rc.MaxBackoff = rc.MinBackoff
	}
	return rc
}

// pendingCall is the pending request record of spec §3: one per
// in-flight call, owned exclusively by the session task.
type pendingCall struct {
	txnID     uint16
	unitID    uint8
	code      FunctionCode
	wantCount uint16 // for reads, the requested item count
	deadline  time.Time
	timer     *time.Timer

	resp *Response
	err  error
	done chan struct{} // closed exactly once, when resp/err are set
}

func (c *pendingCall) complete(resp *Response, err error) {
	c.resp, c.err = resp, err
	close(c.done)
}

// submission is a work item enqueued by a façade (spec §4.3, §4.4).
type submission struct {
	unitID   uint8
	req      *Request
	deadline time.Time
	call     *pendingCall // filled in by the session task once accepted
	accepted chan error   // signals enqueue-time acceptance/rejection
}

// frameResult is what the reader goroutine feeds back to the session
// loop: either a decoded frame or a fatal read error.
type frameResult struct {
	p      *pdu
	txnID  uint16
	err    error
}

// session owns one TCP socket across its lifetime, serializing writes to
// the wire and correlating responses by transaction id (spec §4.3). It
// is the sole actor touching its connection, pending map, and
// transaction counter; callers never reach into session state directly.
type session struct {
	addr       string
	timeout    time.Duration
	reconnect  ReconnectConfig
	policy     DisconnectedPolicy
	logger     LeveledLogger

	workCh  chan *submission
	closeCh chan struct{}
	closed  chan struct{}

	mu    sync.Mutex
	state sessionState

	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func newSession(addr string, queueCap int, conf ReconnectConfig, policy DisconnectedPolicy, timeout time.Duration, logger LeveledLogger) *session {
	return &session{
		addr:      addr,
		timeout:   timeout,
		reconnect: conf.withDefaults(),
		policy:    policy,
		logger:    logger,
		workCh:    make(chan *submission, queueCap),
		closeCh:   make(chan struct{}),
		closed:    make(chan struct{}),
		state:     stateDisconnected,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Status reports the current connection state.
func (s *session) Status() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// run is the session's main loop. It is started once in its own
// goroutine by the Client and drives reconnection internally until
// Close is called.
func (s *session) run() {
	defer close(s.closed)

	backoff := s.reconnect.MinBackoff

	for {
		select {
		case <-s.closeCh:
			s.setState(stateStopped)
			s.drainOnShutdown()
			return
		default:
		}

		s.setState(stateConnecting)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, err := s.dial(ctx, s.addr)
		cancel()

		if err != nil {
			s.logger.Warningf("connect to %s failed: %v", s.addr, err)
			if !s.waitBackoff(&backoff) {
				s.setState(stateStopped)
				s.drainOnShutdown()
				return
			}
			continue
		}

		backoff = s.reconnect.MinBackoff
		s.setState(stateConnected)
		s.logger.Infof("connected to %s", s.addr)

		stopped := s.runEpoch(conn)
		conn.Close()
		s.setState(stateDisconnected)

		if stopped {
			s.drainOnShutdown()
			return
		}
	}
}

// waitBackoff sleeps for the current backoff, doubling it for next time,
// and returns false if shutdown was requested meanwhile.
func (s *session) waitBackoff(backoff *time.Duration) bool {
	timer := time.NewTimer(*backoff)
	defer timer.Stop()

	select {
	case <-s.closeCh:
		return false
	case <-timer.C:
	}

	*backoff *= 2
	if *backoff > s.reconnect.MaxBackoff {
		*backoff = s.reconnect.MaxBackoff
	}
	return true
}

// runEpoch drives one connected socket's lifetime: a dedicated reader
// goroutine feeds decoded frames back to this loop over frameCh, while
// this loop owns writes, the pending map, and the transaction counter.
// It returns true if the session was asked to shut down while running.
func (s *session) runEpoch(conn net.Conn) (stopped bool) {
	pending := make(map[uint16]*pendingCall)
	var nextTxnID uint16
	timeoutCh := make(chan uint16, 16)

	eg, egCtx := errgroup.WithContext(context.Background())
	frameCh := make(chan frameResult, 16)

	eg.Go(func() error {
		for {
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))
			p, txnID, err := decodeMBAPFrame(conn)
			select {
			case frameCh <- frameResult{p: p, txnID: txnID, err: err}:
			case <-egCtx.Done():
				return egCtx.Err()
			}
			if err != nil {
				return err
			}
		}
	})

	failAll := func(err error) {
		for id, call := range pending {
			call.timer.Stop()
			delete(pending, id)
			call.complete(nil, err)
		}
	}

	defer func() {
		// unblock the reader goroutine (it is likely parked in a
		// blocking read) before waiting for it to exit.
		conn.Close()
		eg.Wait()
		if stopped {
			failAll(ErrShutdown)
		} else {
			failAll(fmt.Errorf("%w: %v", ErrIO, "session reset"))
		}
	}()

	for {
		select {
		case <-s.closeCh:
			return true

		case sub := <-s.workCh:
			txnID := nextFreeTxnID(pending, &nextTxnID)
			call := &pendingCall{
				txnID:     txnID,
				unitID:    sub.unitID,
				code:      sub.req.Code,
				wantCount: wantCountFor(sub.req),
				deadline:  sub.deadline,
				done:      make(chan struct{}),
			}

			p, err := encodeRequest(sub.unitID, sub.req)
			if err != nil {
				sub.accepted <- err
				continue
			}

			frame, err := encodeMBAPFrame(txnID, p)
			if err != nil {
				sub.accepted <- err
				continue
			}

			// record the pending call before writing: if the write
			// itself fails, the deferred failAll() above must still
			// see and fail it.
			pending[txnID] = call
			call.timer = time.AfterFunc(time.Until(call.deadline), func() {
				select {
				case timeoutCh <- txnID:
				case <-egCtx.Done():
				}
			})

			sub.call = call
			sub.accepted <- nil
			close(sub.accepted)

			conn.SetWriteDeadline(time.Now().Add(s.timeout))
			if _, err := conn.Write(frame); err != nil {
				s.logger.Warningf("write error on %s: %v", s.addr, err)
				return false // I/O error: epoch ends, deferred failAll() completes pending calls
			}

		case fr := <-frameCh:
			if fr.err != nil {
				s.logger.Warningf("read error on %s: %v", s.addr, fr.err)
				return false
			}

			call, ok := pending[fr.txnID]
			if !ok {
				// spec §9: a response with no matching pending entry
				// (unknown, or already timed out) is logged and dropped.
				s.logger.Warningf("dropping response for unknown transaction id 0x%04x", fr.txnID)
				continue
			}

			// spec §9: unit id mismatch is BadResponse, not delivered,
			// except a gateway (0xff) replying to an exception.
			if fr.p.unitID != call.unitID {
				gateway := fr.p.isException() && fr.p.unitID == 0xff
				if !gateway {
					delete(pending, fr.txnID)
					call.timer.Stop()
					call.complete(nil, fmt.Errorf("%w: unit id %d, expected %d", ErrBadResponse, fr.p.unitID, call.unitID))
					continue
				}
			}

			delete(pending, fr.txnID)
			call.timer.Stop()
			resp, err := decodeResponse(call.code, call.wantCount, fr.p)
			call.complete(resp, err)

		case txnID := <-timeoutCh:
			call, ok := pending[txnID]
			if !ok {
				continue
			}
			delete(pending, txnID)
			call.complete(nil, ErrTimeout)
		}
	}
}

// nextFreeTxnID allocates the next sequential transaction id, wrapping
// on overflow and skipping any id currently pending (spec §4.3,
// invariant in §3: no id in the pending map is reused while pending).
func nextFreeTxnID(pending map[uint16]*pendingCall, next *uint16) uint16 {
	for {
		id := *next
		*next++
		if _, busy := pending[id]; !busy {
			return id
		}
	}
}

func wantCountFor(req *Request) uint16 {
	switch req.Code {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		return req.Range.Count
	default:
		return 0
	}
}

// drainOnShutdown fails any submissions still sitting in the work queue
// once the session has fully stopped, so no façade call blocks forever
// past Close().
func (s *session) drainOnShutdown() {
	for {
		select {
		case sub := <-s.workCh:
			sub.accepted <- ErrShutdown
			close(sub.accepted)
		default:
			return
		}
	}
}

// submit enqueues a request and waits for either acceptance into the
// session loop or immediate rejection (encoding error, not-connected
// under the reject policy, or shutdown). It does not wait for the wire
// round trip; callers await sub.call.done separately.
func (s *session) submit(unitID uint8, req *Request, deadline time.Time) (*pendingCall, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if s.policy == PolicyReject && s.Status() != stateConnected {
		return nil, ErrNotConnected
	}
	if s.Status() == stateStopped {
		return nil, ErrShutdown
	}

	sub := &submission{
		unitID:   unitID,
		req:      req,
		deadline: deadline,
		accepted: make(chan error, 1),
	}

	select {
	case s.workCh <- sub:
	case <-time.After(time.Until(deadline)):
		return nil, ErrTimeout
	case <-s.closed:
		return nil, ErrShutdown
	}

	select {
	case err := <-sub.accepted:
		if err != nil {
			return nil, err
		}
		return sub.call, nil
	case <-time.After(time.Until(deadline)):
		return nil, ErrTimeout
	case <-s.closed:
		return nil, ErrShutdown
	}
}

// close requests the session loop to stop and waits for it to do so.
func (s *session) close() {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.closeCh)
	<-s.closed
}
