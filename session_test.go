package modbus

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

// newTestSession builds a session wired to one end of a net.Pipe, with
// dial stubbed to hand back the client side of the pipe on first call.
// The server side is returned for the test to drive directly. Every
// subsequent (re)connect attempt gets a fresh, unserved pipe so the
// session's reconnect loop never blocks test cleanup.
func newTestSession(t *testing.T) (*session, net.Conn) {
	t.Helper()

	clientConn, serverConn := net.Pipe()

	s := newSession("test", 8, ReconnectConfig{}, PolicyQueue, time.Second, newLogger("test-session"))
	first := true
	s.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		if first {
			first = false
			return clientConn, nil
		}
		c, _ := net.Pipe()
		return c, nil
	}

	go s.run()
	t.Cleanup(s.close)

	return s, serverConn
}

// serveOneFrame reads one request frame from conn and replies with a
// canned response, echoing the transaction id.
func serveOneFrame(t *testing.T, conn net.Conn, respond func(req *pdu) *pdu) {
	t.Helper()

	p, txnID, err := decodeMBAPFrame(conn)
	if err != nil {
		t.Errorf("decodeMBAPFrame: %v", err)
		return
	}

	res := respond(p)
	frame, err := encodeMBAPFrame(txnID, res)
	if err != nil {
		t.Errorf("encodeMBAPFrame: %v", err)
		return
	}

	if _, err := conn.Write(frame); err != nil {
		t.Errorf("write: %v", err)
	}
}

func TestSessionRequestResponse(t *testing.T) {
	s, serverConn := newTestSession(t)
	defer serverConn.Close()

	go serveOneFrame(t, serverConn, func(req *pdu) *pdu {
		return &pdu{
			unitID:       req.unitID,
			functionCode: req.functionCode,
			payload:      append([]byte{4}, registersToBytes([]uint16{1, 2})...),
		}
	})

	call, err := s.submit(1, &Request{Code: ReadHoldingRegisters, Range: AddressRange{Start: 0, Count: 2}}, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-call.done
	if call.err != nil {
		t.Fatalf("call.err = %v", call.err)
	}
	if len(call.resp.Registers) != 2 || call.resp.Registers[0] != 1 || call.resp.Registers[1] != 2 {
		t.Errorf("got %v", call.resp.Registers)
	}
}

func TestSessionPipelinesDistinctTransactionIDs(t *testing.T) {
	s, serverConn := newTestSession(t)
	defer serverConn.Close()

	const n = 5
	seen := make(chan uint16, n)

	go func() {
		for i := 0; i < n; i++ {
			p, txnID, err := decodeMBAPFrame(serverConn)
			if err != nil {
				return
			}
			seen <- txnID
			res := &pdu{unitID: p.unitID, functionCode: p.functionCode, payload: []byte{0x00, 0x00, 0x00, 0x01}}
			frame, _ := encodeMBAPFrame(txnID, res)
			serverConn.Write(frame)
		}
	}()

	calls := make([]*pendingCall, n)
	for i := 0; i < n; i++ {
		call, err := s.submit(1, &Request{Code: WriteSingleRegister, RegisterAddr: uint16(i), RegisterValue: 1}, time.Now().Add(2*time.Second))
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		calls[i] = call
	}

	ids := make(map[uint16]bool)
	for i := 0; i < n; i++ {
		id := <-seen
		if ids[id] {
			t.Errorf("transaction id 0x%04x reused while still pending", id)
		}
		ids[id] = true
	}

	for _, call := range calls {
		<-call.done
		if call.err != nil {
			t.Errorf("call.err = %v", call.err)
		}
	}
}

func TestSessionTimeout(t *testing.T) {
	s, serverConn := newTestSession(t)
	defer serverConn.Close()

	// drain the request so the write doesn't block, but never respond.
	go func() {
		decodeMBAPFrame(serverConn)
	}()

	call, err := s.submit(1, &Request{Code: ReadHoldingRegisters, Range: AddressRange{Start: 0, Count: 1}}, time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-call.done
	if call.err != ErrTimeout {
		t.Errorf("call.err = %v, want ErrTimeout", call.err)
	}
}

func TestSessionUnitIDMismatchIsBadResponse(t *testing.T) {
	s, serverConn := newTestSession(t)
	defer serverConn.Close()

	go serveOneFrame(t, serverConn, func(req *pdu) *pdu {
		return &pdu{unitID: req.unitID + 1, functionCode: req.functionCode, payload: []byte{0x00, 0x01, 0x00, 0x01}}
	})

	call, err := s.submit(1, &Request{Code: WriteSingleRegister, RegisterAddr: 1, RegisterValue: 1}, time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-call.done
	if !errors.Is(call.err, ErrBadResponse) {
		t.Fatalf("call.err = %v, want ErrBadResponse", call.err)
	}
}
