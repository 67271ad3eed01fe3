package modbus

import (
	"errors"
	"io"
	"net"
	"time"
)

// connection is the per-socket server task of spec §4.6: it decodes
// frames off a single client connection, dispatches each to the
// configured RequestHandler, and writes back a reply or exception.
type connection struct {
	conn    net.Conn
	addr    string
	handler RequestHandler
	timeout time.Duration
	logger  LeveledLogger

	// evicted is set by Server.evictOldest, under Server.mu, when this
	// session is closed to make room for a new one. It is never
	// touched from connection.serve itself.
	evicted bool
}

// serve runs until the connection is closed, a malformed frame is
// read, or an idle timeout elapses. It never panics on handler input:
// every dispatch path is range-checked before the handler is invoked.
func (c *connection) serve() {
	for {
		if c.timeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		}

		p, txnID, err := decodeMBAPFrame(c.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				c.logger.Warningf("closing link to %s: %v", c.addr, err)
			}
			return
		}

		req, decodeErr := decodeRequestPDU(p)

		var res *pdu
		if decodeErr != nil {
			res = c.exceptionFor(p.unitID, p.functionCode, decodeErr)
		} else {
			result, handlerErr := c.dispatch(p.unitID, req)
			res = encodeResponsePDU(p.unitID, req, result, handlerErr)
		}

		frame, err := encodeMBAPFrame(txnID, res)
		if err != nil {
			c.logger.Errorf("failed to encode response to %s: %v", c.addr, err)
			return
		}

		if c.timeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
		}
		if _, err := c.conn.Write(frame); err != nil {
			c.logger.Warningf("write error to %s: %v", c.addr, err)
			return
		}
	}
}

// exceptionFor builds the exception PDU for a request that failed to
// decode, before a typed Request (and therefore a handler dispatch)
// ever existed.
func (c *connection) exceptionFor(unitID uint8, functionCode uint8, err error) *pdu {
	return &pdu{
		unitID:       unitID,
		functionCode: functionCode | fcException,
		payload:      []byte{mapErrorToExceptionCode(err)},
	}
}

// dispatch invokes the RequestHandler method matching req.Code. The
// returned interface{} is nil for writes; encodeResponsePDU only type
// asserts it on the read paths.
func (c *connection) dispatch(unitID uint8, req *Request) (interface{}, error) {
	switch req.Code {
	case ReadCoils:
		return c.handler.ReadCoils(unitID, req.Range.Start, req.Range.Count)
	case ReadDiscreteInputs:
		return c.handler.ReadDiscreteInputs(unitID, req.Range.Start, req.Range.Count)
	case ReadHoldingRegisters:
		return c.handler.ReadHoldingRegisters(unitID, req.Range.Start, req.Range.Count)
	case ReadInputRegisters:
		return c.handler.ReadInputRegisters(unitID, req.Range.Start, req.Range.Count)
	case WriteSingleCoil:
		return nil, c.handler.WriteSingleCoil(unitID, req.CoilAddr, req.CoilValue)
	case WriteSingleRegister:
		return nil, c.handler.WriteSingleRegister(unitID, req.RegisterAddr, req.RegisterValue)
	case WriteMultipleCoils:
		return nil, c.handler.WriteMultipleCoils(unitID, req.Range.Start, req.CoilValues)
	case WriteMultipleRegisters:
		return nil, c.handler.WriteMultipleRegisters(unitID, req.Range.Start, req.RegisterValues)
	default:
		return nil, ErrIllegalFunction
	}
}
