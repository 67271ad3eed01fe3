package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
)

// encodeMBAPFrame turns a pdu into a complete MBAP frame (7 byte header +
// PDU bytes) ready to be written to the wire. It never produces malformed
// bytes: the caller is expected to have already range-checked the PDU
// (see the per-function-code encoders in codec.go).
func encodeMBAPFrame(txnID uint16, p *pdu) ([]byte, error) {
	if len(p.payload)+1 > maxPDULength {
		return nil, fmt.Errorf("%w: pdu too long (%d bytes)", ErrBadRequest, len(p.payload)+1)
	}

	frame := make([]byte, 0, mbapHeaderLen+1+len(p.payload))

	// transaction identifier
	frame = append(frame, byte(txnID>>8), byte(txnID))
	// protocol identifier (always 0x0000)
	frame = append(frame, 0x00, 0x00)
	// length: unit id + function code + payload
	length := uint16(2 + len(p.payload))
	frame = append(frame, byte(length>>8), byte(length))
	// unit identifier
	frame = append(frame, p.unitID)
	// function code
	frame = append(frame, p.functionCode)
	// payload
	frame = append(frame, p.payload...)

	return frame, nil
}

// decodeMBAPFrame reads exactly one MBAP frame (header + PDU) from r,
// blocking until the full frame is available, and returns the decoded
// pdu and its transaction id. r is typically a net.Conn with a read
// deadline already set by the caller.
//
// The decoder never buffers more than one frame at a time and never
// copies the underlying stream: io.ReadFull advances directly over the
// connection's internal buffering. Conceptually it walks the states
// NeedHeader -> NeedBody(length) -> FrameReady on every call.
func decodeMBAPFrame(r io.Reader) (p *pdu, txnID uint16, err error) {
	header := make([]byte, mbapHeaderLen)
	if _, err = io.ReadFull(r, header); err != nil {
		return
	}

	txnID = binary.BigEndian.Uint16(header[0:2])
	protocolID := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint16(header[4:6])
	unitID := header[6]

	// length counts the unit id (already read) plus everything after it.
	if length < 2 || length > 254 {
		err = fmt.Errorf("%w: illegal MBAP length (%d)", ErrBadResponse, length)
		return
	}

	body := make([]byte, length-1)
	if _, err = io.ReadFull(r, body); err != nil {
		return
	}

	if protocolID != 0x0000 {
		err = fmt.Errorf("%w: unexpected protocol id (0x%04x)", ErrBadResponse, protocolID)
		return
	}

	p = &pdu{
		unitID:       unitID,
		functionCode: body[0],
		payload:      body[1:],
	}

	return
}
