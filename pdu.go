package modbus

// pdu is the decoded Protocol Data Unit: a function code plus its raw
// data bytes, tagged with the unit id it travels with on the wire (the
// unit id itself lives in the MBAP header, not the PDU, but callers find
// it convenient to carry alongside the PDU once decoded).
type pdu struct {
	unitID       uint8
	functionCode uint8
	payload      []byte
}

// isException reports whether this pdu carries an exception response.
func (p *pdu) isException() bool {
	return p.functionCode&fcException != 0
}

// requestFunctionCode returns the function code with the exception bit
// cleared, i.e. the function code this response is replying to.
func (p *pdu) requestFunctionCode() uint8 {
	return p.functionCode &^ fcException
}
