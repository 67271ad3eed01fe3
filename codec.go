package modbus

import (
	"encoding/binary"
	"fmt"
)

// encodeRequest turns a Request into its wire PDU. It runs
// Request.validate() itself and returns that error rather than emit
// malformed bytes (spec §4.2).
func encodeRequest(unitID uint8, req *Request) (*pdu, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	p := &pdu{unitID: unitID, functionCode: uint8(req.Code)}

	switch req.Code {
	case ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters, ReadInputRegisters:
		p.payload = append(asBytes(req.Range.Start), asBytes(req.Range.Count)...)

	case WriteSingleCoil:
		p.payload = append(asBytes(req.CoilAddr), coilValueBytes(req.CoilValue)...)

	case WriteSingleRegister:
		p.payload = append(asBytes(req.RegisterAddr), asBytes(req.RegisterValue)...)

	case WriteMultipleCoils:
		packed := encodeBools(req.CoilValues)
		p.payload = append(asBytes(req.Range.Start), asBytes(req.Range.Count)...)
		p.payload = append(p.payload, byte(len(packed)))
		p.payload = append(p.payload, packed...)

	case WriteMultipleRegisters:
		values := registersToBytes(req.RegisterValues)
		p.payload = append(asBytes(req.Range.Start), asBytes(req.Range.Count)...)
		p.payload = append(p.payload, byte(len(values)))
		p.payload = append(p.payload, values...)

	default:
		return nil, errBadRequestf("unsupported function code %v", req.Code)
	}

	return p, nil
}

// decodeResponse decodes the response PDU for a request of the given
// shape (function code and requested count, for reads). It validates
// wire-level invariants and returns ErrBadResponse on violation, per
// spec §4.2/§7.
func decodeResponse(code FunctionCode, wantCount uint16, p *pdu) (*Response, error) {
	if p.isException() {
		if p.requestFunctionCode() != uint8(code) {
			return nil, fmt.Errorf("%w: exception for function code 0x%02x, expected 0x%02x", ErrBadResponse, p.requestFunctionCode(), uint8(code))
		}
		if len(p.payload) != 1 {
			return nil, fmt.Errorf("%w: exception payload length %d, expected 1", ErrBadResponse, len(p.payload))
		}
		return nil, mapExceptionCodeToError(p.payload[0])
	}

	if p.functionCode != uint8(code) {
		return nil, fmt.Errorf("%w: unexpected function code 0x%02x, expected 0x%02x", ErrBadResponse, p.functionCode, uint8(code))
	}

	switch code {
	case ReadCoils, ReadDiscreteInputs:
		return decodeReadBoolsResponse(code, wantCount, p)

	case ReadHoldingRegisters, ReadInputRegisters:
		return decodeReadRegistersResponse(code, wantCount, p)

	case WriteSingleCoil:
		return decodeWriteSingleCoilResponse(p)

	case WriteSingleRegister:
		return decodeWriteSingleRegisterResponse(p)

	case WriteMultipleCoils, WriteMultipleRegisters:
		return decodeWriteMultipleResponse(code, p)

	default:
		return nil, fmt.Errorf("%w: unsupported function code %v", ErrBadResponse, code)
	}
}

func decodeReadBoolsResponse(code FunctionCode, wantCount uint16, p *pdu) (*Response, error) {
	if len(p.payload) < 1 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadResponse)
	}

	expectedBytes := int(wantCount) / 8
	if wantCount%8 != 0 {
		expectedBytes++
	}

	byteCount := int(p.payload[0])
	if byteCount != expectedBytes {
		return nil, fmt.Errorf("%w: byte count %d, expected %d", ErrBadResponse, byteCount, expectedBytes)
	}
	if len(p.payload)-1 != byteCount {
		return nil, fmt.Errorf("%w: payload carries %d bytes, byte count field says %d", ErrBadResponse, len(p.payload)-1, byteCount)
	}

	return &Response{Code: code, Bools: decodeBools(wantCount, p.payload[1:])}, nil
}

func decodeReadRegistersResponse(code FunctionCode, wantCount uint16, p *pdu) (*Response, error) {
	if len(p.payload) < 1 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadResponse)
	}

	expectedBytes := 2 * int(wantCount)
	byteCount := int(p.payload[0])
	if byteCount != expectedBytes {
		return nil, fmt.Errorf("%w: byte count %d, expected %d", ErrBadResponse, byteCount, expectedBytes)
	}
	if len(p.payload)-1 != byteCount {
		return nil, fmt.Errorf("%w: payload carries %d bytes, byte count field says %d", ErrBadResponse, len(p.payload)-1, byteCount)
	}

	return &Response{Code: code, Registers: bytesToRegisters(p.payload[1:])}, nil
}

func decodeWriteSingleCoilResponse(p *pdu) (*Response, error) {
	if len(p.payload) != 4 {
		return nil, fmt.Errorf("%w: payload length %d, expected 4", ErrBadResponse, len(p.payload))
	}

	value, err := decodeCoilValue(p.payload[2:4])
	if err != nil {
		return nil, err
	}

	return &Response{
		Code:      WriteSingleCoil,
		CoilAddr:  binary.BigEndian.Uint16(p.payload[0:2]),
		CoilValue: value,
	}, nil
}

func decodeWriteSingleRegisterResponse(p *pdu) (*Response, error) {
	if len(p.payload) != 4 {
		return nil, fmt.Errorf("%w: payload length %d, expected 4", ErrBadResponse, len(p.payload))
	}

	return &Response{
		Code:          WriteSingleRegister,
		RegisterAddr:  binary.BigEndian.Uint16(p.payload[0:2]),
		RegisterValue: binary.BigEndian.Uint16(p.payload[2:4]),
	}, nil
}

func decodeWriteMultipleResponse(code FunctionCode, p *pdu) (*Response, error) {
	if len(p.payload) != 4 {
		return nil, fmt.Errorf("%w: payload length %d, expected 4", ErrBadResponse, len(p.payload))
	}

	return &Response{
		Code: code,
		Range: AddressRange{
			Start: binary.BigEndian.Uint16(p.payload[0:2]),
			Count: binary.BigEndian.Uint16(p.payload[2:4]),
		},
	}, nil
}

// decodeRequestPDU is the server-side counterpart to encodeRequest: it
// decodes an incoming PDU into a typed Request, validating the Modbus
// range/byte-count invariants along the way (spec §4.2/§4.6). Unlike the
// client path, the function code is not known ahead of time.
func decodeRequestPDU(p *pdu) (*Request, error) {
	switch p.functionCode {
	case fcReadCoils, fcReadDiscreteInputs, fcReadHoldingRegisters, fcReadInputRegisters:
		return decodeReadRequest(FunctionCode(p.functionCode), p)

	case fcWriteSingleCoil:
		return decodeWriteSingleCoilRequest(p)

	case fcWriteSingleRegister:
		return decodeWriteSingleRegisterRequest(p)

	case fcWriteMultipleCoils:
		return decodeWriteMultipleCoilsRequest(p)

	case fcWriteMultipleRegisters:
		return decodeWriteMultipleRegistersRequest(p)

	default:
		return nil, ErrIllegalFunction
	}
}

func decodeReadRequest(code FunctionCode, p *pdu) (*Request, error) {
	if len(p.payload) != 4 {
		return nil, ErrIllegalDataValue
	}

	rng := AddressRange{
		Start: binary.BigEndian.Uint16(p.payload[0:2]),
		Count: binary.BigEndian.Uint16(p.payload[2:4]),
	}

	limit := maxReadBoolQuantity
	if code == ReadHoldingRegisters || code == ReadInputRegisters {
		limit = maxReadRegisterQuantity
	}
	if err := checkServerRange(rng, limit); err != nil {
		return nil, err
	}

	return &Request{Code: code, Range: rng}, nil
}

func decodeWriteSingleCoilRequest(p *pdu) (*Request, error) {
	if len(p.payload) != 4 {
		return nil, ErrIllegalDataValue
	}

	value, err := decodeCoilValue(p.payload[2:4])
	if err != nil {
		return nil, ErrIllegalDataValue
	}

	return &Request{
		Code:      WriteSingleCoil,
		CoilAddr:  binary.BigEndian.Uint16(p.payload[0:2]),
		CoilValue: value,
	}, nil
}

func decodeWriteSingleRegisterRequest(p *pdu) (*Request, error) {
	if len(p.payload) != 4 {
		return nil, ErrIllegalDataValue
	}

	return &Request{
		Code:          WriteSingleRegister,
		RegisterAddr:  binary.BigEndian.Uint16(p.payload[0:2]),
		RegisterValue: binary.BigEndian.Uint16(p.payload[2:4]),
	}, nil
}

func decodeWriteMultipleCoilsRequest(p *pdu) (*Request, error) {
	if len(p.payload) < 5 {
		return nil, ErrIllegalDataValue
	}

	rng := AddressRange{
		Start: binary.BigEndian.Uint16(p.payload[0:2]),
		Count: binary.BigEndian.Uint16(p.payload[2:4]),
	}
	if err := checkServerRange(rng, maxWriteBoolQuantity); err != nil {
		return nil, err
	}

	expectedBytes := int(rng.Count) / 8
	if rng.Count%8 != 0 {
		expectedBytes++
	}
	if int(p.payload[4]) != expectedBytes || len(p.payload)-5 != expectedBytes {
		return nil, ErrIllegalDataValue
	}

	return &Request{
		Code:       WriteMultipleCoils,
		Range:      rng,
		CoilValues: decodeBools(rng.Count, p.payload[5:]),
	}, nil
}

func decodeWriteMultipleRegistersRequest(p *pdu) (*Request, error) {
	if len(p.payload) < 5 {
		return nil, ErrIllegalDataValue
	}

	rng := AddressRange{
		Start: binary.BigEndian.Uint16(p.payload[0:2]),
		Count: binary.BigEndian.Uint16(p.payload[2:4]),
	}
	if err := checkServerRange(rng, maxWriteRegisterQuantity); err != nil {
		return nil, err
	}

	expectedBytes := 2 * int(rng.Count)
	if int(p.payload[4]) != expectedBytes || len(p.payload)-5 != expectedBytes {
		return nil, ErrIllegalDataValue
	}

	return &Request{
		Code:           WriteMultipleRegisters,
		Range:          rng,
		RegisterValues: bytesToRegisters(p.payload[5:]),
	}, nil
}

// checkServerRange validates a decoded range against the Modbus limits,
// returning the exception-mapped errors the server is expected to reply
// with (spec §4.6: illegal data value for bad counts, illegal data
// address for an out-of-space range).
func checkServerRange(rng AddressRange, max uint16) error {
	if rng.Count == 0 || rng.Count > max {
		return ErrIllegalDataValue
	}
	if rng.end() > 0x10000 {
		return ErrIllegalDataAddress
	}
	return nil
}

// encodeResponsePDU encodes a handler's result into the reply PDU for
// the given request, or an exception PDU if handlerErr is non-nil
// (spec §4.6).
func encodeResponsePDU(unitID uint8, req *Request, result interface{}, handlerErr error) *pdu {
	if handlerErr != nil {
		return &pdu{
			unitID:       unitID,
			functionCode: uint8(req.Code) | fcException,
			payload:      []byte{mapErrorToExceptionCode(handlerErr)},
		}
	}

	p := &pdu{unitID: unitID, functionCode: uint8(req.Code)}

	switch req.Code {
	case ReadCoils, ReadDiscreteInputs:
		bools := result.([]bool)
		packed := encodeBools(bools)
		p.payload = append([]byte{byte(len(packed))}, packed...)

	case ReadHoldingRegisters, ReadInputRegisters:
		regs := result.([]uint16)
		values := registersToBytes(regs)
		p.payload = append([]byte{byte(len(values))}, values...)

	case WriteSingleCoil:
		p.payload = append(asBytes(req.CoilAddr), coilValueBytes(req.CoilValue)...)

	case WriteSingleRegister:
		p.payload = append(asBytes(req.RegisterAddr), asBytes(req.RegisterValue)...)

	case WriteMultipleCoils, WriteMultipleRegisters:
		p.payload = append(asBytes(req.Range.Start), asBytes(req.Range.Count)...)
	}

	return p
}

func coilValueBytes(value bool) []byte {
	if value {
		return []byte{0xff, 0x00}
	}
	return []byte{0x00, 0x00}
}

func decodeCoilValue(b []byte) (bool, error) {
	switch {
	case b[0] == 0xff && b[1] == 0x00:
		return true, nil
	case b[0] == 0x00 && b[1] == 0x00:
		return false, nil
	default:
		return false, fmt.Errorf("%w: illegal coil value (0x%02x%02x)", ErrBadResponse, b[0], b[1])
	}
}
