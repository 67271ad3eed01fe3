package modbus

import (
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeReadCoilsRoundTrip(t *testing.T) {
	req := &Request{Code: ReadCoils, Range: AddressRange{Start: 10, Count: 5}}

	p, err := encodeRequest(1, req)
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}

	// the server side decodes the same PDU back into a Request.
	decoded, err := decodeRequestPDU(p)
	if err != nil {
		t.Fatalf("decodeRequestPDU: %v", err)
	}
	if decoded.Range != req.Range {
		t.Errorf("decoded range %+v, want %+v", decoded.Range, req.Range)
	}

	// the server then encodes a response, which the client decodes.
	values := []bool{true, false, true, true, false}
	resPDU := encodeResponsePDU(1, decoded, values, nil)

	resp, err := decodeResponse(ReadCoils, 5, resPDU)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if !reflect.DeepEqual(resp.Bools, values) {
		t.Errorf("got %v, want %v", resp.Bools, values)
	}
}

func TestEncodeDecodeWriteMultipleRegistersRoundTrip(t *testing.T) {
	req := &Request{
		Code:           WriteMultipleRegisters,
		Range:          AddressRange{Start: 100, Count: 3},
		RegisterValues: []uint16{1, 2, 3},
	}

	p, err := encodeRequest(7, req)
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}

	decoded, err := decodeRequestPDU(p)
	if err != nil {
		t.Fatalf("decodeRequestPDU: %v", err)
	}
	if !reflect.DeepEqual(decoded.RegisterValues, req.RegisterValues) {
		t.Errorf("got %v, want %v", decoded.RegisterValues, req.RegisterValues)
	}

	resPDU := encodeResponsePDU(7, decoded, nil, nil)
	resp, err := decodeResponse(WriteMultipleRegisters, 0, resPDU)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if resp.Range != req.Range {
		t.Errorf("got %+v, want %+v", resp.Range, req.Range)
	}
}

func TestDecodeResponseException(t *testing.T) {
	p := &pdu{functionCode: fcReadCoils | fcException, payload: []byte{exIllegalDataAddress}}
	_, err := decodeResponse(ReadCoils, 10, p)
	if !errors.Is(err, ErrIllegalDataAddress) {
		t.Errorf("err = %v, want ErrIllegalDataAddress", err)
	}
}

func TestDecodeResponseWrongFunctionCode(t *testing.T) {
	p := &pdu{functionCode: fcReadHoldingRegisters, payload: []byte{2, 0, 1}}
	_, err := decodeResponse(ReadCoils, 1, p)
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("err = %v, want ErrBadResponse", err)
	}
}

func TestDecodeRequestPDUIllegalDataAddress(t *testing.T) {
	p := &pdu{functionCode: fcReadHoldingRegisters, payload: append(asBytes(0xfffe), asBytes(3)...)}
	_, err := decodeRequestPDU(p)
	if !errors.Is(err, ErrIllegalDataAddress) {
		t.Errorf("err = %v, want ErrIllegalDataAddress", err)
	}
}

func TestDecodeRequestPDUIllegalDataValue(t *testing.T) {
	p := &pdu{functionCode: fcReadHoldingRegisters, payload: append(asBytes(0), asBytes(126)...)}
	_, err := decodeRequestPDU(p)
	if !errors.Is(err, ErrIllegalDataValue) {
		t.Errorf("err = %v, want ErrIllegalDataValue", err)
	}
}

func TestDecodeRequestPDUUnsupportedFunctionCode(t *testing.T) {
	p := &pdu{functionCode: 0x42}
	_, err := decodeRequestPDU(p)
	if !errors.Is(err, ErrIllegalFunction) {
		t.Errorf("err = %v, want ErrIllegalFunction", err)
	}
}

func TestWriteSingleCoilRoundTrip(t *testing.T) {
	req := &Request{Code: WriteSingleCoil, CoilAddr: 42, CoilValue: true}

	p, err := encodeRequest(1, req)
	if err != nil {
		t.Fatalf("encodeRequest: %v", err)
	}

	decoded, err := decodeRequestPDU(p)
	if err != nil {
		t.Fatalf("decodeRequestPDU: %v", err)
	}
	if decoded.CoilAddr != 42 || decoded.CoilValue != true {
		t.Errorf("got %+v", decoded)
	}

	resPDU := encodeResponsePDU(1, decoded, nil, nil)
	resp, err := decodeResponse(WriteSingleCoil, 0, resPDU)
	if err != nil {
		t.Fatalf("decodeResponse: %v", err)
	}
	if resp.CoilAddr != 42 || resp.CoilValue != true {
		t.Errorf("got %+v", resp)
	}
}

func TestEncodeResponsePDUException(t *testing.T) {
	req := &Request{Code: ReadCoils, Range: AddressRange{Start: 0, Count: 1}}
	p := encodeResponsePDU(1, req, nil, ErrIllegalDataAddress)
	if !p.isException() {
		t.Fatal("expected an exception response")
	}
	if p.payload[0] != exIllegalDataAddress {
		t.Errorf("exception code = 0x%02x, want 0x%02x", p.payload[0], exIllegalDataAddress)
	}
}
