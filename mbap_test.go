package modbus

import (
	"bytes"
	"errors"
	"testing"
)

func TestMBAPRoundTrip(t *testing.T) {
	p := &pdu{unitID: 3, functionCode: fcReadHoldingRegisters, payload: []byte{0x00, 0x01, 0x00, 0x02}}

	frame, err := encodeMBAPFrame(0x55aa, p)
	if err != nil {
		t.Fatalf("encodeMBAPFrame: %v", err)
	}

	got, txnID, err := decodeMBAPFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatalf("decodeMBAPFrame: %v", err)
	}

	if txnID != 0x55aa {
		t.Errorf("txnID = 0x%04x, want 0x55aa", txnID)
	}
	if got.unitID != p.unitID || got.functionCode != p.functionCode {
		t.Errorf("got %+v, want %+v", got, p)
	}
	if !bytes.Equal(got.payload, p.payload) {
		t.Errorf("payload = % x, want % x", got.payload, p.payload)
	}
}

func TestEncodeMBAPFrameRejectsOversizedPDU(t *testing.T) {
	p := &pdu{payload: make([]byte, maxPDULength)}
	if _, err := encodeMBAPFrame(1, p); !errors.Is(err, ErrBadRequest) {
		t.Errorf("err = %v, want ErrBadRequest", err)
	}
}

func TestDecodeMBAPFrameRejectsBadProtocolID(t *testing.T) {
	frame := []byte{0x00, 0x01, 0x00, 0x01 /* bad protocol id */, 0x00, 0x02, 0x01, 0x03}
	if _, _, err := decodeMBAPFrame(bytes.NewReader(frame)); !errors.Is(err, ErrBadResponse) {
		t.Errorf("err = %v, want ErrBadResponse", err)
	}
}

func TestDecodeMBAPFrameRejectsBadLength(t *testing.T) {
	frame := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00 /* length 0 */, 0x01}
	if _, _, err := decodeMBAPFrame(bytes.NewReader(frame)); !errors.Is(err, ErrBadResponse) {
		t.Errorf("err = %v, want ErrBadResponse", err)
	}
}

func TestDecodeMBAPFrameShortRead(t *testing.T) {
	frame := []byte{0x00, 0x01, 0x00}
	if _, _, err := decodeMBAPFrame(bytes.NewReader(frame)); err == nil {
		t.Error("expected an error on a truncated header")
	}
}
