// Package modbus implements the Modbus/TCP application data unit: MBAP
// framing, PDU encoding/decoding for function codes 0x01-0x06/0x0f/0x10,
// a pipelined client session, and a multi-session server dispatching to a
// user-supplied handler.
package modbus

import (
	"errors"
	"fmt"
)

// function codes handled by this revision.
const (
	fcReadCoils              uint8 = 0x01
	fcReadDiscreteInputs     uint8 = 0x02
	fcReadHoldingRegisters   uint8 = 0x03
	fcReadInputRegisters     uint8 = 0x04
	fcWriteSingleCoil        uint8 = 0x05
	fcWriteSingleRegister    uint8 = 0x06
	fcWriteMultipleCoils     uint8 = 0x0f
	fcWriteMultipleRegisters uint8 = 0x10

	fcException uint8 = 0x80 // or'd into the function code of an exception response
)

// exception codes, as carried in the single-byte payload of an exception
// response.
const (
	exIllegalFunction         uint8 = 0x01
	exIllegalDataAddress      uint8 = 0x02
	exIllegalDataValue        uint8 = 0x03
	exServerDeviceFailure     uint8 = 0x04
	exAcknowledge             uint8 = 0x05
	exServerDeviceBusy        uint8 = 0x06
	exGWPathUnavailable       uint8 = 0x0a
	exGWTargetFailedToRespond uint8 = 0x0b
)

// Modbus/TCP protocol limits (spec §3).
const (
	maxReadBoolQuantity      uint16 = 2000
	maxReadRegisterQuantity  uint16 = 125
	maxWriteBoolQuantity     uint16 = 1968
	maxWriteRegisterQuantity uint16 = 123

	maxPDULength  = 253 // 1 byte of function code + up to 252 bytes of data
	mbapHeaderLen = 7
	maxADULength  = mbapHeaderLen + maxPDULength
)

// Error taxonomy surfaced to callers, per spec §7.
var (
	// ErrBadRequest reports that an argument violates a Modbus
	// constraint. Raised before any I/O takes place.
	ErrBadRequest = errors.New("modbus: bad request")
	// ErrBadResponse reports that a response decoded but violates the
	// protocol (length mismatch, wrong function code echoed, unexpected
	// coil value, or a unit id mismatch).
	ErrBadResponse = errors.New("modbus: bad response")
	// ErrTimeout reports that the deadline elapsed before a matching
	// response arrived.
	ErrTimeout = errors.New("modbus: request timed out")
	// ErrNotConnected reports that a call was issued while disconnected
	// under the reject policy.
	ErrNotConnected = errors.New("modbus: not connected")
	// ErrIO reports a socket-level failure; it triggers a session reset.
	ErrIO = errors.New("modbus: i/o error")
	// ErrShutdown reports that the client or server handle has been
	// closed.
	ErrShutdown = errors.New("modbus: shut down")
	// ErrConfiguration reports invalid configuration passed to a
	// constructor.
	ErrConfiguration = errors.New("modbus: configuration error")

	// Exception errors (spec §7, "Exception(code)"), one per Modbus
	// exception code this revision surfaces.
	ErrIllegalFunction         = errors.New("modbus: illegal function")
	ErrIllegalDataAddress      = errors.New("modbus: illegal data address")
	ErrIllegalDataValue        = errors.New("modbus: illegal data value")
	ErrServerDeviceFailure     = errors.New("modbus: server device failure")
	ErrAcknowledge             = errors.New("modbus: request acknowledged")
	ErrServerDeviceBusy        = errors.New("modbus: server device busy")
	ErrGWPathUnavailable       = errors.New("modbus: gateway path unavailable")
	ErrGWTargetFailedToRespond = errors.New("modbus: gateway target device failed to respond")
)

// errBadRequestf wraps a formatted message in ErrBadRequest.
func errBadRequestf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrBadRequest}, args...)...)
}

// mapExceptionCodeToError turns a wire exception code into the
// corresponding sentinel error.
func mapExceptionCodeToError(code uint8) error {
	switch code {
	case exIllegalFunction:
		return ErrIllegalFunction
	case exIllegalDataAddress:
		return ErrIllegalDataAddress
	case exIllegalDataValue:
		return ErrIllegalDataValue
	case exServerDeviceFailure:
		return ErrServerDeviceFailure
	case exAcknowledge:
		return ErrAcknowledge
	case exServerDeviceBusy:
		return ErrServerDeviceBusy
	case exGWPathUnavailable:
		return ErrGWPathUnavailable
	case exGWTargetFailedToRespond:
		return ErrGWTargetFailedToRespond
	default:
		return fmt.Errorf("modbus: unsupported exception code (0x%02x)", code)
	}
}

// mapErrorToExceptionCode turns a handler-returned error into the wire
// exception code sent back to the client. Errors outside the exception
// taxonomy map to a server device failure.
func mapErrorToExceptionCode(err error) uint8 {
	switch {
	case errors.Is(err, ErrIllegalFunction):
		return exIllegalFunction
	case errors.Is(err, ErrIllegalDataAddress):
		return exIllegalDataAddress
	case errors.Is(err, ErrIllegalDataValue):
		return exIllegalDataValue
	case errors.Is(err, ErrAcknowledge):
		return exAcknowledge
	case errors.Is(err, ErrServerDeviceBusy):
		return exServerDeviceBusy
	case errors.Is(err, ErrGWPathUnavailable):
		return exGWPathUnavailable
	case errors.Is(err, ErrGWTargetFailedToRespond):
		return exGWTargetFailedToRespond
	default:
		return exServerDeviceFailure
	}
}
