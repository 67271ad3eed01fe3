package modbus

// RequestHandler is implemented by the caller-supplied object passed to
// NewServer (spec §4.5). The server decodes and range-checks each
// incoming PDU, then dispatches to the method matching its function
// code. A nil error produces a normal response carrying the returned
// values; any other error is translated to a wire exception via
// mapErrorToExceptionCode.
type RequestHandler interface {
	// ReadCoils handles function code 0x01. count is the number of
	// coils requested starting at addr; the returned slice must have
	// exactly that length.
	ReadCoils(unitID uint8, addr, count uint16) ([]bool, error)

	// ReadDiscreteInputs handles function code 0x02.
	ReadDiscreteInputs(unitID uint8, addr, count uint16) ([]bool, error)

	// ReadHoldingRegisters handles function code 0x03.
	ReadHoldingRegisters(unitID uint8, addr, count uint16) ([]uint16, error)

	// ReadInputRegisters handles function code 0x04.
	ReadInputRegisters(unitID uint8, addr, count uint16) ([]uint16, error)

	// WriteSingleCoil handles function code 0x05.
	WriteSingleCoil(unitID uint8, addr uint16, value bool) error

	// WriteSingleRegister handles function code 0x06.
	WriteSingleRegister(unitID uint8, addr, value uint16) error

	// WriteMultipleCoils handles function code 0x0f.
	WriteMultipleCoils(unitID uint8, addr uint16, values []bool) error

	// WriteMultipleRegisters handles function code 0x10.
	WriteMultipleRegisters(unitID uint8, addr uint16, values []uint16) error
}
