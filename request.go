package modbus

// AddressRange is a (start, count) pair addressing a contiguous run of
// coils, discrete inputs, holding registers, or input registers (spec
// §3). Count is the number of items, not bytes.
type AddressRange struct {
	Start uint16
	Count uint16
}

// end returns the address one past the last item covered by r, as a
// uint32 so overflow past 0xffff can be detected without wrapping.
func (r AddressRange) end() uint32 {
	return uint32(r.Start) + uint32(r.Count)
}

// FunctionCode identifies one of the eight operations this revision
// supports.
type FunctionCode uint8

const (
	ReadCoils              FunctionCode = FunctionCode(fcReadCoils)
	ReadDiscreteInputs     FunctionCode = FunctionCode(fcReadDiscreteInputs)
	ReadHoldingRegisters   FunctionCode = FunctionCode(fcReadHoldingRegisters)
	ReadInputRegisters     FunctionCode = FunctionCode(fcReadInputRegisters)
	WriteSingleCoil        FunctionCode = FunctionCode(fcWriteSingleCoil)
	WriteSingleRegister    FunctionCode = FunctionCode(fcWriteSingleRegister)
	WriteMultipleCoils     FunctionCode = FunctionCode(fcWriteMultipleCoils)
	WriteMultipleRegisters FunctionCode = FunctionCode(fcWriteMultipleRegisters)
)

func (fc FunctionCode) String() string {
	switch uint8(fc) {
	case fcReadCoils:
		return "ReadCoils"
	case fcReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case fcReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case fcReadInputRegisters:
		return "ReadInputRegisters"
	case fcWriteSingleCoil:
		return "WriteSingleCoil"
	case fcWriteSingleRegister:
		return "WriteSingleRegister"
	case fcWriteMultipleCoils:
		return "WriteMultipleCoils"
	case fcWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return "Unknown"
	}
}

// Request is the tagged union of the eight request shapes a client can
// submit (spec §3). Only the fields marked valid for Code are
// meaningful.
type Request struct {
	Code FunctionCode

	// valid for ReadCoils, ReadDiscreteInputs, ReadHoldingRegisters,
	// ReadInputRegisters, WriteMultipleCoils, WriteMultipleRegisters
	Range AddressRange

	// valid for WriteSingleCoil
	CoilAddr  uint16
	CoilValue bool

	// valid for WriteSingleRegister
	RegisterAddr  uint16
	RegisterValue uint16

	// valid for WriteMultipleCoils
	CoilValues []bool

	// valid for WriteMultipleRegisters
	RegisterValues []uint16
}

// Response mirrors Request: reads carry a sequence of exactly the
// requested length, writes echo start/count or index/value.
type Response struct {
	Code FunctionCode

	// valid for ReadCoils, ReadDiscreteInputs
	Bools []bool

	// valid for ReadHoldingRegisters, ReadInputRegisters
	Registers []uint16

	// valid for WriteSingleCoil
	CoilAddr  uint16
	CoilValue bool

	// valid for WriteSingleRegister
	RegisterAddr  uint16
	RegisterValue uint16

	// valid for WriteMultipleCoils, WriteMultipleRegisters
	Range AddressRange
}

// validate checks a request against the Modbus range constraints of
// spec §3 before any bytes are produced or sent, per spec §7
// ("BadRequest ... Raised before any I/O").
func (r *Request) validate() error {
	switch r.Code {
	case ReadCoils, ReadDiscreteInputs:
		return validateReadRange(r.Range, maxReadBoolQuantity)

	case ReadHoldingRegisters, ReadInputRegisters:
		return validateReadRange(r.Range, maxReadRegisterQuantity)

	case WriteSingleCoil:
		return nil

	case WriteSingleRegister:
		return nil

	case WriteMultipleCoils:
		if err := validateWriteRange(r.Range, maxWriteBoolQuantity); err != nil {
			return err
		}
		if len(r.CoilValues) != int(r.Range.Count) {
			return errBadRequestf("%d values for a count of %d", len(r.CoilValues), r.Range.Count)
		}
		return nil

	case WriteMultipleRegisters:
		if err := validateWriteRange(r.Range, maxWriteRegisterQuantity); err != nil {
			return err
		}
		if len(r.RegisterValues) != int(r.Range.Count) {
			return errBadRequestf("%d values for a count of %d", len(r.RegisterValues), r.Range.Count)
		}
		return nil

	default:
		return errBadRequestf("unsupported function code %v", r.Code)
	}
}

func validateReadRange(rng AddressRange, max uint16) error {
	if rng.Count == 0 {
		return errBadRequestf("count is 0")
	}
	if rng.Count > max {
		return errBadRequestf("count %d exceeds limit of %d", rng.Count, max)
	}
	if rng.end() > 0x10000 {
		return errBadRequestf("range [%d, %d) overflows the address space", rng.Start, rng.end())
	}
	return nil
}

func validateWriteRange(rng AddressRange, max uint16) error {
	return validateReadRange(rng, max)
}
