package modbus

// DummyHandler implements RequestHandler by refusing every request with
// ErrIllegalFunction. It is useful as an embeddable base for handlers
// that only care about a subset of function codes, and in tests that
// only exercise the server's framing and dispatch logic.
type DummyHandler struct{}

var _ RequestHandler = (*DummyHandler)(nil)

func (h *DummyHandler) ReadCoils(unitID uint8, addr, count uint16) ([]bool, error) {
	return nil, ErrIllegalFunction
}

func (h *DummyHandler) ReadDiscreteInputs(unitID uint8, addr, count uint16) ([]bool, error) {
	return nil, ErrIllegalFunction
}

func (h *DummyHandler) ReadHoldingRegisters(unitID uint8, addr, count uint16) ([]uint16, error) {
	return nil, ErrIllegalFunction
}

func (h *DummyHandler) ReadInputRegisters(unitID uint8, addr, count uint16) ([]uint16, error) {
	return nil, ErrIllegalFunction
}

func (h *DummyHandler) WriteSingleCoil(unitID uint8, addr uint16, value bool) error {
	return ErrIllegalFunction
}

func (h *DummyHandler) WriteSingleRegister(unitID uint8, addr, value uint16) error {
	return ErrIllegalFunction
}

func (h *DummyHandler) WriteMultipleCoils(unitID uint8, addr uint16, values []bool) error {
	return ErrIllegalFunction
}

func (h *DummyHandler) WriteMultipleRegisters(unitID uint8, addr uint16, values []uint16) error {
	return ErrIllegalFunction
}
