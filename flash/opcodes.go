package flash

// Command opcodes from the MX25R6435F datasheet
const (
	OpReadStatus    byte = 0x05
	OpWriteStatus   byte = 0x01
	OpReadControl   byte = 0x35
	OpWriteControl  byte = 0x3E
	OpResetEnable   byte = 0x66
	OpReset         byte = 0x99
	OpWriteEnable   byte = 0x06
	OpWriteDisable  byte = 0x04
	OpSectorErase   byte = 0x20
	OpReadID        byte = 0x9F
	OpRead          byte = 0x03
	OpFastRead      byte = 0x0B
	OpDualRead      byte = 0x3B
	OpDualIORead    byte = 0xBB
	OpQuadRead      byte = 0x6B
	OpQuadIORead    byte = 0xEB
	OpPageProgram   byte = 0x02
	OpDualProgram   byte = 0xA2
	OpQuadProgram   byte = 0x32
	OpQuadIOProgram byte = 0x38
)

// Status register bits
const (
	StatusWIP byte = 0x01
	StatusWEL byte = 0x02
	StatusQE  byte = 0x40
)

const (
	SectorSize = 4096
	PageSize   = 256
)

// Opcode describes the phases of a data read or program command
type Opcode struct {
	Name        string
	Program     bool
	Address     BusWidth
	Data        BusWidth
	DummyCycles uint8
}

var opcodeTable = map[byte]Opcode{
	OpRead:          {Name: "READ", Address: Single, Data: Single},
	OpFastRead:      {Name: "FAST_READ", Address: Single, Data: Single, DummyCycles: 8},
	OpDualRead:      {Name: "DREAD", Address: Single, Data: Dual, DummyCycles: 8},
	OpDualIORead:    {Name: "2READ", Address: Dual, Data: Dual, DummyCycles: 4},
	OpQuadRead:      {Name: "QREAD", Address: Single, Data: Quad, DummyCycles: 8},
	OpQuadIORead:    {Name: "4READ", Address: Quad, Data: Quad, DummyCycles: 6},
	OpPageProgram:   {Name: "PP", Program: true, Address: Single, Data: Single},
	OpDualProgram:   {Name: "PP2O", Program: true, Address: Single, Data: Dual},
	OpQuadProgram:   {Name: "PP4O", Program: true, Address: Single, Data: Quad},
	OpQuadIOProgram: {Name: "4PP", Program: true, Address: Quad, Data: Quad},
}

// LookupOpcode returns the phase description of a known read or program opcode
func LookupOpcode(op byte) (Opcode, bool) {
	o, ok := opcodeTable[op]
	return o, ok
}

// DefaultOpcodes returns the read and program opcodes a driver issues for
// format f when no custom command is given. Zero means none.
func DefaultOpcodes(f Format) (read, program byte) {
	switch {
	case f.Address == Single && f.Data == Single:
		return OpRead, OpPageProgram
	case f.Address == Single && f.Data == Dual:
		return OpDualRead, OpDualProgram
	case f.Address == Dual && f.Data == Dual:
		return OpDualIORead, OpDualProgram
	case f.Address == Single && f.Data == Quad:
		return OpQuadRead, OpQuadProgram
	case f.Address == Quad && f.Data == Quad:
		return OpQuadIORead, OpQuadIOProgram
	}
	return 0, 0
}

var opNames = map[byte]string{
	OpReadStatus:   "RDSR",
	OpWriteStatus:  "WRSR",
	OpReadControl:  "RDCR",
	OpWriteControl: "WRCR",
	OpResetEnable:  "RSTEN",
	OpReset:        "RST",
	OpWriteEnable:  "WREN",
	OpWriteDisable: "WRDI",
	OpSectorErase:  "SE",
	OpReadID:       "RDID",
}

// OpName returns a mnemonic for op, falling back to its hex value
func OpName(op byte) string {
	if n, ok := opNames[op]; ok {
		return n
	}
	if o, ok := opcodeTable[op]; ok {
		return o.Name
	}
	return hexByte(op)
}
