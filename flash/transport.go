package flash

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnsupported = errors.New("operation not supported by the flash part")
var ErrQuadDisabled = errors.New("quad transfer while quad-enable bit is clear")

// Transport is a synchronous request/response channel to a QSPI flash part.
// A non-nil error means the transaction itself failed.
type Transport interface {
	// Configure selects the bus format used by subsequent Read and Write
	// calls that use the default command
	Configure(f Format) error

	// Transfer sends op followed by tx and then clocks in len(rx) bytes
	// within a single chip select. Either tx or rx may be empty.
	Transfer(op byte, tx, rx []byte) error

	// Write programs data at addr and returns the number of bytes written
	Write(req Request, addr uint32, data []byte) (int, error)

	// Read fills buf from addr and returns the number of bytes read
	Read(req Request, addr uint32, buf []byte) (int, error)
}

// BusWidth is the number of signal lines used by a transaction phase
type BusWidth uint8

const (
	Single BusWidth = 1
	Dual   BusWidth = 2
	Quad   BusWidth = 4
)

func (w BusWidth) valid() bool {
	return w == Single || w == Dual || w == Quad
}

// AddrSize is the width of the address phase in bits
type AddrSize uint8

const (
	Addr24 AddrSize = 24
	Addr32 AddrSize = 32
)

// Format describes how many lines each phase of a transaction uses. It is
// selected once before a batch of operations.
type Format struct {
	Instruction BusWidth
	Address     BusWidth
	AddrSize    AddrSize
	Alt         BusWidth
	AltSize     uint8
	Data        BusWidth
	DummyCycles uint8
}

var (
	Format111 = Format{Instruction: Single, Address: Single, AddrSize: Addr24, Alt: Single, Data: Single}
	Format112 = Format{Instruction: Single, Address: Single, AddrSize: Addr24, Alt: Single, Data: Dual}
	Format122 = Format{Instruction: Single, Address: Dual, AddrSize: Addr24, Alt: Single, Data: Dual}
	Format114 = Format{Instruction: Single, Address: Single, AddrSize: Addr24, Alt: Single, Data: Quad}
	Format144 = Format{Instruction: Single, Address: Quad, AddrSize: Addr24, Alt: Single, Data: Quad}
)

var namedFormats = map[string]Format{
	"1_1_1": Format111,
	"1_1_2": Format112,
	"1_2_2": Format122,
	"1_1_4": Format114,
	"1_4_4": Format144,
}

// ParseFormat returns the preset for names such as "1_4_4" or "144"
func ParseFormat(name string) (Format, error) {
	key := name
	if len(key) == 3 {
		key = strings.Join(strings.Split(key, ""), "_")
	}
	f, ok := namedFormats[key]
	if !ok {
		return Format{}, errors.Errorf("unknown bus format %q", name)
	}
	return f, nil
}

// String returns the instruction_address_data line counts, e.g. 1_4_4
func (f Format) String() string {
	return fmt.Sprintf("%d_%d_%d", f.Instruction, f.Address, f.Data)
}

// Validate checks that every phase uses a legal width
func (f Format) Validate() error {
	if !f.Instruction.valid() || !f.Address.valid() || !f.Data.valid() {
		return errors.Errorf("invalid bus width in format %s", f)
	}
	if f.Alt != 0 && !f.Alt.valid() {
		return errors.Errorf("invalid alternate width %d", f.Alt)
	}
	if f.AddrSize != Addr24 && f.AddrSize != Addr32 {
		return errors.Errorf("invalid address size %d", f.AddrSize)
	}
	return nil
}

// Command selects the opcode a Read or Write is issued with. The zero value
// is DefaultCommand.
type Command struct {
	custom bool
	op     byte
}

// DefaultCommand uses the opcode implied by the configured Format
var DefaultCommand = Command{}

// Custom uses the explicit flash opcode op regardless of the configured Format
func Custom(op byte) Command {
	return Command{custom: true, op: op}
}

// Opcode returns the explicit opcode and whether one was set
func (c Command) Opcode() (byte, bool) {
	return c.op, c.custom
}

func (c Command) String() string {
	if !c.custom {
		return "default"
	}
	return fmt.Sprintf("0x%02X", c.op)
}

// Request carries the command variant and alternate byte of a Read or Write
type Request struct {
	Command Command
	Alt     byte
}

// Resolve returns the opcode r is issued with under format f
func (r Request) Resolve(f Format, write bool) (byte, error) {
	if op, ok := r.Command.Opcode(); ok {
		o, known := LookupOpcode(op)
		if !known {
			return 0, errors.Wrapf(ErrUnsupported, "unknown data opcode 0x%02X", op)
		}
		if o.Program != write {
			return 0, errors.Wrapf(ErrUnsupported, "opcode %s cannot be used for this transfer", o.Name)
		}
		return op, nil
	}
	read, prog := DefaultOpcodes(f)
	op := read
	if write {
		op = prog
	}
	if op == 0 {
		return 0, errors.Wrapf(ErrUnsupported, "no default opcode for format %s", f)
	}
	return op, nil
}
