// Package sim models a Macronix MX25R6435F NOR flash and the driver object
// in front of it, so the sequencer and the validation scenarios can run
// without a board.
package sim

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/synthread/go-qspiflash/flash"
)

const (
	DefaultSize      = 8 << 20
	DefaultBusyPolls = 3
	JEDECID          = 0xC22817

	// status bits 2-7 are non-volatile and writable by WRSR
	writableStatus byte = 0xFC
)

var ErrInjected = errors.New("injected transport fault")

// Option configures a Chip
type Option func(*Chip)

// WithSize sets the array size in bytes
func WithSize(n int) Option {
	return func(c *Chip) { c.size = n }
}

// WithBusyPolls sets how many status reads report write-in-progress after
// an erase, program or register write
func WithBusyPolls(n int) Option {
	return func(c *Chip) { c.busyPolls = n }
}

// WithStatus sets the power-on value of the status register
func WithStatus(sr byte) Option {
	return func(c *Chip) { c.sr = sr & writableStatus }
}

// WithLogger sets the logger used for command traces
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Chip) { c.log = l }
}

// Chip is a simulated flash part. It is safe for use by several Ports.
type Chip struct {
	mu sync.Mutex

	size      int
	busyPolls int
	mem       []byte

	sr   byte
	cr   [2]byte
	busy int

	resetEnabled bool
	faults       map[byte]int

	log logrus.FieldLogger
}

// New returns an erased chip
func New(opts ...Option) *Chip {
	c := &Chip{
		size:      DefaultSize,
		busyPolls: DefaultBusyPolls,
		faults:    map[byte]int{},
		log:       logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(c)
	}
	c.mem = make([]byte, c.size)
	for i := range c.mem {
		c.mem[i] = 0xff
	}
	return c
}

// Size returns the array size in bytes
func (c *Chip) Size() int {
	return c.size
}

// Fault makes the next n transfers of op fail. A negative n fails them
// until Fault is called again; zero clears the fault.
func (c *Chip) Fault(op byte, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n == 0 {
		delete(c.faults, op)
		return
	}
	c.faults[op] = n
}

// Status returns the status register without consuming a busy poll
func (c *Chip) Status() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	sr := c.sr
	if c.busy > 0 {
		sr |= flash.StatusWIP
	}
	return sr
}

// Snapshot returns a copy of n bytes at addr
func (c *Chip) Snapshot(addr uint32, n int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = c.mem[c.index(addr, i)]
	}
	return out
}

// Load fills the array from an image file. A missing file leaves the array
// erased.
func (c *Chip) Load(fs afero.Fs, path string) error {
	bs, err := afero.ReadFile(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "could not load image")
	}
	if len(bs) != c.size {
		return errors.Errorf("image %s is %d bytes, chip is %d", path, len(bs), c.size)
	}
	c.mu.Lock()
	copy(c.mem, bs)
	c.mu.Unlock()
	return nil
}

// Save writes the array to an image file
func (c *Chip) Save(fs afero.Fs, path string) error {
	c.mu.Lock()
	bs := make([]byte, len(c.mem))
	copy(bs, c.mem)
	c.mu.Unlock()
	return errors.Wrap(afero.WriteFile(fs, path, bs, 0644), "could not save image")
}

func (c *Chip) index(addr uint32, i int) int {
	return (int(addr&0xffffff) + i) % c.size
}

// fault consumes one pending fault for op. Must hold mu.
func (c *Chip) fault(op byte) error {
	n, ok := c.faults[op]
	if !ok {
		return nil
	}
	if n > 0 {
		if n == 1 {
			delete(c.faults, op)
		} else {
			c.faults[op] = n - 1
		}
	}
	return errors.Wrap(ErrInjected, flash.OpName(op))
}

// modified latches the end of a non-volatile write. Must hold mu.
func (c *Chip) modified() {
	c.sr &^= flash.StatusWEL
	c.busy = c.busyPolls
}

// writable reports whether a modifying command would be accepted, logging
// why not. Must hold mu.
func (c *Chip) writable(op byte) bool {
	if c.busy > 0 {
		c.log.Debugf("sim: %s ignored, busy", flash.OpName(op))
		return false
	}
	if c.sr&flash.StatusWEL == 0 {
		c.log.Debugf("sim: %s ignored, write enable latch clear", flash.OpName(op))
		return false
	}
	return true
}

func (c *Chip) transfer(op byte, tx, rx []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(op); err != nil {
		return err
	}

	for i := range rx {
		rx[i] = 0xff
	}

	resetEnabled := c.resetEnabled
	c.resetEnabled = false

	// only status reads and reset are accepted while an operation is in progress
	if c.busy > 0 && op != flash.OpReadStatus && op != flash.OpResetEnable && op != flash.OpReset {
		c.log.Debugf("sim: %s ignored, busy", flash.OpName(op))
		return nil
	}

	switch op {
	case flash.OpReadStatus:
		sr := c.sr
		if c.busy > 0 {
			sr |= flash.StatusWIP
			c.busy--
		}
		for i := range rx {
			rx[i] = sr
		}

	case flash.OpReadControl:
		for i := range rx {
			rx[i] = c.cr[i%2]
		}

	case flash.OpReadID:
		id := []byte{byte(JEDECID >> 16 & 0xff), byte(JEDECID >> 8 & 0xff), byte(JEDECID & 0xff)}
		copy(rx, id)

	case flash.OpWriteEnable:
		c.sr |= flash.StatusWEL

	case flash.OpWriteDisable:
		c.sr &^= flash.StatusWEL

	case flash.OpWriteStatus:
		if len(tx) == 0 || !c.writable(op) {
			return nil
		}
		c.sr = c.sr&^writableStatus | tx[0]&writableStatus
		copy(c.cr[:], tx[1:])
		c.modified()

	case flash.OpWriteControl:
		if len(tx) == 0 || !c.writable(op) {
			return nil
		}
		copy(c.cr[:], tx)
		c.modified()

	case flash.OpResetEnable:
		c.resetEnabled = true

	case flash.OpReset:
		if !resetEnabled {
			c.log.Debug("sim: RST ignored, reset not enabled")
			return nil
		}
		c.sr &^= flash.StatusWEL
		c.busy = 0

	case flash.OpSectorErase:
		if len(tx) < 3 {
			return errors.Errorf("sector erase needs 3 address bytes, got %d", len(tx))
		}
		if !c.writable(op) {
			return nil
		}
		addr := uint32(tx[0])<<16 | uint32(tx[1])<<8 | uint32(tx[2])
		base := flash.SectorBase(addr)
		for i := 0; i < flash.SectorSize; i++ {
			c.mem[c.index(base, i)] = 0xff
		}
		c.modified()

	default:
		return errors.Wrapf(flash.ErrUnsupported, "opcode 0x%02X", op)
	}

	c.log.Debugf("sim: %s tx: %x rx: %x", flash.OpName(op), tx, rx)
	return nil
}

// checkLines rejects data opcodes the part cannot serve in its current state.
// Must hold mu.
func (c *Chip) checkLines(o flash.Opcode) error {
	if o.Program && o.Data == flash.Dual {
		return errors.Wrapf(flash.ErrUnsupported, "%s", o.Name)
	}
	if (o.Address == flash.Quad || o.Data == flash.Quad) && c.sr&flash.StatusQE == 0 {
		return errors.Wrapf(flash.ErrQuadDisabled, "%s", o.Name)
	}
	return nil
}

func (c *Chip) program(op byte, addr uint32, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(op); err != nil {
		return 0, err
	}
	o, _ := flash.LookupOpcode(op)
	if err := c.checkLines(o); err != nil {
		return 0, err
	}

	// the driver splits data at page boundaries, waits out any operation
	// in progress and sets the write enable latch before each page program
	for off := 0; off < len(data); {
		a := addr + uint32(off)
		n := min(len(data)-off, flash.PageSize-int(a%flash.PageSize))
		c.busy = 0
		c.sr |= flash.StatusWEL
		c.pageProgram(a, data[off:off+n])
		c.modified()
		off += n
	}
	c.log.Debugf("sim: %s %d @ %x", o.Name, len(data), addr)
	return len(data), nil
}

// pageProgram programs data at addr. Bytes past the end of the page wrap to
// its start, as on the part. Must hold mu.
func (c *Chip) pageProgram(addr uint32, data []byte) {
	base := addr &^ (flash.PageSize - 1)
	start := int(addr % flash.PageSize)
	for i, b := range data {
		// programming can only clear bits
		c.mem[c.index(base, (start+i)%flash.PageSize)] &= b
	}
}

func (c *Chip) read(op byte, addr uint32, buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fault(op); err != nil {
		return 0, err
	}
	o, _ := flash.LookupOpcode(op)
	if err := c.checkLines(o); err != nil {
		return 0, err
	}
	for i := range buf {
		buf[i] = c.mem[c.index(addr, i)]
	}
	c.log.Debugf("sim: %s %d @ %x", o.Name, len(buf), addr)
	return len(buf), nil
}
