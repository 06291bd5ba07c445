package sim

import (
	"github.com/pkg/errors"

	"github.com/synthread/go-qspiflash/flash"
)

// Port is one driver object attached to a Chip. Each Port keeps its own bus
// format; several Ports may address the same Chip.
type Port struct {
	chip   *Chip
	format flash.Format
}

// Port returns a new driver object for c, configured for 1_1_1
func (c *Chip) Port() *Port {
	return &Port{chip: c, format: flash.Format111}
}

func (p *Port) Configure(f flash.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if f.Instruction != flash.Single {
		return errors.Wrap(flash.ErrUnsupported, "multi-line instruction phase")
	}
	if f.AddrSize != flash.Addr24 {
		return errors.Wrap(flash.ErrUnsupported, "32-bit addressing")
	}
	p.format = f
	return nil
}

func (p *Port) Transfer(op byte, tx, rx []byte) error {
	return p.chip.transfer(op, tx, rx)
}

func (p *Port) Write(req flash.Request, addr uint32, data []byte) (int, error) {
	op, err := req.Resolve(p.format, true)
	if err != nil {
		return 0, err
	}
	return p.chip.program(op, addr, data)
}

func (p *Port) Read(req flash.Request, addr uint32, buf []byte) (int, error) {
	op, err := req.Resolve(p.format, false)
	if err != nil {
		return 0, err
	}
	return p.chip.read(op, addr, buf)
}
