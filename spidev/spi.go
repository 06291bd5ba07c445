// Package spidev drives a SPI NOR flash from Linux through a spidev node.
// Dual and quad phases are issued as separate transfers with the matching
// number of bits per clock.
package spidev

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/synthread/go-qspiflash/flash"
)

type Mode uint32

const (
	CPHA Mode = 1 << iota
	CPOL
	CSHigh
	LSBFirst
	ThreeWire
	Loop
	NoCS
	Ready
	TxDual
	TxQuad
	RxDual
	RxQuad
)

// Transfer is one segment of a SPI message. All segments of a message are
// clocked within one chip select.
type Transfer struct {
	Tx       []byte
	Rx       []byte
	SpeedHz  uint32
	CSChange bool
	TxNBits  uint8
	RxNBits  uint8
}

type bus interface {
	Transfer(transfers []Transfer) error
	Mode() (Mode, error)
	SetMode(m Mode) error
	SetSpeedHz(hz uint32) error
	Close() error
}

// maxMessage keeps every transfer under the default spidev bufsiz
const maxMessage = 4096

// Config defines how the spidev node is set up
type Config struct {
	SpeedHz uint32
	// PollCeiling bounds the status reads between page programs
	PollCeiling int
}

// Device is a flash.Transport on a spidev node
type Device struct {
	bus    bus
	config *Config
	format flash.Format
}

// Open will open the spidev node dev and enable dual and quad transfers on it
func Open(dev string, c *Config) (*Device, error) {
	b, err := openBus(dev)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", dev)
	}
	d, err := newDevice(b, c)
	if err != nil {
		b.Close()
		return nil, err
	}
	return d, nil
}

func newDevice(b bus, c *Config) (*Device, error) {
	if c == nil {
		c = &Config{}
	}
	if c.PollCeiling <= 0 {
		c.PollCeiling = flash.DefaultPollCeiling
	}

	m, err := b.Mode()
	if err != nil {
		return nil, errors.Wrap(err, "could not read spi mode")
	}
	if err := b.SetMode(m | TxDual | TxQuad | RxDual | RxQuad); err != nil {
		return nil, errors.Wrap(err, "could not enable multi-line transfers")
	}
	if c.SpeedHz > 0 {
		if err := b.SetSpeedHz(c.SpeedHz); err != nil {
			return nil, errors.Wrap(err, "could not set speed")
		}
	}

	return &Device{bus: b, config: c, format: flash.Format111}, nil
}

// Close will close the spidev node
func (d *Device) Close() error {
	return d.bus.Close()
}

func (d *Device) Configure(f flash.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	d.format = f
	return nil
}

func (d *Device) Transfer(op byte, tx, rx []byte) error {
	ts := []Transfer{{
		Tx:      append([]byte{op}, tx...),
		TxNBits: uint8(d.format.Instruction),
	}}
	if len(rx) > 0 {
		ts = append(ts, Transfer{Rx: rx, RxNBits: 1})
	}
	return d.bus.Transfer(ts)
}

func (d *Device) addr(addr uint32) []byte {
	if d.format.AddrSize == flash.Addr32 {
		return []byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)}
	}
	return flash.AddrBytes(addr)
}

// header returns the instruction, address and dummy segments of a data
// command
func (d *Device) header(op byte, o flash.Opcode, addr uint32) []Transfer {
	ts := []Transfer{
		{Tx: []byte{op}, TxNBits: uint8(d.format.Instruction)},
		{Tx: d.addr(addr), TxNBits: uint8(o.Address)},
	}
	if n := int(o.DummyCycles) * int(o.Address) / 8; n > 0 {
		ts = append(ts, Transfer{Tx: make([]byte, n), TxNBits: uint8(o.Address)})
	}
	return ts
}

func (d *Device) Read(req flash.Request, addr uint32, buf []byte) (int, error) {
	op, err := req.Resolve(d.format, false)
	if err != nil {
		return 0, err
	}
	o, _ := flash.LookupOpcode(op)

	read := 0
	for read < len(buf) {
		end := min(len(buf), read+maxMessage)
		segAddr := addr + uint32(read)
		ts := append(d.header(op, o, segAddr), Transfer{Rx: buf[read:end], RxNBits: uint8(o.Data)})
		if err := d.bus.Transfer(ts); err != nil {
			return read, errors.Wrapf(err, "%s @ %x", o.Name, segAddr)
		}
		read = end
	}
	return read, nil
}

// Write programs data page by page, waiting for the part between pages
func (d *Device) Write(req flash.Request, addr uint32, data []byte) (int, error) {
	op, err := req.Resolve(d.format, true)
	if err != nil {
		return 0, err
	}
	o, _ := flash.LookupOpcode(op)

	written := 0
	for written < len(data) {
		segAddr := addr + uint32(written)
		end := min(len(data), written+flash.PageSize-int(segAddr%flash.PageSize))

		if err := d.waitIdle(); err != nil {
			return written, err
		}
		if err := d.Transfer(flash.OpWriteEnable, nil, nil); err != nil {
			return written, errors.Wrap(err, "WREN")
		}
		ts := append(d.header(op, o, segAddr), Transfer{Tx: data[written:end], TxNBits: uint8(o.Data)})
		if err := d.bus.Transfer(ts); err != nil {
			return written, errors.Wrapf(err, "%s @ %x", o.Name, segAddr)
		}
		logrus.Debugf("spidev: %s %d @ %x", o.Name, end-written, segAddr)
		written = end
	}
	return written, nil
}

// waitIdle polls the status register until no operation is in progress
func (d *Device) waitIdle() error {
	sr := make([]byte, 1)
	for i := 0; i < d.config.PollCeiling; i++ {
		if err := d.Transfer(flash.OpReadStatus, nil, sr); err != nil {
			return errors.Wrap(err, "RDSR")
		}
		if sr[0]&flash.StatusWIP == 0 {
			return nil
		}
	}
	return flash.ErrNotReady
}
