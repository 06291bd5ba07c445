package validate

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"github.com/synthread/go-qspiflash/flash"
)

const kib = 1 << 10

var pattern = []byte{
	0x12, 0x23, 0x34, 0x45, 0x56, 0x67, 0x78, 0x89,
	0x10, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F, 0x2F,
}

// Scenario is one erase, program and read back check against a device
type Scenario struct {
	Name string
	Run  func(ctx context.Context, d *flash.Device) error
}

// Scenarios run under every bus format of the sweep
var Scenarios = []Scenario{
	{"WriteReadSimple", WriteReadSimple},
	{"WriteReadBlockMultiplePattern", WriteReadBlockMultiplePattern},
	{"WriteMultipleReadSingle", WriteMultipleReadSingle},
	{"WriteSingleReadMultiple", WriteSingleReadMultiple},
	{"EraseIdempotent", EraseIdempotent},
}

func eraseSector(ctx context.Context, d *flash.Device, addr uint32) error {
	if err := d.SectorErase(addr); err != nil {
		return err
	}
	return errors.Wrap(d.WaitReady(ctx), "device not ready after erase")
}

func write(ctx context.Context, d *flash.Device, req flash.Request, addr uint32, data []byte) error {
	if err := d.Write(req, addr, data); err != nil {
		return err
	}
	return errors.Wrap(d.WaitReady(ctx), "device not ready after write")
}

// readBack reads len(want) bytes at addr and compares them with want
func readBack(d *flash.Device, req flash.Request, addr uint32, want []byte) error {
	got := make([]byte, len(want))
	if err := d.Read(req, addr, got); err != nil {
		return err
	}
	return flash.Compare(addr, want, got)
}

// cycle erases the sector at addr, writes data with wr and reads it back
// with rd
func cycle(ctx context.Context, d *flash.Device, wr, rd flash.Request, addr uint32, data []byte) error {
	if err := eraseSector(ctx, d, addr); err != nil {
		return err
	}
	if err := write(ctx, d, wr, addr, data); err != nil {
		return err
	}
	return readBack(d, rd, addr, data)
}

// WriteReadSimple round trips 16 bytes at 0x1000
func WriteReadSimple(ctx context.Context, d *flash.Device) error {
	return cycle(ctx, d, flash.Request{}, flash.Request{}, 0x1000, pattern)
}

// WriteReadBlockMultiplePattern fills 1 KiB of each of 16 sectors from
// 0x2000 with a different pattern byte
func WriteReadBlockMultiplePattern(ctx context.Context, d *flash.Device) error {
	addr := uint32(0x2000)
	for i := 0; i < 16; i++ {
		data := bytes.Repeat([]byte{pattern[i]}, kib)
		if err := cycle(ctx, d, flash.Request{}, flash.Request{}, addr, data); err != nil {
			return errors.Wrapf(err, "block %d", i)
		}
		addr += flash.SectorSize
	}
	return nil
}

func quarters() []byte {
	data := make([]byte, 0, 4*kib)
	for i := 0; i < 4; i++ {
		data = append(data, bytes.Repeat([]byte{pattern[i]}, kib)...)
	}
	return data
}

// WriteMultipleReadSingle writes a sector as four 1 KiB programs and reads
// it back in one
func WriteMultipleReadSingle(ctx context.Context, d *flash.Device) error {
	const start = 0x2000
	data := quarters()

	if err := eraseSector(ctx, d, start); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		off := i * kib
		if err := write(ctx, d, flash.Request{}, start+uint32(off), data[off:off+kib]); err != nil {
			return err
		}
	}
	return readBack(d, flash.Request{}, start, data)
}

// WriteSingleReadMultiple writes a sector in one program and reads it back
// as four 1 KiB reads
func WriteSingleReadMultiple(ctx context.Context, d *flash.Device) error {
	const start = 0x2000
	data := quarters()

	if err := eraseSector(ctx, d, start); err != nil {
		return err
	}
	if err := write(ctx, d, flash.Request{}, start, data); err != nil {
		return err
	}

	got := make([]byte, len(data))
	for i := 0; i < 4; i++ {
		off := i * kib
		if err := d.Read(flash.Request{}, start+uint32(off), got[off:off+kib]); err != nil {
			return err
		}
	}
	return flash.Compare(start, data, got)
}

// EraseIdempotent erases a programmed sector twice and checks it reads
// back fully erased both times
func EraseIdempotent(ctx context.Context, d *flash.Device) error {
	const start = 0x3000
	erased := bytes.Repeat([]byte{0xff}, flash.SectorSize)

	if err := write(ctx, d, flash.Request{}, start, pattern); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if err := eraseSector(ctx, d, start); err != nil {
			return err
		}
		if err := readBack(d, flash.Request{}, start, erased); err != nil {
			return errors.Wrapf(err, "erase %d", i+1)
		}
	}
	return nil
}

// WriteReadCustomCommands programs with PP and reads back with the dual
// output and dual I/O read opcodes, whatever the configured format
func WriteReadCustomCommands(ctx context.Context, d *flash.Device) error {
	pp := flash.Request{Command: flash.Custom(flash.OpPageProgram)}
	for _, op := range []byte{flash.OpDualRead, flash.OpDualIORead} {
		rd := flash.Request{Command: flash.Custom(op)}
		if err := cycle(ctx, d, pp, rd, 0x1000, pattern); err != nil {
			return errors.Wrap(err, flash.OpName(op))
		}
	}
	return nil
}
