package flash_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/pkg/errors"

	"github.com/synthread/go-qspiflash/flash"
	"github.com/synthread/go-qspiflash/flash/sim"
)

func newSimDevice(c *qt.C) (*flash.Device, *sim.Chip) {
	chip := sim.New(sim.WithSize(64 << 10))
	d, err := flash.NewDevice(chip.Port(), nil)
	c.Assert(err, qt.IsNil)
	return d, chip
}

func TestSimpleRoundTrip(t *testing.T) {
	c := qt.New(t)
	d, _ := newSimDevice(c)
	ctx := context.Background()

	data := []byte{0x12, 0x23, 0x34, 0x45, 0x56, 0x67, 0x78, 0x89,
		0x10, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F, 0x2F}

	for _, f := range []flash.Format{flash.Format111, flash.Format114, flash.Format144} {
		c.Run(f.String(), func(c *qt.C) {
			c.Assert(d.Configure(f), qt.IsNil)
			c.Assert(d.Initialize(), qt.IsNil)
			c.Assert(d.WaitReady(ctx), qt.IsNil)

			c.Assert(d.SectorErase(0x1000), qt.IsNil)
			c.Assert(d.WaitReady(ctx), qt.IsNil)
			c.Assert(d.Write(flash.Request{}, 0x1000, data), qt.IsNil)
			c.Assert(d.WaitReady(ctx), qt.IsNil)

			got := make([]byte, len(data))
			c.Assert(d.Read(flash.Request{}, 0x1000, got), qt.IsNil)
			c.Assert(got, qt.DeepEquals, data)
		})
	}
}

func TestInitializeSetsQE(t *testing.T) {
	c := qt.New(t)
	d, chip := newSimDevice(c)

	c.Assert(d.Configure(flash.Format144), qt.IsNil)
	err := d.Read(flash.Request{}, 0, make([]byte, 4))
	c.Assert(err, qt.ErrorIs, flash.ErrQuadDisabled)

	c.Assert(d.Initialize(), qt.IsNil)
	c.Assert(d.WaitReady(context.Background()), qt.IsNil)
	c.Assert(chip.Status()&flash.StatusQE, qt.Equals, flash.StatusQE)
	c.Assert(d.Read(flash.Request{}, 0, make([]byte, 4)), qt.IsNil)
}

func TestInitializeStatusFault(t *testing.T) {
	c := qt.New(t)
	d, chip := newSimDevice(c)

	chip.Fault(flash.OpReadStatus, 1)
	err := d.Initialize()
	c.Assert(err, qt.ErrorIs, sim.ErrInjected)
	c.Assert(chip.Status()&flash.StatusQE, qt.Equals, byte(0))
}

func TestWaitReadyThroughErrors(t *testing.T) {
	c := qt.New(t)
	d, chip := newSimDevice(c)

	c.Assert(d.SectorErase(0), qt.IsNil)
	chip.Fault(flash.OpReadStatus, 2)
	c.Assert(d.WaitReady(context.Background()), qt.IsNil)
}

func TestProgram(t *testing.T) {
	c := qt.New(t)
	d, chip := newSimDevice(c)

	data := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef, 0x00}, 1000)
	c.Assert(d.Program(context.Background(), 0x10f0, data), qt.IsNil)
	c.Assert(chip.Snapshot(0x10f0, len(data)), qt.DeepEquals, data)

	// the erased remainder of the first sector is untouched
	c.Assert(chip.Snapshot(0x1000, 0xf0), qt.DeepEquals, bytes.Repeat([]byte{0xff}, 0xf0))
}

func TestProgramOverwrites(t *testing.T) {
	c := qt.New(t)
	d, chip := newSimDevice(c)
	ctx := context.Background()

	c.Assert(d.Program(ctx, 0x2000, bytes.Repeat([]byte{0x0f}, 512)), qt.IsNil)
	c.Assert(d.Program(ctx, 0x2000, bytes.Repeat([]byte{0xf0}, 512)), qt.IsNil)
	c.Assert(chip.Snapshot(0x2000, 512), qt.DeepEquals, bytes.Repeat([]byte{0xf0}, 512))
}

func TestVerifyMismatch(t *testing.T) {
	c := qt.New(t)
	d, _ := newSimDevice(c)

	err := d.Verify(0x3000, []byte{0xff, 0xff, 0x00})
	var mm *flash.MismatchError
	c.Assert(errors.As(err, &mm), qt.IsTrue)
	c.Assert(mm.Offset, qt.Equals, 2)
	c.Assert(mm.Got, qt.Equals, byte(0xff))
}

func TestProgramFile(t *testing.T) {
	c := qt.New(t)
	d, chip := newSimDevice(c)

	path := filepath.Join(c.TempDir(), "image.bin")
	data := bytes.Repeat([]byte("qspi"), 300)
	c.Assert(os.WriteFile(path, data, 0644), qt.IsNil)

	c.Assert(d.ProgramFile(context.Background(), path, 0x4000), qt.IsNil)
	c.Assert(chip.Snapshot(0x4000, len(data)), qt.DeepEquals, data)

	err := d.ProgramFile(context.Background(), filepath.Join(c.TempDir(), "missing"), 0)
	c.Assert(errors.Is(err, os.ErrNotExist), qt.IsTrue)
}

func TestEraseRange(t *testing.T) {
	c := qt.New(t)
	d, chip := newSimDevice(c)
	ctx := context.Background()

	c.Assert(d.Write(flash.Request{}, 0x0ff0, make([]byte, 0x20)), qt.IsNil)
	c.Assert(d.WaitReady(ctx), qt.IsNil)
	c.Assert(d.EraseRange(ctx, 0x0fff, 2), qt.IsNil)
	c.Assert(chip.Snapshot(0x0ff0, 0x20), qt.DeepEquals, bytes.Repeat([]byte{0xff}, 0x20))

	c.Assert(d.EraseRange(ctx, 0x1000, 0), qt.IsNil)
}
