package flash

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/machinebox/progress"
	"github.com/pkg/errors"
)

var ProgressInterval = time.Second

// ProgramFile will program the requested file to the flash memory at the
// provided address
func (d *Device) ProgramFile(ctx context.Context, filePath string, addr uint32) error {
	bs, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return d.Program(ctx, addr, bs)
}

// EraseRange erases every sector overlapping [addr, addr+n), waiting for
// each erase to finish
func (d *Device) EraseRange(ctx context.Context, addr uint32, n int) error {
	if n <= 0 {
		return nil
	}
	base := SectorBase(addr)
	nsec := ceilDiv(addr+uint32(n)-base, SectorSize)
	for i := uint32(0); i < nsec; i++ {
		sec := base + i*SectorSize
		if err := d.SectorErase(sec); err != nil {
			return err
		}
		if err := d.WaitReady(ctx); err != nil {
			return errors.Wrapf(err, "erase @ %x", sec)
		}
	}
	return nil
}

// Program erases the sectors covering bs, writes it page by page at addr
// and reads it back
func (d *Device) Program(ctx context.Context, addr uint32, bs []byte) error {
	if err := d.EraseRange(ctx, addr, len(bs)); err != nil {
		return errors.Wrap(err, "could not erase memory")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := progress.NewReader(bytes.NewReader(bs))
	go func() {
		for p := range progress.NewTicker(ctx, r, int64(len(bs)), ProgressInterval) {
			d.log.Infof("programming %.1f%%, %v remaining", p.Percent(), p.Remaining().Round(time.Second))
		}
	}()

	page := make([]byte, PageSize)
	for offset := 0; offset < len(bs); {
		segAddr := addr + uint32(offset)
		// never cross a page boundary in one program
		n := min(len(bs)-offset, PageSize-int(segAddr%PageSize))

		if _, err := io.ReadFull(r, page[:n]); err != nil {
			return err
		}

		d.log.Debugf("wm: %d -> %d @ %x [l=%d]", offset, offset+n, segAddr, n)

		if err := d.Write(Request{}, segAddr, page[:n]); err != nil {
			return errors.Wrapf(err, "could not write page @ %x", segAddr)
		}
		if err := d.WaitReady(ctx); err != nil {
			return errors.Wrapf(err, "program @ %x", segAddr)
		}
		offset += n
	}

	return errors.Wrap(d.Verify(addr, bs), "verify")
}

// Verify reads len(bs) bytes at addr and compares them with bs
func (d *Device) Verify(addr uint32, bs []byte) error {
	got := make([]byte, len(bs))
	for offset := 0; offset < len(bs); offset += SectorSize {
		end := min(len(bs), offset+SectorSize)
		if err := d.Read(Request{}, addr+uint32(offset), got[offset:end]); err != nil {
			return err
		}
	}
	return Compare(addr, bs, got)
}
