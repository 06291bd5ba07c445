package flash

import (
	"github.com/pkg/errors"
)

// exec will run a single command transfer and record it
func (d *Device) exec(op byte, tx, rx []byte) error {
	d.config.Metrics.command(op)
	if err := d.t.Transfer(op, tx, rx); err != nil {
		d.config.Metrics.transportError(op)
		return errors.Wrap(err, OpName(op))
	}
	d.log.Debugf("%s tx: %x rx: %x", OpName(op), tx, rx)
	return nil
}

// Initialize brings the part into a known state: it reads the status
// register, resets the part and writes the status back with quad enable set.
// Any failure aborts the remaining steps; nothing is rolled back.
func (d *Device) Initialize() error {
	status, err := d.ReadStatus()
	if err != nil {
		d.log.Error("reading status register failed")
		return errors.Wrap(err, "could not read status register")
	}

	if err := d.exec(OpResetEnable, nil, nil); err != nil {
		d.log.Error("sending reset enable failed")
		return errors.Wrap(err, "could not enable reset")
	}

	// the response to RST carries nothing useful
	discard := make([]byte, 2)
	if err := d.exec(OpReset, nil, discard); err != nil {
		d.log.Error("sending reset failed")
		return errors.Wrap(err, "could not reset")
	}

	if err := d.WriteStatus([]byte{status[0] | StatusQE}); err != nil {
		d.log.Error("writing status register failed")
		return errors.Wrap(err, "could not set quad enable")
	}

	d.log.Debugf("initialized, status was %x", status)
	return nil
}

// ReadStatus will return the two status bytes
func (d *Device) ReadStatus() ([2]byte, error) {
	var status [2]byte
	err := d.exec(OpReadStatus, nil, status[:])
	return status, err
}

// WriteEnable sets the write enable latch. The part clears it again after
// every modifying command.
func (d *Device) WriteEnable() error {
	return d.exec(OpWriteEnable, nil, nil)
}

// WriteStatus will write sr to the status register
func (d *Device) WriteStatus(sr []byte) error {
	if err := d.WriteEnable(); err != nil {
		return err
	}
	return d.exec(OpWriteStatus, sr, nil)
}

// ReadControl will return the two control register bytes
func (d *Device) ReadControl() ([2]byte, error) {
	var cr [2]byte
	err := d.exec(OpReadControl, nil, cr[:])
	return cr, err
}

// WriteControl will write cr to the control register
func (d *Device) WriteControl(cr []byte) error {
	if err := d.WriteEnable(); err != nil {
		return err
	}
	return d.exec(OpWriteControl, cr, nil)
}

// ReadID will return the 24-bit JEDEC manufacturer and device id
func (d *Device) ReadID() (uint32, error) {
	id := make([]byte, 3)
	if err := d.exec(OpReadID, nil, id); err != nil {
		return 0, err
	}
	return uint32(id[0])<<16 | uint32(id[1])<<8 | uint32(id[2]), nil
}

// SectorErase starts erasing the sector containing addr. It does not wait
// for the erase to finish and does not check addr against the part's size.
func (d *Device) SectorErase(addr uint32) error {
	if err := d.WriteEnable(); err != nil {
		d.log.Error("sending write enable failed")
		return errors.Wrap(err, "could not enable write")
	}

	if err := d.exec(OpSectorErase, AddrBytes(addr), nil); err != nil {
		d.log.Errorf("sector erase @ %x failed", addr)
		return errors.Wrapf(err, "could not erase sector @ %x", addr)
	}

	return nil
}
