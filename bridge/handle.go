package bridge

import (
	"github.com/pkg/errors"

	"github.com/synthread/go-qspiflash/flash"
)

// Handle is one QSPI driver object on the bridge. Each handle keeps its own
// bus format, which is loaded into the bridge whenever the handle issuing
// a request changes.
type Handle struct {
	b      *Bridge
	format flash.Format
}

// Handle returns a new driver object configured for 1_1_1
func (b *Bridge) Handle() *Handle {
	return &Handle{b: b, format: flash.Format111}
}

// load makes h's format the active one. Must hold b.mu.
func (h *Handle) load() error {
	if h.b.active == h {
		return nil
	}
	if err := h.b.cmdConfigure(h.format); err != nil {
		return errors.Wrapf(err, "could not load format %s", h.format)
	}
	h.b.active = h
	return nil
}

func (h *Handle) Configure(f flash.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	if err := h.b.cmdConfigure(f); err != nil {
		return err
	}
	h.format = f
	h.b.active = h
	return nil
}

func (h *Handle) Transfer(op byte, tx, rx []byte) error {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	if err := h.load(); err != nil {
		return err
	}
	return h.b.cmdTransfer(op, tx, rx)
}

func (h *Handle) Write(req flash.Request, addr uint32, data []byte) (int, error) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	if err := h.load(); err != nil {
		return 0, err
	}

	written := 0
	for written < len(data) {
		end := min(len(data), written+blockMax)
		segAddr := addr + uint32(written)
		if err := h.b.cmdWrite(req, segAddr, data[written:end]); err != nil {
			return written, errors.Wrapf(err, "could not write block @ %x", segAddr)
		}
		written = end
	}
	return written, nil
}

func (h *Handle) Read(req flash.Request, addr uint32, buf []byte) (int, error) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()

	if err := h.load(); err != nil {
		return 0, err
	}

	read := 0
	for read < len(buf) {
		end := min(len(buf), read+blockMax)
		segAddr := addr + uint32(read)
		if err := h.b.cmdRead(req, segAddr, buf[read:end]); err != nil {
			return read, errors.Wrapf(err, "could not read block @ %x", segAddr)
		}
		read = end
	}
	return read, nil
}
