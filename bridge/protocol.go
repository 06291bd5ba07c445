package bridge

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/synthread/go-qspiflash/flash"
)

const bACK byte = 0x79
const bNACK byte = 0x1f
const bSYNC byte = 0x7f

// blockMax is the largest read or write payload in one request
const blockMax = 256

var Timeout = 2 * time.Second

var ErrFailedToAck = errors.New("failed to read ack or nack from bridge")
var ErrNACK = errors.New("received nack from bridge")

type commandCode byte

const (
	cmdConfigure commandCode = 0x10
	cmdTransfer  commandCode = 0x11
	cmdWrite     commandCode = 0x12
	cmdRead      commandCode = 0x13
)

const flagCustom byte = 0x01

// commandSequence will return the byte sequence that starts command c
func commandSequence(c commandCode) []byte {
	return []byte{byte(c), 0xff ^ byte(c)}
}

// checksum will create a XOR-based checksum of the provided data
func checksum(bs []byte) byte {
	var s byte
	for _, c := range bs {
		s ^= c
	}
	return s
}

// withChecksum returns bs followed by its checksum
func withChecksum(bs []byte) []byte {
	return append(bs, checksum(bs))
}

// withNAndChecksum returns bs prefixed with its length minus one and
// suffixed with the checksum of the entire message
func withNAndChecksum(bs []byte) []byte {
	n := byte(len(bs) - 1)
	return withChecksum(append([]byte{n}, bs...))
}

// readAckOrNack reads whether the pending byte is ACK, NACK, or neither
func (b *Bridge) readAckOrNack() error {
	bs, err := b.readN(1, Timeout)
	if err != nil {
		return err
	}

	switch bs[0] {
	case bACK:
		return nil
	case bNACK:
		return ErrNACK
	}

	return ErrFailedToAck
}

// execCmd will start the specified command and check that it is ACK'd
func (b *Bridge) execCmd(c commandCode) error {
	if err := b.write(commandSequence(c)); err != nil {
		return err
	}
	return b.readAckOrNack()
}

// request runs command c with header frame hdr. The bridge acks the frame,
// then reports the status of the flash transaction.
func (b *Bridge) request(c commandCode, hdr []byte) error {
	if err := b.execCmd(c); err != nil {
		return errors.Wrap(err, "err exec cmd")
	}
	if err := b.write(withChecksum(hdr)); err != nil {
		return errors.Wrap(err, "err writing header")
	}
	if err := b.readAckOrNack(); err != nil {
		return errors.Wrap(err, "header ack fail")
	}
	return nil
}

// cmdSync will sync the bridge
func (b *Bridge) cmdSync() error {
	if err := b.write([]byte{bSYNC}); err != nil {
		return err
	}
	return b.readAckOrNack()
}

func (b *Bridge) cmdConfigure(f flash.Format) error {
	hdr := []byte{
		byte(f.Instruction), byte(f.Address), byte(f.AddrSize),
		byte(f.Alt), f.AltSize, byte(f.Data), f.DummyCycles, 0,
	}
	if err := b.request(cmdConfigure, hdr); err != nil {
		return err
	}
	return errors.Wrap(b.readAckOrNack(), "configure")
}

func (b *Bridge) cmdTransfer(op byte, tx, rx []byte) error {
	if len(tx) > 0xff || len(rx) > 0xff {
		return errors.Errorf("transfer too long: tx %d rx %d", len(tx), len(rx))
	}
	hdr := append([]byte{op, byte(len(tx)), byte(len(rx))}, tx...)
	if err := b.request(cmdTransfer, hdr); err != nil {
		return err
	}
	if err := b.readAckOrNack(); err != nil {
		return errors.Wrapf(err, "transfer %s", flash.OpName(op))
	}
	if len(rx) == 0 {
		return nil
	}
	bs, err := b.readN(len(rx), Timeout)
	if err != nil {
		return err
	}
	copy(rx, bs)
	return nil
}

func dataHeader(req flash.Request, addr uint32) []byte {
	op, custom := req.Command.Opcode()
	var flags byte
	if custom {
		flags |= flagCustom
	}
	hdr := []byte{flags, op, req.Alt, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(hdr[3:], addr)
	return hdr
}

// cmdWrite will write at most blockMax bytes at addr
func (b *Bridge) cmdWrite(req flash.Request, addr uint32, data []byte) error {
	if err := b.request(cmdWrite, dataHeader(req, addr)); err != nil {
		return err
	}
	if err := b.write(withNAndChecksum(data)); err != nil {
		return errors.Wrap(err, "err writing data")
	}
	return errors.Wrap(b.readAckOrNack(), "err ack after write data")
}

// cmdRead will read at most blockMax bytes at addr into buf
func (b *Bridge) cmdRead(req flash.Request, addr uint32, buf []byte) error {
	hdr := append(dataHeader(req, addr), byte(len(buf)-1))
	if err := b.request(cmdRead, hdr); err != nil {
		return err
	}
	if err := b.readAckOrNack(); err != nil {
		return errors.Wrap(err, "err ack before read data")
	}
	bs, err := b.readN(len(buf), Timeout)
	if err != nil {
		return err
	}
	copy(buf, bs)
	return nil
}
