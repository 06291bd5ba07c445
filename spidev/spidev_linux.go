package spidev

import (
	"encoding/binary"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// See Linux "include/uapi/linux/spi/spidev.h" and
// "Documentation/spi/spidev.rst"

const (
	iocWrMaxSpeedHz = 0x40046b04
	iocRdMode32     = 0x80046b05
	iocWrMode32     = 0x40046b05
)

// iocMessage is an ioctl number for n Transfers.
func iocMessage(n int) uint32 {
	const (
		sizeBits  = 14
		sizeShift = 16
	)
	size := uint32(n * binary.Size(iocTransfer{}))
	if n < 0 || size > (1<<sizeBits) {
		return iocMessage(0)
	}
	return 0x40006b00 | (size << sizeShift)
}

// iocTransfer is the data type used by the iocMessage ioctl. Multiple such
// transfers may be chained together in a single ioctl call.
type iocTransfer struct {
	TxBuf          uint64
	RxBuf          uint64
	Length         uint32
	SpeedHz        uint32
	DelayUsecs     uint16
	BitsPerWord    uint8
	CSChange       uint8
	TxNBits        uint8
	RxNBits        uint8
	WordDelayUsecs uint8
	Pad            uint8
}

// file is an open spidev character device
type file struct {
	f *os.File
}

func openBus(dev string) (bus, error) {
	f, err := os.OpenFile(dev, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &file{f: f}, nil
}

func (s *file) Close() error {
	return s.f.Close()
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

func (s *file) Transfer(transfers []Transfer) error {
	if len(transfers) == 0 {
		return nil
	}

	// Copy data into unmanaged buffer because the garbage collector may move
	// pointers at any time.
	var bufSize = 0
	for _, t := range transfers {
		if len(t.Tx) != len(t.Rx) && (len(t.Tx) == 0) == (len(t.Rx) == 0) {
			return errors.New("rx/tx lengths must equal, or one length is zero")
		}
		bufSize += len(t.Tx) + len(t.Rx)
	}
	buf, err := unix.Mmap(-1, 0, bufSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return err
	}
	defer unix.Munmap(buf)

	var it []iocTransfer
	var bufOffset = 0
	for _, t := range transfers {
		var csChange uint8
		if t.CSChange {
			csChange = 1
		}
		copy(buf[bufOffset:], t.Tx)
		length := len(t.Tx)
		if length == 0 {
			length = len(t.Rx)
		}
		x := iocTransfer{
			Length:      uint32(length),
			SpeedHz:     t.SpeedHz,
			BitsPerWord: 8,
			CSChange:    csChange,
			TxNBits:     t.TxNBits,
			RxNBits:     t.RxNBits,
		}
		if len(t.Tx) > 0 {
			x.TxBuf = uint64(uintptr(unsafe.Pointer(&buf[bufOffset])))
		}
		if len(t.Rx) > 0 {
			x.RxBuf = uint64(uintptr(unsafe.Pointer(&buf[bufOffset+len(t.Tx)])))
		}
		it = append(it, x)
		bufOffset += len(t.Tx) + len(t.Rx)
	}

	if err := ioctl(s.f.Fd(), uintptr(iocMessage(len(transfers))), unsafe.Pointer(&it[0])); err != nil {
		return errors.Wrap(err, "spi message")
	}

	// Copy out rx.
	bufOffset = 0
	for _, t := range transfers {
		copy(t.Rx, buf[bufOffset+len(t.Tx):])
		bufOffset += len(t.Tx) + len(t.Rx)
	}

	return nil
}

func (s *file) Mode() (Mode, error) {
	var m Mode
	err := ioctl(s.f.Fd(), iocRdMode32, unsafe.Pointer(&m))
	return m, err
}

func (s *file) SetMode(m Mode) error {
	return ioctl(s.f.Fd(), iocWrMode32, unsafe.Pointer(&m))
}

// SetSpeedHz sets the default transfer speed.
func (s *file) SetSpeedHz(hz uint32) error {
	return ioctl(s.f.Fd(), iocWrMaxSpeedHz, unsafe.Pointer(&hz))
}
