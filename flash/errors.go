package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

var ErrNotReady = errors.New("flash did not become ready")

// ShortTransferError reports a read or write that moved fewer bytes than asked
type ShortTransferError struct {
	Op   string
	Addr uint32
	Want int
	Got  int
}

func (e *ShortTransferError) Error() string {
	return fmt.Sprintf("short %s @ %x: %d of %d bytes", e.Op, e.Addr, e.Got, e.Want)
}

// MismatchError reports read back data that differs from what was written
type MismatchError struct {
	Addr   uint32
	Offset int
	Want   byte
	Got    byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("buffer contents are invalid @ %x: want %02x, got %02x",
		e.Addr+uint32(e.Offset), e.Want, e.Got)
}

// Compare returns a *MismatchError for the first byte where got differs from
// want, or nil when they are equal
func Compare(addr uint32, want, got []byte) error {
	n := min(len(want), len(got))
	for i := 0; i < n; i++ {
		if want[i] != got[i] {
			return &MismatchError{Addr: addr, Offset: i, Want: want[i], Got: got[i]}
		}
	}
	if len(want) != len(got) {
		return &ShortTransferError{Op: "compare", Addr: addr, Want: len(want), Got: len(got)}
	}
	return nil
}
