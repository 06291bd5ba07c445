package flash

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// AddrBytes encodes the low 24 bits of addr big-endian, as sent after an
// address-bearing opcode
func AddrBytes(addr uint32) []byte {
	return []byte{byte(addr >> 16), byte(addr >> 8), byte(addr)}
}

// SectorBase returns the start of the sector containing addr
func SectorBase(addr uint32) uint32 {
	return addr &^ (SectorSize - 1)
}

// min will return the minimum of the two values
func min[T constraints.Ordered](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// ceilDiv returns a/b rounded up
func ceilDiv[T constraints.Integer](a, b T) T {
	return (a + b - 1) / b
}

func hexByte(b byte) string {
	return fmt.Sprintf("0x%02X", b)
}
