//go:build !linux

package spidev

import (
	"runtime"

	"github.com/pkg/errors"
)

func openBus(dev string) (bus, error) {
	return nil, errors.Errorf("spidev is not available on %s", runtime.GOOS)
}
