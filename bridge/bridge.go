// Package bridge drives a QSPI flash through a bridge microcontroller on a
// UART. The bridge runs the vendor QSPI driver; this side only frames
// requests to it.
package bridge

import (
	"sync"
	"time"

	"github.com/piotrjaromin/gpio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var DefaultBaud = 115200
var DefaultTTY = "/dev/ttyACM0"

// BootDelay is how long the bridge needs after power is applied
var BootDelay = 200 * time.Millisecond

// Config defines configuration for communicating with the bridge
type Config struct {
	// PowerGPIO, when positive, is the GPIO switching power to the bridge
	// board. The bridge is power cycled on Open.
	PowerGPIO int

	Baud int
	TTY  string
}

// Bridge is an open connection to a bridge board. Handles created from it
// share the connection; requests are serialized.
type Bridge struct {
	config *Config

	pinPower gpio.Pin
	hasPower bool

	mu     sync.Mutex
	port   port
	ttyRx  chan byte
	done   chan struct{}
	rxDone chan struct{}
	active *Handle
}

// Open will power up the bridge if configured to, open its serial port and
// synchronize with it
func Open(c *Config) (*Bridge, error) {
	if c == nil {
		c = &Config{}
	}

	b := &Bridge{config: c}

	if c.PowerGPIO > 0 {
		if err := b.setupPins(); err != nil {
			return nil, errors.Wrap(err, "could not setup pins")
		}
		b.powerCycle()
	}

	p, err := serial.Open(b.TTY(), &serial.Mode{
		BaudRate: b.BaudRate(),
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		b.cleanupPins()
		return nil, errors.Wrap(err, "could not open serial")
	}

	if err := b.attach(p); err != nil {
		b.Close()
		return nil, err
	}

	logrus.Debug("bridge open")

	return b, nil
}

// attach starts the receive loop on p and syncs with the bridge firmware
func (b *Bridge) attach(p port) error {
	b.port = p
	b.ttyRx = make(chan byte, 64)
	b.done = make(chan struct{})
	b.rxDone = make(chan struct{})
	if err := p.SetReadTimeout(time.Millisecond); err != nil {
		return errors.Wrap(err, "could not set read timeout")
	}
	go b.rx(p, b.done, b.rxDone)

	return errors.Wrap(b.cmdSync(), "could not sync bridge")
}

func (b *Bridge) setupPins() (err error) {
	b.pinPower, err = gpio.NewOutput(uint(b.config.PowerGPIO), true)
	b.hasPower = err == nil
	return
}

func (b *Bridge) cleanupPins() {
	if b.hasPower {
		b.pinPower.Cleanup()
		b.hasPower = false
	}
}

// powerCycle removes power from the bridge and waits for it to boot again
func (b *Bridge) powerCycle() {
	b.pinPower.Low()
	time.Sleep(10 * time.Millisecond)
	b.pinPower.High()
	time.Sleep(BootDelay)
}

// TTY will return the TTY that will be used
func (b *Bridge) TTY() string {
	if b.config.TTY != "" {
		return b.config.TTY
	}
	return DefaultTTY
}

// BaudRate will return the baud rate used to connect to the TTY
func (b *Bridge) BaudRate() int {
	if b.config.Baud > 0 {
		return b.config.Baud
	}
	return DefaultBaud
}

// Close will close the connection; the bridge keeps its power
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.port != nil {
		close(b.done)
		err = b.port.Close()
		b.port = nil
	}
	b.cleanupPins()

	logrus.Debug("bridge close")

	return err
}

// IsOpen reports whether the serial port is still attached
func (b *Bridge) IsOpen() bool {
	return b.port != nil
}
