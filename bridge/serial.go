package bridge

import (
	"io"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

var ErrTimeout = errors.New("timed out reading from bridge")
var ErrClosed = errors.New("serial port is closed")

// port is the part of serial.Port the bridge uses
type port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// rx is the loop that will read from the port and write the incoming bytes
// to the rx chan until the port is closed or done is
func (b *Bridge) rx(p port, done <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	buf := make([]byte, 64)

	for {
		n, err := p.Read(buf)
		if err != nil {

			// don't write out if we're just complaining about it being closed
			if perr, ok := err.(*serial.PortError); ok {
				if perr.Code() == serial.PortClosed {
					return
				}
			}

			if errors.Is(err, syscall.EBADF) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.EOF) {
				return
			}

			logrus.Error("rx err: ", err.Error())
			return
		}

		for _, c := range buf[:n] {
			select {
			case b.ttyRx <- c:
			case <-done:
				return
			}
		}
		if n > 0 {
			logrus.Debugf("bridge rx: %x", buf[:n])
		}
	}
}

// write will write the specified frames to the bridge
func (b *Bridge) write(bs ...[]byte) (err error) {
	if !b.IsOpen() {
		return ErrClosed
	}

	if len(bs) == 0 {
		panic("must provide at least one []byte")
	}

	for _, f := range bs {
		_, err = b.port.Write(f)
		if err != nil {
			return
		}
		logrus.Debugf("bridge tx: %x", f)
	}

	return
}

// readN will read exactly N bytes from the rx chan
func (b *Bridge) readN(n int, to time.Duration) ([]byte, error) {
	if !b.IsOpen() {
		return nil, ErrClosed
	}

	bs := make([]byte, n)

	for i := 0; i < n; i++ {
		select {
		case <-time.After(to):
			return nil, ErrTimeout
		case c := <-b.ttyRx:
			bs[i] = c
		}
	}

	return bs, nil
}
