package flash

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/jmhodges/clock"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

var errBus = errors.New("bus error")

type call struct {
	op byte
	tx []byte
}

// scripted is a Transport that records every command and answers them from
// per-opcode handlers
type scripted struct {
	calls    []call
	status   []byte
	fail     map[byte]error
	format   Format
	response map[byte][]byte
}

func newScripted(status ...byte) *scripted {
	return &scripted{
		status:   status,
		fail:     map[byte]error{},
		response: map[byte][]byte{},
	}
}

func (s *scripted) ops() []byte {
	var ops []byte
	for _, c := range s.calls {
		ops = append(ops, c.op)
	}
	return ops
}

func (s *scripted) Configure(f Format) error {
	s.format = f
	return nil
}

func (s *scripted) Transfer(op byte, tx, rx []byte) error {
	s.calls = append(s.calls, call{op: op, tx: append([]byte(nil), tx...)})
	if err := s.fail[op]; err != nil {
		return err
	}
	if op == OpReadStatus && len(s.status) > 0 {
		for i := range rx {
			rx[i] = s.status[0]
		}
		if len(s.status) > 1 {
			s.status = s.status[1:]
		}
		return nil
	}
	copy(rx, s.response[op])
	return nil
}

func (s *scripted) Write(req Request, addr uint32, data []byte) (int, error) {
	return len(data), nil
}

func (s *scripted) Read(req Request, addr uint32, buf []byte) (int, error) {
	return len(buf) / 2, nil
}

func newTestDevice(c *qt.C, t Transport, conf *Config) *Device {
	if conf == nil {
		conf = &Config{}
	}
	if conf.Logger == nil {
		l, _ := test.NewNullLogger()
		conf.Logger = l
	}
	d, err := NewDevice(t, conf)
	c.Assert(err, qt.IsNil)
	return d
}

func TestNewDeviceDefaults(t *testing.T) {
	c := qt.New(t)

	_, err := NewDevice(nil, nil)
	c.Assert(err, qt.ErrorMatches, "transport is nil")

	d, err := NewDevice(newScripted(), nil)
	c.Assert(err, qt.IsNil)
	c.Assert(d.Name(), qt.Equals, "qspi0")
	c.Assert(d.config.PollCeiling, qt.Equals, DefaultPollCeiling)
	c.Assert(d.Format(), qt.Equals, Format111)
}

func TestInitializeSequence(t *testing.T) {
	c := qt.New(t)
	s := newScripted(0x0c)
	d := newTestDevice(c, s, nil)

	c.Assert(d.Initialize(), qt.IsNil)
	c.Assert(s.ops(), qt.DeepEquals, []byte{
		OpReadStatus, OpResetEnable, OpReset, OpWriteEnable, OpWriteStatus,
	})
	c.Assert(s.calls[4].tx, qt.DeepEquals, []byte{0x0c | StatusQE})
}

func TestInitializeKeepsQE(t *testing.T) {
	c := qt.New(t)
	s := newScripted(StatusQE)
	d := newTestDevice(c, s, nil)

	c.Assert(d.Initialize(), qt.IsNil)
	c.Assert(s.calls[len(s.calls)-1].tx, qt.DeepEquals, []byte{StatusQE})
}

func TestInitializeFailFast(t *testing.T) {
	tests := []struct {
		name string
		fail byte
		ops  []byte
		msg  string
	}{{
		name: "status",
		fail: OpReadStatus,
		ops:  []byte{OpReadStatus},
		msg:  "could not read status register: RDSR: bus error",
	}, {
		name: "reset enable",
		fail: OpResetEnable,
		ops:  []byte{OpReadStatus, OpResetEnable},
		msg:  "could not enable reset: RSTEN: bus error",
	}, {
		name: "reset",
		fail: OpReset,
		ops:  []byte{OpReadStatus, OpResetEnable, OpReset},
		msg:  "could not reset: RST: bus error",
	}, {
		name: "write status",
		fail: OpWriteStatus,
		ops:  []byte{OpReadStatus, OpResetEnable, OpReset, OpWriteEnable, OpWriteStatus},
		msg:  "could not set quad enable: WRSR: bus error",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			s := newScripted(0)
			s.fail[tt.fail] = errBus
			d := newTestDevice(c, s, nil)

			err := d.Initialize()
			c.Assert(err, qt.ErrorMatches, tt.msg)
			c.Assert(errors.Is(err, errBus), qt.IsTrue)
			c.Assert(s.ops(), qt.DeepEquals, tt.ops)
		})
	}
}

func TestWaitReady(t *testing.T) {
	c := qt.New(t)
	s := newScripted(StatusWIP, StatusWIP, StatusWIP, 0)
	d := newTestDevice(c, s, nil)

	c.Assert(d.WaitReady(context.Background()), qt.IsNil)
	c.Assert(s.calls, qt.HasLen, 4)
}

func TestWaitReadyCeiling(t *testing.T) {
	c := qt.New(t)
	s := newScripted(StatusWIP)
	d := newTestDevice(c, s, &Config{PollCeiling: 50})

	err := d.WaitReady(context.Background())
	c.Assert(err, qt.ErrorIs, ErrNotReady)
	c.Assert(err, qt.ErrorMatches, "after 50 polls: flash did not become ready")
	c.Assert(s.calls, qt.HasLen, 50)
}

func TestWaitReadyContinuesOnReadError(t *testing.T) {
	c := qt.New(t)
	s := newScripted(0)
	s.fail[OpReadStatus] = errBus
	l, hook := test.NewNullLogger()
	d := newTestDevice(c, s, &Config{PollCeiling: 5, Logger: l})

	// the status starts out busy, so errors alone never report ready
	err := d.WaitReady(context.Background())
	c.Assert(err, qt.ErrorIs, ErrNotReady)
	c.Assert(err, qt.ErrorMatches, "after 5 polls, last error: RDSR: bus error: flash did not become ready")
	c.Assert(s.calls, qt.HasLen, 5)

	var failures int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Message == "reading status register failed" {
			failures++
		}
	}
	c.Assert(failures, qt.Equals, 5)
}

func TestWaitReadyFailFast(t *testing.T) {
	c := qt.New(t)
	s := newScripted(0)
	s.fail[OpReadStatus] = errBus
	d := newTestDevice(c, s, &Config{PollFailFast: true})

	err := d.WaitReady(context.Background())
	c.Assert(err, qt.ErrorMatches, "could not poll status: RDSR: bus error")
	c.Assert(s.calls, qt.HasLen, 1)
}

func TestWaitReadyContext(t *testing.T) {
	c := qt.New(t)
	s := newScripted(StatusWIP)
	d := newTestDevice(c, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.WaitReady(ctx)
	c.Assert(err, qt.ErrorIs, context.Canceled)
	c.Assert(s.calls, qt.HasLen, 0)
}

func TestWaitReadyBackoff(t *testing.T) {
	c := qt.New(t)
	s := newScripted(StatusWIP, StatusWIP, StatusWIP, 0)
	clk := clock.NewFake()
	start := clk.Now()
	d := newTestDevice(c, s, &Config{
		Clock:       clk,
		PollBackoff: &backoff.Backoff{Min: time.Millisecond, Max: 4 * time.Millisecond, Factor: 2},
	})

	c.Assert(d.WaitReady(context.Background()), qt.IsNil)
	// 1ms + 2ms + 4ms between the four reads
	c.Assert(clk.Now().Sub(start), qt.Equals, 7*time.Millisecond)

	// every wait starts from the minimum delay again
	s.status = []byte{StatusWIP, 0}
	start = clk.Now()
	c.Assert(d.WaitReady(context.Background()), qt.IsNil)
	c.Assert(clk.Now().Sub(start), qt.Equals, time.Millisecond)
}

func TestSectorErase(t *testing.T) {
	c := qt.New(t)
	s := newScripted()
	d := newTestDevice(c, s, nil)

	c.Assert(d.SectorErase(0x123456), qt.IsNil)
	c.Assert(s.ops(), qt.DeepEquals, []byte{OpWriteEnable, OpSectorErase})
	c.Assert(s.calls[1].tx, qt.DeepEquals, []byte{0x12, 0x34, 0x56})

	// only the low 24 bits are sent
	c.Assert(d.SectorErase(0xff001000), qt.IsNil)
	c.Assert(s.calls[3].tx, qt.DeepEquals, []byte{0x00, 0x10, 0x00})
}

func TestSectorEraseFailFast(t *testing.T) {
	c := qt.New(t)
	s := newScripted()
	s.fail[OpWriteEnable] = errBus
	d := newTestDevice(c, s, nil)

	err := d.SectorErase(0x1000)
	c.Assert(err, qt.ErrorMatches, "could not enable write: WREN: bus error")
	c.Assert(s.ops(), qt.DeepEquals, []byte{OpWriteEnable})
}

func TestReadID(t *testing.T) {
	c := qt.New(t)
	s := newScripted()
	s.response[OpReadID] = []byte{0xc2, 0x28, 0x17}
	d := newTestDevice(c, s, nil)

	id, err := d.ReadID()
	c.Assert(err, qt.IsNil)
	c.Assert(id, qt.Equals, uint32(0xc22817))
}

func TestShortRead(t *testing.T) {
	c := qt.New(t)
	d := newTestDevice(c, newScripted(), nil)

	err := d.Read(Request{}, 0x10, make([]byte, 8))
	var short *ShortTransferError
	c.Assert(errors.As(err, &short), qt.IsTrue)
	c.Assert(short.Got, qt.Equals, 4)
	c.Assert(err, qt.ErrorMatches, "short read @ 10: 4 of 8 bytes")
}

func TestMetrics(t *testing.T) {
	c := qt.New(t)
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	s := newScripted(StatusWIP)
	s.fail[OpWriteEnable] = errBus
	d := newTestDevice(c, s, &Config{PollCeiling: 3, Metrics: m})

	c.Assert(d.WaitReady(context.Background()), qt.ErrorIs, ErrNotReady)
	c.Assert(d.SectorErase(0), qt.Not(qt.IsNil))

	c.Assert(testutil.ToFloat64(m.Commands.WithLabelValues("RDSR")), qt.Equals, 3.0)
	c.Assert(testutil.ToFloat64(m.Commands.WithLabelValues("WREN")), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.TransportErrors.WithLabelValues("WREN")), qt.Equals, 1.0)
	c.Assert(testutil.ToFloat64(m.ReadyTimeouts), qt.Equals, 1.0)
	c.Assert(testutil.CollectAndCount(m.ReadyPolls), qt.Equals, 1)
}
