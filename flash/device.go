package flash

import (
	"github.com/jmhodges/clock"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var DefaultPollCeiling = 10000

// Config defines how a Device sequences commands against its transport
type Config struct {
	// Name identifies the device in logs
	Name string

	// PollCeiling bounds the number of status reads in WaitReady
	PollCeiling int
	// PollFailFast makes WaitReady return the first transport error instead
	// of polling on until the ceiling
	PollFailFast bool
	// PollBackoff, when set, is the delay between status reads
	PollBackoff *backoff.Backoff

	Clock   clock.Clock
	Logger  logrus.FieldLogger
	Metrics *Metrics
}

// Device sequences flash commands over a Transport. A Device is driven by a
// single goroutine; devices sharing a chip must be serialized by the caller.
type Device struct {
	config *Config
	t      Transport
	format Format
	log    logrus.FieldLogger
}

// NewDevice will create a new command sequencer on top of t
func NewDevice(t Transport, c *Config) (*Device, error) {
	if t == nil {
		return nil, errors.New("transport is nil")
	}
	if c == nil {
		c = &Config{}
	}

	if c.Name == "" {
		c.Name = "qspi0"
	}
	if c.PollCeiling <= 0 {
		c.PollCeiling = DefaultPollCeiling
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}

	return &Device{
		config: c,
		t:      t,
		format: Format111,
		log:    c.Logger.WithField("dev", c.Name),
	}, nil
}

// Name will report the name the device logs under
func (d *Device) Name() string {
	return d.config.Name
}

// Format returns the bus format last applied with Configure
func (d *Device) Format() Format {
	return d.format
}

// Configure selects the bus format for subsequent default reads and writes
func (d *Device) Configure(f Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := d.t.Configure(f); err != nil {
		d.log.WithField("format", f.String()).Error("configure failed")
		return errors.Wrapf(err, "could not configure format %s", f)
	}
	d.format = f
	d.log.Debugf("format %s", f)
	return nil
}

// Write programs data at addr. The transport is expected to issue write
// enable for the page program itself.
func (d *Device) Write(req Request, addr uint32, data []byte) error {
	d.config.Metrics.command(OpPageProgram)
	n, err := d.t.Write(req, addr, data)
	if err != nil {
		d.config.Metrics.transportError(OpPageProgram)
		return errors.Wrapf(err, "write %d bytes @ %x", len(data), addr)
	}
	if n != len(data) {
		return &ShortTransferError{Op: "write", Addr: addr, Want: len(data), Got: n}
	}
	d.log.Debugf("write %d @ %x (%s)", n, addr, req.Command)
	return nil
}

// Read fills buf from addr
func (d *Device) Read(req Request, addr uint32, buf []byte) error {
	d.config.Metrics.command(OpRead)
	n, err := d.t.Read(req, addr, buf)
	if err != nil {
		d.config.Metrics.transportError(OpRead)
		return errors.Wrapf(err, "read %d bytes @ %x", len(buf), addr)
	}
	if n != len(buf) {
		return &ShortTransferError{Op: "read", Addr: addr, Want: len(buf), Got: n}
	}
	d.log.Debugf("read %d @ %x (%s)", n, addr, req.Command)
	return nil
}
