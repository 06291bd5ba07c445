package validate

import (
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/synthread/go-qspiflash/flash"
)

var (
	// DefaultFormats are swept on every run
	DefaultFormats = []flash.Format{flash.Format111, flash.Format114, flash.Format144}
	// DualFormats are only swept when Config.Dual is set; the reference
	// part rejects dual-line page programs
	DualFormats = []flash.Format{flash.Format112, flash.Format122}

	DefaultIterations = 10
	DefaultPause      = 100 * time.Millisecond
)

// Config defines what a Runner sweeps
type Config struct {
	Formats []flash.Format
	Dual    bool

	// Iterations and Pause drive the multiple objects scenario
	Iterations int
	Pause      time.Duration

	Clock    clock.Clock
	Logger   logrus.FieldLogger
	Reporter Reporter
}

// Runner sweeps the scenarios over a device. An optional second device on
// the same chip is used for the multiple objects scenario.
type Runner struct {
	config *Config
	dev    *flash.Device
	other  *flash.Device
	log    logrus.FieldLogger

	// bus serializes command sequences of the two devices
	bus sync.Mutex
}

// NewRunner will create a runner for dev. other may be nil.
func NewRunner(dev, other *flash.Device, c *Config) (*Runner, error) {
	if dev == nil {
		return nil, errors.New("device is nil")
	}
	if c == nil {
		c = &Config{}
	}

	if len(c.Formats) == 0 {
		c.Formats = append([]flash.Format(nil), DefaultFormats...)
		if c.Dual {
			c.Formats = append(c.Formats, DualFormats...)
		}
	}
	if c.Iterations <= 0 {
		c.Iterations = DefaultIterations
	}
	if c.Pause < 0 {
		c.Pause = 0
	} else if c.Pause == 0 {
		c.Pause = DefaultPause
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Reporter == nil {
		c.Reporter = nopReporter{}
	}

	return &Runner{
		config: c,
		dev:    dev,
		other:  other,
		log:    c.Logger.WithField("dev", dev.Name()),
	}, nil
}

// Run sweeps every format, then runs the custom command and multiple
// objects scenarios. A failing scenario does not stop the run; failing to
// configure or initialize the device does and is returned as the error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var s Summary
	defer func() { r.config.Reporter.Done(s) }()

	for _, f := range r.config.Formats {
		r.config.Reporter.Format(f.String())
		if err := r.prepare(ctx, f); err != nil {
			return s, err
		}
		for _, sc := range Scenarios {
			s.add(r.run(ctx, f.String(), sc.Name, func(ctx context.Context) error {
				return sc.Run(ctx, r.dev)
			}))
		}
	}

	r.config.Reporter.Format("custom")
	s.add(r.run(ctx, "custom", "WriteReadCustomCommands", func(ctx context.Context) error {
		return WriteReadCustomCommands(ctx, r.dev)
	}))

	if r.other != nil {
		r.config.Reporter.Format("objects")
		s.add(r.run(ctx, "objects", "WriteReadMultipleObjects", r.multipleObjects))
	}

	return s, nil
}

// prepare configures f and brings the part into a known state
func (r *Runner) prepare(ctx context.Context, f flash.Format) error {
	if err := r.dev.Configure(f); err != nil {
		return errors.Wrapf(err, "QSPI config %s", f)
	}
	if err := r.dev.Initialize(); err != nil {
		return errors.Wrapf(err, "unable to initialize flash memory in %s", f)
	}
	if err := r.dev.WaitReady(ctx); err != nil {
		return errors.Wrapf(err, "flash not ready in %s", f)
	}
	r.log.Infof("QSPI config = %s", f)
	return nil
}

func (r *Runner) run(ctx context.Context, format, name string, fn func(context.Context) error) Result {
	start := r.config.Clock.Now()
	err := fn(ctx)
	res := Result{
		Format:  format,
		Test:    name,
		Err:     err,
		Elapsed: r.config.Clock.Now().Sub(start),
	}

	log := r.log.WithFields(logrus.Fields{"format": format, "test": name})
	if err != nil {
		log.WithError(err).Error("scenario failed")
	} else {
		log.Debug("scenario passed")
	}
	r.config.Reporter.Result(res)
	return res
}

// multipleObjects runs the simple round trip on two devices at once, each
// on its own region, with the first in 1_4_4 and the second in 1_1_1
func (r *Runner) multipleObjects(ctx context.Context) error {
	if err := r.other.Configure(flash.Format111); err != nil {
		return errors.Wrap(err, "could not configure second device")
	}
	if err := r.dev.Configure(flash.Format144); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, obj := range []struct {
		d    *flash.Device
		addr uint32
	}{{r.dev, 0x2000}, {r.other, 0x4000}} {
		obj := obj
		g.Go(func() error {
			for i := 0; i < r.config.Iterations; i++ {
				if err := r.cycleLocked(ctx, obj.d, obj.addr); err != nil {
					return errors.Wrapf(err, "%s iteration %d", obj.d.Name(), i)
				}
				r.config.Clock.Sleep(r.config.Pause)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) cycleLocked(ctx context.Context, d *flash.Device, addr uint32) error {
	r.bus.Lock()
	defer r.bus.Unlock()
	return cycle(ctx, d, flash.Request{}, flash.Request{}, addr, pattern)
}
