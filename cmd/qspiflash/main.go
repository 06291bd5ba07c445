// Command qspiflash validates and programs a QSPI NOR flash through a
// simulated part, a UART bridge or a Linux spidev node.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/synthread/go-qspiflash/bridge"
	"github.com/synthread/go-qspiflash/console"
	"github.com/synthread/go-qspiflash/flash"
	"github.com/synthread/go-qspiflash/flash/sim"
	"github.com/synthread/go-qspiflash/report"
	"github.com/synthread/go-qspiflash/spidev"
	"github.com/synthread/go-qspiflash/validate"
)

var (
	transport = flag.String("transport", "sim", "flash transport: sim, bridge or spidev")

	tty       = flag.String("tty", bridge.DefaultTTY, "bridge serial port")
	baud      = flag.Int("baud", bridge.DefaultBaud, "bridge baud rate")
	powerGPIO = flag.Int("power-gpio", 0, "GPIO switching bridge power, 0 for none")

	spidevPath = flag.String("spidev", "/dev/spidev0.0", "spidev node")
	speed      = flag.Uint("speed", 0, "spidev clock in Hz, 0 keeps the driver default")

	image = flag.String("image", "", "simulated flash image file, loaded at start and saved at exit")

	dual         = flag.Bool("dual", false, "also sweep the dual-line formats 1_1_2 and 1_2_2")
	pollCeiling  = flag.Int("poll-ceiling", flash.DefaultPollCeiling, "status reads before a wait gives up")
	pollFailFast = flag.Bool("poll-fail-fast", false, "stop waiting on the first failed status read")
	pollDelay    = flag.Duration("poll-delay", 0, "initial delay between status reads, backing off exponentially")

	mqttBroker  = flag.String("mqtt", "", "MQTT broker to publish results to, e.g. tcp://localhost:1883")
	mqttTopic   = flag.String("mqtt-topic", report.DefaultPrefix, "MQTT topic prefix")
	metricsAddr = flag.String("metrics-addr", "", "address to serve prometheus metrics on")

	verbose = flag.Bool("v", false, "debug logging")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: %s [flags] <command>

commands:
  run                  run the validation sweep
  console              interactive flash console
  program FILE ADDR    erase, program and verify FILE at ADDR
  id                   print the JEDEC id

flags:
`, os.Args[0])
	flag.PrintDefaults()
}

// target is the device under test and an optional second handle on it
type target struct {
	dev   *flash.Device
	other *flash.Device
	close func() error
}

func deviceConfig(name string, m *flash.Metrics) *flash.Config {
	c := &flash.Config{
		Name:         name,
		PollCeiling:  *pollCeiling,
		PollFailFast: *pollFailFast,
		Metrics:      m,
	}
	if *pollDelay > 0 {
		c.PollBackoff = &backoff.Backoff{Min: *pollDelay, Max: 32 * *pollDelay, Factor: 2}
	}
	return c
}

func openTarget(m *flash.Metrics) (*target, error) {
	var t0, t1 flash.Transport
	var closer func() error

	switch *transport {
	case "sim":
		fs := afero.NewOsFs()
		chip := sim.New()
		if *image != "" {
			if err := chip.Load(fs, *image); err != nil {
				return nil, err
			}
		}
		t0, t1 = chip.Port(), chip.Port()
		closer = func() error {
			if *image == "" {
				return nil
			}
			return chip.Save(fs, *image)
		}

	case "bridge":
		b, err := bridge.Open(&bridge.Config{TTY: *tty, Baud: *baud, PowerGPIO: *powerGPIO})
		if err != nil {
			return nil, err
		}
		t0, t1 = b.Handle(), b.Handle()
		closer = b.Close

	case "spidev":
		d, err := spidev.Open(*spidevPath, &spidev.Config{SpeedHz: uint32(*speed), PollCeiling: *pollCeiling})
		if err != nil {
			return nil, err
		}
		// a spidev node is a single driver object
		t0 = d
		closer = d.Close

	default:
		return nil, errors.Errorf("unknown transport %q", *transport)
	}

	t := &target{close: closer}
	var err error
	if t.dev, err = flash.NewDevice(t0, deviceConfig("qspi0", m)); err != nil {
		return nil, err
	}
	if t1 != nil {
		if t.other, err = flash.NewDevice(t1, deviceConfig("qspi1", m)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "could not listen")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.Serve(l, mux); err != nil {
			logrus.Error(err)
		}
	}()
	logrus.Infof("serving metrics on %s", l.Addr())
	return nil
}

func runSweep(ctx context.Context, t *target) error {
	reporters := report.Multi{report.NewConsole(os.Stdout)}
	if *mqttBroker != "" {
		m, err := report.DialMQTT(*mqttBroker, fmt.Sprintf("qspiflash-%d", os.Getpid()), *mqttTopic)
		if err != nil {
			return err
		}
		defer m.Close()
		reporters = append(reporters, m)
	}

	r, err := validate.NewRunner(t.dev, t.other, &validate.Config{
		Dual:     *dual,
		Reporter: reporters,
	})
	if err != nil {
		return err
	}

	s, err := r.Run(ctx)
	if err != nil {
		return err
	}
	if !s.OK() {
		return errors.Errorf("%d of %d tests failed", s.Failed, len(s.Results))
	}
	return nil
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return errors.New("no command given")
	}

	reg := prometheus.NewRegistry()
	m := flash.NewMetrics(reg)
	if *metricsAddr != "" {
		if err := serveMetrics(*metricsAddr, reg); err != nil {
			return err
		}
	}

	t, err := openTarget(m)
	if err != nil {
		return errors.Wrapf(err, "could not open %s transport", *transport)
	}
	defer func() {
		if err := t.close(); err != nil {
			logrus.WithError(err).Error("close failed")
		}
	}()

	switch args[0] {
	case "run":
		return runSweep(ctx, t)

	case "console":
		return console.New(t.dev, os.Stdout).Run(ctx, os.Stdin)

	case "program":
		if len(args) != 3 {
			return errors.New("usage: program FILE ADDR")
		}
		addr, err := strconv.ParseUint(args[2], 0, 32)
		if err != nil {
			return errors.Wrapf(err, "bad address %q", args[2])
		}
		if err := t.dev.Initialize(); err != nil {
			return err
		}
		if err := t.dev.WaitReady(ctx); err != nil {
			return err
		}
		start := time.Now()
		if err := t.dev.ProgramFile(ctx, args[1], uint32(addr)); err != nil {
			return err
		}
		logrus.Infof("programmed %s @ %x in %v", args[1], addr, time.Since(start).Round(time.Millisecond))
		return nil

	case "id":
		id, err := t.dev.ReadID()
		if err != nil {
			return err
		}
		fmt.Printf("%06x\n", id)
		return nil
	}

	flag.Usage()
	return errors.Errorf("unknown command %q", args[0])
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, flag.Args()); err != nil {
		logrus.Error(err)
		stop()
		os.Exit(1)
	}
}
