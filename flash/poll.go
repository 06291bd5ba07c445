package flash

import (
	"context"

	"github.com/pkg/errors"
)

// WaitReady polls the status register until the write-in-progress bit is
// clear. It gives up with ErrNotReady after Config.PollCeiling reads.
//
// A failed status read is logged and polling continues with the last status
// seen, which starts out busy. With Config.PollFailFast the failure is
// returned instead.
func (d *Device) WaitReady(ctx context.Context) error {
	var b = d.config.PollBackoff
	if b != nil {
		cp := *b
		cp.Reset()
		b = &cp
	}

	status := StatusWIP
	var lastErr error
	polls := 0
	defer func() { d.config.Metrics.polled(polls) }()

	for polls < d.config.PollCeiling {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "waiting for flash")
		}

		polls++
		sr, err := d.ReadStatus()
		if err != nil {
			d.log.WithError(err).Error("reading status register failed")
			if d.config.PollFailFast {
				return errors.Wrap(err, "could not poll status")
			}
			lastErr = err
		} else {
			status = sr[0]
		}

		if status&StatusWIP == 0 {
			return nil
		}

		if b != nil {
			d.config.Clock.Sleep(b.Duration())
		}
	}

	d.config.Metrics.timedOut()
	d.log.Errorf("not ready after %d polls", polls)
	if lastErr != nil {
		return errors.Wrapf(ErrNotReady, "after %d polls, last error: %v", polls, lastErr)
	}
	return errors.Wrapf(ErrNotReady, "after %d polls", polls)
}
