// Package poolrun restarts a crash-prone worker loop (a socket reader's
// Run, in practice) with exponential backoff, so one bad read doesn't
// take a whole socket permanently offline, using
// github.com/cenkalti/backoff/v4.
package poolrun

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Mabuchin/requiem/logging"
)

// Restart runs fn in a loop until ctx is canceled or fn returns nil,
// which also ends the loop. Each non-nil error
// restarts fn after an exponential backoff delay; the delay resets once
// fn has run for longer than resetAfter without failing, so a transient
// blip doesn't count against a worker that's been healthy for hours.
func Restart(ctx context.Context, label string, resetAfter time.Duration, log logging.Logger, fn func() error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // never give up; the owning Server decides when to stop via ctx

	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		err := fn()
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}
		if time.Since(start) > resetAfter {
			b.Reset()
		}
		delay := b.NextBackOff()
		log.Log(logging.LevelError, "worker crashed, restarting",
			zap.String("worker", label), zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}
