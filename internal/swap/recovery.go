package swap

import (
	"context"
	"time"
)

// defaultRecoveryTick and defaultStaleThreshold are the driver's defaults.
const (
	defaultRecoveryTick   = 10 * time.Second
	defaultStaleThreshold = 600 * time.Second
)

// RecoveryDriver periodically scans the engine's registry for swaps that
// have stopped making progress and dispatches the corrective action: retry
// destination creation, retry the withdrawal cascade, or force a refund
// once the cancellation deadline has passed. Withdrawal is always
// preferred over refund when both are possible.
type RecoveryDriver struct {
	engine         *Engine
	tick           time.Duration
	staleThreshold time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewRecoveryDriver builds a driver with the default tick/stale
// threshold; override via SetTick/SetStaleThreshold before Start for tests.
func NewRecoveryDriver(engine *Engine) *RecoveryDriver {
	return &RecoveryDriver{
		engine:         engine,
		tick:           defaultRecoveryTick,
		staleThreshold: defaultStaleThreshold,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

func (d *RecoveryDriver) SetTick(t time.Duration)           { d.tick = t }
func (d *RecoveryDriver) SetStaleThreshold(t time.Duration) { d.staleThreshold = t }

// Start runs the scan loop in a goroutine until Stop is called.
func (d *RecoveryDriver) Start(ctx context.Context) {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.ScanOnce(ctx)
			case <-d.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop signals the scan loop to exit and waits for it to do so.
func (d *RecoveryDriver) Stop() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
	<-d.done
}

// ScanOnce runs a single scan pass over every active swap. It is exported
// so tests can drive recovery deterministically instead of waiting on the
// ticker.
func (d *RecoveryDriver) ScanOnce(ctx context.Context) {
	now := nowMillis()
	for _, rec := range d.engine.ListActive() {
		if time.Duration(now-rec.UpdatedAt)*time.Millisecond < d.staleThreshold {
			continue
		}
		d.recover(ctx, rec)
	}
}

func (d *RecoveryDriver) recover(ctx context.Context, rec Record) {
	switch rec.State {
	case StateSourceLocked:
		// Destination leg never got created; retry it.
		if _, err := d.engine.Step(ctx, rec.ID); err != nil {
			d.engine.log.Error("recovery: destination retry failed", "swap", rec.ID, "err", err)
		}

	case StateDestinationLocked:
		// Both locked, preimage known internally — prefer completing the
		// swap over any consideration of refunding.
		if err := d.engine.SelfReveal(ctx, rec.ID); err != nil {
			d.engine.log.Error("recovery: self-reveal failed", "swap", rec.ID, "err", err)
		}

	case StateWithdrawing:
		now := nowUnix()
		if now >= rec.SourceDeadline {
			// Retry budget exhausted and the cancellation deadline has
			// passed: fall back to refunding rather than withdrawing
			// forever.
			entry, err := d.engine.lookup(rec.ID)
			if err == nil {
				entry.mu.Lock()
				if entry.record.State == StateWithdrawing && entry.record.RetryCount >= maxWithdrawAttempts {
					d.engine.setState(entry, StateRefunding)
				}
				entry.mu.Unlock()
			}
			if _, err := d.engine.Step(ctx, rec.ID); err != nil {
				d.engine.log.Error("recovery: withdraw retry failed", "swap", rec.ID, "err", err)
			}
		} else {
			if _, err := d.engine.Step(ctx, rec.ID); err != nil {
				d.engine.log.Error("recovery: withdraw retry failed", "swap", rec.ID, "err", err)
			}
		}

	case StateRefunding:
		if _, err := d.engine.Step(ctx, rec.ID); err != nil {
			d.engine.log.Error("recovery: refund failed", "swap", rec.ID, "err", err)
		}
	}
}
