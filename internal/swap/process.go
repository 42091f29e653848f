package swap

import (
	"context"
	"time"

	"github.com/klingon-exchange/swapd/internal/htlcchain"
	"github.com/klingon-exchange/swapd/internal/preimage"
)

const (
	maxWithdrawAttempts = 5

	// adapterCallTimeout is the enclosing deadline on every chain adapter
	// call the engine issues. A call that outlives it fails with the
	// context's deadline error, which the calling step handles like any
	// other adapter error: a timed-out source creation fails the swap, a
	// timed-out destination creation moves it to refunding, and a timed-out
	// withdrawal leaves it in withdrawing for a later retry.
	adapterCallTimeout = 30 * time.Second
)

func withAdapterTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, adapterCallTimeout)
}

// Step attempts exactly one state-machine transition for swapID, based on
// its current state, and returns the resulting record. It is the public
// test seam: with cfg.TestMode set, Initiate does not schedule
// asynchronous processing, and tests drive the engine by calling Step
// directly. Step is also
// used internally by the asynchronous processing loop, so production and
// test code share one transition implementation.
func (e *Engine) Step(ctx context.Context, swapID string) (Record, error) {
	entry, err := e.lookup(swapID)
	if err != nil {
		return Record{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	switch entry.record.State {
	case StatePending:
		e.stepCreateSource(ctx, entry)
	case StateSourceLocked:
		e.stepCreateDestination(ctx, entry)
	case StateDestinationLocked:
		// No-op here: the transition out of destination_locked is driven
		// by OnPreimageRevealed (or SelfReveal), not by Step, since it
		// waits on an external/self-triggered event rather than an
		// unconditional action.
	case StateWithdrawing:
		e.stepWithdrawSource(ctx, entry)
	case StateRefunding:
		e.stepRefund(ctx, entry)
	default:
		// Terminal states: no-op.
	}

	return entry.record, nil
}

// stepCreateSource locks funds on the source chain. Caller holds entry.mu.
func (e *Engine) stepCreateSource(ctx context.Context, entry *swapEntry) {
	adapter := e.adapters[entry.record.Request.SourceChain]
	deadline := nowUnix() + e.cancellationOffset()

	callCtx, cancel := withAdapterTimeout(ctx)
	defer cancel()
	handle, err := adapter.CreateHTLC(callCtx, htlcchain.CreateParams{
		Sender:   entry.record.Request.Sender,
		Receiver: adapter.Address(),
		Amount:   entry.record.Request.Amount,
		Hashlock: entry.record.Hashlock,
		Timelock: deadline,
	})
	if err != nil {
		e.log.Error("source htlc creation failed", "swap", entry.record.ID, "err", err)
		entry.record.ErrorDescription = err.Error()
		e.releaseLiquidity(entry)
		e.setState(entry, StateFailed)
		return
	}

	entry.record.SourceHandle = &handle
	entry.record.SourceDeadline = deadline
	e.handleIdx.Put(handle, entry.record.ID)
	e.setState(entry, StateSourceLocked)
}

// stepCreateDestination locks the mirror HTLC on the destination chain.
func (e *Engine) stepCreateDestination(ctx context.Context, entry *swapEntry) {
	adapter := e.adapters[entry.record.Request.DestChain]
	deadline := nowUnix() + e.cancellationOffset()

	callCtx, cancel := withAdapterTimeout(ctx)
	defer cancel()
	handle, err := adapter.CreateHTLC(callCtx, htlcchain.CreateParams{
		Sender:   adapter.Address(),
		Receiver: entry.record.Request.Receiver,
		Amount:   entry.record.Request.Amount,
		Hashlock: entry.record.Hashlock,
		Timelock: deadline,
	})
	if err != nil {
		e.log.Error("destination htlc creation failed", "swap", entry.record.ID, "err", err)
		entry.record.ErrorDescription = err.Error()
		e.setState(entry, StateRefunding)
		return
	}

	entry.record.DestHandle = &handle
	entry.record.DestDeadline = deadline
	e.handleIdx.Put(handle, entry.record.ID)
	e.setState(entry, StateDestinationLocked)
}

// stepWithdrawSource reveals the preimage on the source chain, completing
// the swap. Caller holds entry.mu.
func (e *Engine) stepWithdrawSource(ctx context.Context, entry *swapEntry) {
	if entry.record.SourceHandle == nil {
		return
	}
	adapter := e.adapters[entry.record.Request.SourceChain]

	callCtx, cancel := withAdapterTimeout(ctx)
	defer cancel()
	_, err := adapter.Withdraw(callCtx, *entry.record.SourceHandle, entry.secret)
	if err != nil {
		entry.record.RetryCount++
		entry.record.ErrorDescription = err.Error()
		e.log.Error("source withdrawal failed", "swap", entry.record.ID, "attempt", entry.record.RetryCount, "err", err)
		if entry.record.RetryCount >= maxWithdrawAttempts {
			// Stay in withdrawing; the recovery driver takes over once the
			// cancellation deadline passes and force-refunds instead.
		}
		return
	}

	e.releaseLiquidity(entry)
	e.setState(entry, StateCompleted)
}

// stepRefund reclaims both legs once their cancellation deadlines pass.
// Step reaches this branch once a swap is in refunding: either a failed
// destination creation moved it there, or the recovery driver did after
// the withdrawal retries ran out past the cancellation deadline.
func (e *Engine) stepRefund(ctx context.Context, entry *swapEntry) {
	now := nowUnix()
	ctx, cancel := withAdapterTimeout(ctx)
	defer cancel()

	if entry.record.SourceHandle != nil && now >= entry.record.SourceDeadline {
		adapter := e.adapters[entry.record.Request.SourceChain]
		if ok, _ := adapter.CanRefund(ctx, *entry.record.SourceHandle); ok {
			if _, err := adapter.Refund(ctx, *entry.record.SourceHandle); err != nil {
				entry.record.ErrorDescription = err.Error()
				e.log.Error("source refund failed", "swap", entry.record.ID, "err", err)
				return
			}
		} else {
			return
		}
	} else if entry.record.SourceHandle != nil {
		return
	}

	if entry.record.DestHandle != nil && now < entry.record.DestDeadline {
		return
	}
	if entry.record.DestHandle != nil {
		adapter := e.adapters[entry.record.Request.DestChain]
		if ok, _ := adapter.CanRefund(ctx, *entry.record.DestHandle); ok {
			if _, err := adapter.Refund(ctx, *entry.record.DestHandle); err != nil {
				entry.record.ErrorDescription = err.Error()
				e.log.Error("destination refund failed", "swap", entry.record.ID, "err", err)
				return
			}
		}
	}

	e.releaseLiquidity(entry)
	e.setState(entry, StateRefunded)
}

// SelfReveal simulates the PoC coordinator acting as its own destination
// counterparty: it withdraws the destination HTLC using the secret it
// already holds, which is exactly what a real counterparty withdrawal
// would do, and then feeds the reveal back through the same
// OnPreimageRevealed path the event integrator uses in production (open
// design question, resolved as option (b): the coordinator self-reveals
// rather than waiting on an external observer).
func (e *Engine) SelfReveal(ctx context.Context, swapID string) error {
	entry, err := e.lookup(swapID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if entry.record.State != StateDestinationLocked || entry.record.DestHandle == nil {
		entry.mu.Unlock()
		return nil
	}
	handle := *entry.record.DestHandle
	secret := entry.secret
	chain := entry.record.Request.DestChain
	entry.mu.Unlock()

	adapter := e.adapters[chain]
	callCtx, cancel := withAdapterTimeout(ctx)
	defer cancel()
	if _, err := adapter.Withdraw(callCtx, handle, secret); err != nil {
		return err
	}

	return e.OnPreimageRevealed(swapID, secret)
}

// OnPreimageRevealed is the event integrator's entry point: it is called
// whenever a withdrawn(preimage) event is observed for this swap's
// destination handle. It is idempotent: calling it again once
// the swap has left destination_locked is a silent no-op, whatever the
// current state is.
func (e *Engine) OnPreimageRevealed(swapID string, secret preimage.Secret) error {
	entry, err := e.lookup(swapID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.record.State != StateDestinationLocked {
		return nil
	}
	if !preimage.Verify(secret, entry.record.Hashlock) {
		e.log.Error("preimage reveal failed hash verification", "swap", swapID)
		return nil
	}

	e.setState(entry, StateWithdrawing)
	return nil
}

// runToSuspension drives a freshly initiated swap forward automatically
// (production mode only) until it reaches a terminal state or a point that
// waits on an external signal the engine can't manufacture itself.
func (e *Engine) runToSuspension(ctx context.Context, swapID string) {
	for {
		rec, err := e.GetStatus(swapID)
		if err != nil {
			return
		}
		switch rec.State {
		case StatePending, StateSourceLocked, StateWithdrawing, StateRefunding:
			if _, err := e.Step(ctx, swapID); err != nil {
				return
			}
		case StateDestinationLocked:
			select {
			case <-time.After(e.selfRevealDelay):
			case <-e.shutdown:
				return
			}
			if err := e.SelfReveal(ctx, swapID); err != nil {
				e.log.Error("self-reveal failed", "swap", swapID, "err", err)
				return
			}
		default:
			return
		}

		rec, err = e.GetStatus(swapID)
		if err != nil || rec.State.IsTerminal() {
			return
		}

		select {
		case <-e.shutdown:
			return
		default:
		}
	}
}

func (e *Engine) cancellationOffset() int64 {
	_, _, _, c := e.cfg.TimelockWindow(time.Now())
	return c - time.Now().Unix()
}

func nowUnix() int64 { return time.Now().Unix() }
