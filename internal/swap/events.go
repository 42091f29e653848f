package swap

import (
	"context"
	"sync"

	"github.com/klingon-exchange/swapd/internal/htlcchain"
)

// EventIntegrator subscribes to every registered chain adapter's event
// stream and forwards withdrawn(preimage) observations into the engine,
// resolving the handle back to a swap id through the engine's handle
// index. Refunded events for a known handle are only logged.
type EventIntegrator struct {
	engine   *Engine
	adapters map[string]htlcchain.ChainAdapter

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventIntegrator builds an integrator over the same adapter set the
// engine uses.
func NewEventIntegrator(engine *Engine, adapters map[string]htlcchain.ChainAdapter) *EventIntegrator {
	return &EventIntegrator{engine: engine, adapters: adapters}
}

// Start subscribes to every adapter's Observe stream. Call Stop to
// unsubscribe.
func (ei *EventIntegrator) Start(ctx context.Context) error {
	ei.mu.Lock()
	defer ei.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	ei.cancel = cancel

	for name, adapter := range ei.adapters {
		events, errs, err := adapter.Observe(subCtx)
		if err != nil {
			cancel()
			return err
		}
		ei.wg.Add(1)
		go ei.consume(name, events, errs)
	}
	return nil
}

// Stop unsubscribes from every adapter and waits for the consuming
// goroutines to drain.
func (ei *EventIntegrator) Stop() {
	ei.mu.Lock()
	cancel := ei.cancel
	ei.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	ei.wg.Wait()
}

func (ei *EventIntegrator) consume(chain string, events <-chan htlcchain.Event, errs <-chan error) {
	defer ei.wg.Done()
	log := ei.engine.log

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			ei.handle(chain, evt)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				log.Error("monitoring error", "chain", chain, "err", err)
			}
		}
	}
}

func (ei *EventIntegrator) handle(chain string, evt htlcchain.Event) {
	swapID, ok := ei.engine.handleIdx.Lookup(evt.Handle)
	if !ok {
		return
	}

	switch evt.Kind {
	case htlcchain.EventWithdrawn:
		if evt.Secret == nil {
			return
		}
		// Idempotent by construction: OnPreimageRevealed no-ops once the
		// swap has left destination_locked, covering both the self-reveal
		// path re-delivering its own event and a genuinely duplicate
		// chain notification.
		if err := ei.engine.OnPreimageRevealed(swapID, *evt.Secret); err != nil {
			ei.engine.log.Error("onPreimageRevealed failed", "swap", swapID, "chain", chain, "err", err)
		}
	case htlcchain.EventRefunded:
		// The adapter itself is the source of truth for withdrawn/refunded
		// state; the refund step consults it directly via CanRefund rather
		// than mirroring a flag onto the record, so there's nothing to
		// update here and the event is only logged.
		ei.engine.log.Info("refund observed", "swap", swapID, "chain", chain)
	}
}
