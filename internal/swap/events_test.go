package swap

import (
	"context"
	"testing"
	"time"

	"github.com/klingon-exchange/swapd/internal/htlcchain"
	"github.com/klingon-exchange/swapd/internal/preimage"
)

func TestEventIntegratorAdvancesOnRealCounterpartyWithdraw(t *testing.T) {
	engine, _, src, dst := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	integrator := NewEventIntegrator(engine, map[string]htlcchain.ChainAdapter{
		testSourceChain: src,
		testDestChain:   dst,
	})
	if err := integrator.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer integrator.Stop()

	rec, err := engine.Initiate(ctx, basicRequest())
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	rec, _ = engine.Step(ctx, rec.ID)
	rec, _ = engine.Step(ctx, rec.ID)
	if rec.State != StateDestinationLocked {
		t.Fatalf("state = %s, want destination_locked", rec.State)
	}

	secret, err := engine.lookup(rec.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	secret.mu.Lock()
	s := secret.secret
	secret.mu.Unlock()

	// Simulate an external counterparty withdrawing the destination HTLC
	// directly against the adapter, bypassing SelfReveal entirely.
	if _, err := dst.Withdraw(ctx, *rec.DestHandle, s); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		cur, err := engine.GetStatus(rec.ID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if cur.State == StateWithdrawing {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event integrator did not advance the swap to withdrawing within the deadline")
}

func TestEventIntegratorIgnoresEventsForUnknownHandles(t *testing.T) {
	engine, _, src, dst := testEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	integrator := NewEventIntegrator(engine, map[string]htlcchain.ChainAdapter{
		testSourceChain: src,
		testDestChain:   dst,
	})
	if err := integrator.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer integrator.Stop()

	// An HTLC the engine never created (so its handle isn't in the handle
	// index) withdrawing should not panic or otherwise disturb the
	// integrator.
	secret, err := preimage.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	handle, err := src.CreateHTLC(ctx, htlcchain.CreateParams{
		Sender:   "0x1111111111111111111111111111111111111111",
		Receiver: src.Address(),
		Amount:   basicRequest().Amount,
		Hashlock: preimage.Hash(secret),
		Timelock: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("CreateHTLC: %v", err)
	}
	if _, err := src.Withdraw(ctx, handle, secret); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	time.Sleep(50 * time.Millisecond) // give the consumer goroutine a chance to observe and ignore it
}
