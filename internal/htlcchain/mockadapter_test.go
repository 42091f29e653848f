package htlcchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/klingon-exchange/swapd/internal/preimage"
)

func TestMockAdapterCreateAndWithdraw(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	clock := func() time.Time { return now }
	a := NewMockAdapter("evm", KindEVM, clock)

	secret, _ := preimage.Generate()
	hashlock := preimage.Hash(secret)

	handle, err := a.CreateHTLC(context.Background(), CreateParams{
		Sender:   "0xSender",
		Receiver: "0xReceiver",
		Amount:   big.NewInt(100),
		Hashlock: hashlock,
		Timelock: now.Unix() + 600,
	})
	if err != nil {
		t.Fatalf("CreateHTLC: %v", err)
	}

	canWithdraw, err := a.CanWithdraw(context.Background(), handle)
	if err != nil || !canWithdraw {
		t.Fatalf("CanWithdraw = %v, %v; want true, nil", canWithdraw, err)
	}

	txID, err := a.Withdraw(context.Background(), handle, secret)
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if txID == "" {
		t.Error("expected non-empty tx id")
	}

	info, err := a.Info(context.Background(), handle)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if !info.Withdrawn {
		t.Error("expected Info.Withdrawn = true")
	}
	if info.Secret == nil || *info.Secret != secret {
		t.Error("expected revealed secret to be recorded")
	}
}

func TestMockAdapterWithdrawRejectsWrongSecret(t *testing.T) {
	a := NewMockAdapter("evm", KindEVM, nil)
	secret, _ := preimage.Generate()
	wrong, _ := preimage.Generate()
	hashlock := preimage.Hash(secret)

	handle, _ := a.CreateHTLC(context.Background(), CreateParams{
		Sender: "s", Receiver: "r", Amount: big.NewInt(1),
		Hashlock: hashlock, Timelock: time.Now().Unix() + 600,
	})

	if _, err := a.Withdraw(context.Background(), handle, wrong); !errors.Is(err, ErrInvalidSecret) {
		t.Fatalf("err = %v, want ErrInvalidSecret", err)
	}
}

func TestMockAdapterWithdrawTwiceFails(t *testing.T) {
	a := NewMockAdapter("evm", KindEVM, nil)
	secret, _ := preimage.Generate()
	hashlock := preimage.Hash(secret)

	handle, _ := a.CreateHTLC(context.Background(), CreateParams{
		Sender: "s", Receiver: "r", Amount: big.NewInt(1),
		Hashlock: hashlock, Timelock: time.Now().Unix() + 600,
	})

	if _, err := a.Withdraw(context.Background(), handle, secret); err != nil {
		t.Fatalf("first Withdraw: %v", err)
	}
	if _, err := a.Withdraw(context.Background(), handle, secret); !errors.Is(err, ErrAlreadyWithdrawn) {
		t.Fatalf("second Withdraw err = %v, want ErrAlreadyWithdrawn", err)
	}
}

func TestMockAdapterRefundRequiresExpiry(t *testing.T) {
	now := time.Unix(1_000_000, 0)
	clock := func() time.Time { return now }
	a := NewMockAdapter("solana", KindSolana, clock)

	secret, _ := preimage.Generate()
	hashlock := preimage.Hash(secret)
	handle, _ := a.CreateHTLC(context.Background(), CreateParams{
		Sender: "s", Receiver: "r", Amount: big.NewInt(1),
		Hashlock: hashlock, Timelock: now.Unix() + 100,
	})

	if _, err := a.Refund(context.Background(), handle); !errors.Is(err, ErrTimelockNotExpired) {
		t.Fatalf("err = %v, want ErrTimelockNotExpired", err)
	}

	now = now.Add(200 * time.Second)
	txID, err := a.Refund(context.Background(), handle)
	if err != nil {
		t.Fatalf("Refund after expiry: %v", err)
	}
	if txID == "" {
		t.Error("expected non-empty refund tx id")
	}
}

func TestMockAdapterObserveReceivesWithdrawEvent(t *testing.T) {
	a := NewMockAdapter("evm", KindEVM, nil)
	secret, _ := preimage.Generate()
	hashlock := preimage.Hash(secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, errs, err := a.Observe(ctx)
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}

	handle, _ := a.CreateHTLC(context.Background(), CreateParams{
		Sender: "s", Receiver: "r", Amount: big.NewInt(1),
		Hashlock: hashlock, Timelock: time.Now().Unix() + 600,
	})
	if _, err := a.Withdraw(context.Background(), handle, secret); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Kind != EventWithdrawn {
			t.Errorf("event kind = %s, want withdrawn", evt.Kind)
		}
		if evt.Secret == nil || *evt.Secret != secret {
			t.Error("expected revealed secret on event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for withdraw event")
	}

	select {
	case _, ok := <-errs:
		if ok {
			t.Error("did not expect an error on the error channel")
		}
	default:
	}
}

func TestMockAdapterUnknownHandle(t *testing.T) {
	a := NewMockAdapter("evm", KindEVM, nil)
	_, err := a.Info(context.Background(), Handle{Kind: KindEVM})
	if !errors.Is(err, ErrHandleNotFound) {
		t.Fatalf("err = %v, want ErrHandleNotFound", err)
	}
}
