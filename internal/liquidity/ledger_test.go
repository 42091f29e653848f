package liquidity

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
)

func TestHasAvailableReflectsBalance(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(1000))

	if !l.HasAvailable("evm", big.NewInt(1000)) {
		t.Fatal("expected full balance to be available")
	}
	if l.HasAvailable("evm", big.NewInt(1001)) {
		t.Fatal("expected amount above balance to be unavailable")
	}
}

func TestHasAvailableForUnregisteredChainIsFalse(t *testing.T) {
	l := New()
	if l.HasAvailable("solana", big.NewInt(1)) {
		t.Fatal("expected unregistered chain to report unavailable")
	}
}

func TestLockReducesAvailable(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(1000))

	ok, err := l.Lock("evm", big.NewInt(400), "swap-1")
	if err != nil || !ok {
		t.Fatalf("Lock = %v, %v; want true, nil", ok, err)
	}

	status, err := l.Status("evm")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Available.Cmp(big.NewInt(600)) != 0 {
		t.Errorf("Available = %s, want 600", status.Available)
	}
	if status.Locked.Cmp(big.NewInt(400)) != 0 {
		t.Errorf("Locked = %s, want 400", status.Locked)
	}
}

func TestLockRejectsOverdraw(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(500))

	ok, err := l.Lock("evm", big.NewInt(501), "swap-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if ok {
		t.Fatal("expected Lock to reject an amount above available balance")
	}
}

func TestLockUnregisteredChainErrors(t *testing.T) {
	l := New()
	_, err := l.Lock("evm", big.NewInt(1), "swap-1")
	if !errors.Is(err, ErrChainNotRegistered) {
		t.Fatalf("err = %v, want ErrChainNotRegistered", err)
	}
}

// Release is idempotent — a second Release for the same (chain, swap)
// must not double-credit the available balance.
func TestReleaseIsIdempotent(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(1000))

	if _, err := l.Lock("evm", big.NewInt(300), "swap-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	l.Release("evm", "swap-1")
	l.Release("evm", "swap-1")

	status, err := l.Status("evm")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Locked.Sign() != 0 {
		t.Errorf("Locked = %s after double release, want 0", status.Locked)
	}
	if status.Available.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("Available = %s after double release, want 1000", status.Available)
	}
}

func TestReleaseUnknownSwapIsNoOp(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(1000))
	l.Release("evm", "never-locked")

	status, err := l.Status("evm")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Locked.Sign() != 0 {
		t.Errorf("Locked = %s, want 0", status.Locked)
	}
}

// Liquidity conservation — locked never exceeds balance, even under
// concurrent lock attempts racing for the same funds.
func TestConcurrentLocksNeverOverdrawBalance(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(1000))

	const attempts = 50
	const amount = 30
	var wg sync.WaitGroup
	var succeeded sync.Map

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := l.Lock("evm", big.NewInt(amount), swapIDFor(i))
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			if ok {
				succeeded.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	locked, err := l.LockedTotal("evm")
	if err != nil {
		t.Fatalf("LockedTotal: %v", err)
	}
	if locked.Cmp(big.NewInt(1000)) > 0 {
		t.Fatalf("locked = %s exceeds balance 1000", locked)
	}

	count := 0
	succeeded.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	if count > 1000/amount {
		t.Errorf("too many locks granted: %d", count)
	}
}

func TestRefreshBalanceUsesRegisteredCallback(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(100))

	if err := l.SetBalanceRefresher("evm", func(ctx context.Context) (*big.Int, error) {
		return big.NewInt(250), nil
	}); err != nil {
		t.Fatalf("SetBalanceRefresher: %v", err)
	}

	balance, err := l.RefreshBalance(context.Background(), "evm")
	if err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if balance.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("balance = %s, want 250", balance)
	}

	status, err := l.Status("evm")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Balance.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("Status.Balance = %s, want 250", status.Balance)
	}
}

func TestRefreshBalanceWithoutCallbackReturnsTracked(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(77))

	balance, err := l.RefreshBalance(context.Background(), "evm")
	if err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if balance.Cmp(big.NewInt(77)) != 0 {
		t.Errorf("balance = %s, want 77", balance)
	}
}

func TestRefreshBalancePropagatesAdapterError(t *testing.T) {
	l := New()
	l.Register("evm", "USDC", big.NewInt(1))

	wantErr := errors.New("rpc unavailable")
	if err := l.SetBalanceRefresher("evm", func(ctx context.Context) (*big.Int, error) {
		return nil, wantErr
	}); err != nil {
		t.Fatalf("SetBalanceRefresher: %v", err)
	}

	if _, err := l.RefreshBalance(context.Background(), "evm"); err == nil {
		t.Fatal("expected RefreshBalance to propagate adapter error")
	}
}

func swapIDFor(i int) string {
	return "swap-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}
