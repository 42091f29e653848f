// Package liquidity tracks per-chain balances and the per-swap locks drawn
// against them, and is the sole admission gate a swap must pass before the
// lifecycle engine creates any on-chain HTLC.
package liquidity

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// ErrChainNotRegistered is returned for operations against a chain the
// ledger has never seen via Register.
var ErrChainNotRegistered = errors.New("liquidity: chain not registered")

// Lock records one swap's hold against one chain's balance.
type Lock struct {
	Chain    string
	Amount   *big.Int
	SwapID   string
	LockedAt time.Time
}

// Status is a read-only snapshot of a chain's liquidity.
type Status struct {
	Chain       string
	Token       string
	Balance     *big.Int
	Locked      *big.Int
	Available   *big.Int
	ActiveSwaps int
}

// BalanceRefresher consults the chain adapter for the authoritative balance.
type BalanceRefresher func(ctx context.Context) (*big.Int, error)

type entry struct {
	token   string
	balance *big.Int
	locked  *big.Int
	perSwap map[string][]Lock // swap id -> locks this swap holds on this chain
	refresh BalanceRefresher
}

// Ledger is the process-wide liquidity tracker. All operations are
// serialized behind a single mutex with no I/O performed while it is held,
// so `hasAvailable` + `lock` compose into one atomic check-and-acquire as
// required so that two concurrent initiations cannot both pass
// admission for the same liquidity.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{entries: make(map[string]*entry)}
}

// Register adds or replaces a chain's token and starting balance.
func (l *Ledger) Register(chain, token string, balance *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[chain] = &entry{
		token:   token,
		balance: cloneBig(balance),
		locked:  big.NewInt(0),
		perSwap: make(map[string][]Lock),
	}
}

// SetBalanceRefresher attaches the callback RefreshBalance uses to consult
// the chain adapter. Registering a chain without one means RefreshBalance
// simply returns the ledger's current tracked balance.
func (l *Ledger) SetBalanceRefresher(chain string, fn BalanceRefresher) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[chain]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChainNotRegistered, chain)
	}
	e.refresh = fn
	return nil
}

// HasAvailable reports whether amount is currently available on chain.
// available := max(0, balance - locked).
func (l *Ledger) HasAvailable(chain string, amount *big.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[chain]
	if !ok {
		return false
	}
	return available(e).Cmp(amount) >= 0
}

// Lock attempts to atomically check-and-acquire amount against chain for
// swapID. It returns false (no error) if the amount is unavailable — that
// is a normal admission-control outcome, not a failure.
func (l *Ledger) Lock(chain string, amount *big.Int, swapID string) (bool, error) {
	if amount == nil || amount.Sign() <= 0 {
		return false, fmt.Errorf("liquidity: lock amount must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[chain]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrChainNotRegistered, chain)
	}

	if available(e).Cmp(amount) < 0 {
		return false, nil
	}

	e.locked.Add(e.locked, amount)
	e.perSwap[swapID] = append(e.perSwap[swapID], Lock{
		Chain:    chain,
		Amount:   cloneBig(amount),
		SwapID:   swapID,
		LockedAt: time.Now(),
	})
	return true, nil
}

// Release releases every lock swapID holds on chain. It is idempotent: a
// swap with no lock on that chain is a silent no-op (release fires at
// most once per (swap, chain) in practice, and a second call is harmless).
func (l *Ledger) Release(chain, swapID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[chain]
	if !ok {
		return
	}
	locks, ok := e.perSwap[swapID]
	if !ok {
		return
	}

	for _, lk := range locks {
		e.locked.Sub(e.locked, lk.Amount)
	}
	if e.locked.Sign() < 0 {
		e.locked.SetInt64(0)
	}
	delete(e.perSwap, swapID)
}

// Status returns a snapshot of chain's liquidity.
func (l *Ledger) Status(chain string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[chain]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrChainNotRegistered, chain)
	}

	return Status{
		Chain:       chain,
		Token:       e.token,
		Balance:     cloneBig(e.balance),
		Locked:      cloneBig(e.locked),
		Available:   available(e),
		ActiveSwaps: len(e.perSwap),
	}, nil
}

// RefreshBalance consults the chain adapter (via the registered
// BalanceRefresher) for the authoritative balance and updates the ledger.
// The adapter call happens outside the lock; only the resulting update is
// serialized.
func (l *Ledger) RefreshBalance(ctx context.Context, chain string) (*big.Int, error) {
	l.mu.Lock()
	e, ok := l.entries[chain]
	var refresh BalanceRefresher
	if ok {
		refresh = e.refresh
	}
	l.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotRegistered, chain)
	}
	if refresh == nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		return cloneBig(e.balance), nil
	}

	balance, err := refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("liquidity: refresh balance for %s: %w", chain, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	e.balance = cloneBig(balance)
	return cloneBig(e.balance), nil
}

// LockedTotal returns the locked amount for a chain, used by tests
// verifying liquidity conservation: locked never exceeds balance.
func (l *Ledger) LockedTotal(chain string) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotRegistered, chain)
	}
	return cloneBig(e.locked), nil
}

func available(e *entry) *big.Int {
	avail := new(big.Int).Sub(e.balance, e.locked)
	if avail.Sign() < 0 {
		return big.NewInt(0)
	}
	return avail
}

func cloneBig(n *big.Int) *big.Int {
	if n == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(n)
}
