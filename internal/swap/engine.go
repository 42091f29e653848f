package swap

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/swapd/internal/config"
	"github.com/klingon-exchange/swapd/internal/htlcchain"
	"github.com/klingon-exchange/swapd/internal/liquidity"
	"github.com/klingon-exchange/swapd/internal/preimage"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

// defaultSelfRevealDelay matches the open design question's resolution:
// the coordinator plays both roles and self-reveals a fixed delay after
// locking the destination leg, rather than waiting on an external party.
const defaultSelfRevealDelay = 5 * time.Second

// swapEntry pairs a mutable record with the per-swap lock that serializes
// every transition against it (no two transitions on one swap run
// concurrently).
type swapEntry struct {
	mu     sync.Mutex
	record Record
	secret preimage.Secret
}

// Engine owns the in-memory swap registry and drives each swap through the
// state machine, consulting the liquidity ledger for admission and the
// chain adapters for on-chain actions.
type Engine struct {
	cfg       *config.Config
	ledger    *liquidity.Ledger
	adapters  map[string]htlcchain.ChainAdapter
	handleIdx *handleIndex
	log       *logging.Logger

	selfRevealDelay time.Duration
	notify          func(Record)

	mu       sync.RWMutex
	registry map[string]*swapEntry
	order    []string // insertion order, oldest first
	active   int

	wg          sync.WaitGroup
	shutdown    chan struct{}
	shutdownSet sync.Once
	accepting   bool
}

// NewEngine constructs an Engine. adapters maps chain tags (as used in
// Request.SourceChain/DestChain) to the adapter that drives that chain.
func NewEngine(cfg *config.Config, ledger *liquidity.Ledger, adapters map[string]htlcchain.ChainAdapter) *Engine {
	return &Engine{
		cfg:             cfg,
		ledger:          ledger,
		adapters:        adapters,
		handleIdx:       newHandleIndex(),
		log:             logging.Component("engine"),
		selfRevealDelay: defaultSelfRevealDelay,
		registry:        make(map[string]*swapEntry),
		shutdown:        make(chan struct{}),
		accepting:       true,
	}
}

// SetSelfRevealDelay overrides the default self-reveal wait; tests use a
// near-zero delay so the happy path doesn't block on a real timer.
func (e *Engine) SetSelfRevealDelay(d time.Duration) { e.selfRevealDelay = d }

// SetNotifier registers fn to be called on every state transition, after
// the transition is applied. fn must not block or call back into the
// engine; it runs with the swap's own per-entry lock held.
func (e *Engine) SetNotifier(fn func(Record)) { e.notify = fn }

// Initiate validates and admits a new swap request, locks source-side
// liquidity, and (unless cfg.TestMode) schedules asynchronous processing.
func (e *Engine) Initiate(ctx context.Context, req Request) (Record, error) {
	if err := e.validateRequest(req); err != nil {
		return Record{}, err
	}

	if !e.ledger.HasAvailable(req.SourceChain, req.Amount) {
		return Record{}, newSwapError(CodeInsufficientLiquidity, "", ErrInsufficientLiquidity)
	}

	swapID := req.SwapID
	if swapID == "" {
		swapID = uuid.NewString()
	}

	secret, hashlock, err := resolvePreimage(req)
	if err != nil {
		return Record{}, newSwapError(CodeInvalidConfig, swapID, err)
	}

	// Reserve an active-swap slot atomically with the cap check, so two
	// racing initiations cannot both slip under maxConcurrentSwaps.
	e.mu.Lock()
	if !e.accepting {
		e.mu.Unlock()
		return Record{}, newSwapError(CodeInvalidState, "", fmt.Errorf("engine is shutting down"))
	}
	if e.active >= e.cfg.Limits.MaxConcurrentSwaps {
		e.mu.Unlock()
		return Record{}, newSwapError(CodeMaxSwapsReached, "", ErrMaxSwapsReached)
	}
	e.active++
	testMode := e.cfg.TestMode
	e.mu.Unlock()

	ok, err := e.ledger.Lock(req.SourceChain, req.Amount, swapID)
	if err != nil || !ok {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
		if err != nil {
			return Record{}, newSwapError(CodeInsufficientLiquidity, swapID, err)
		}
		return Record{}, newSwapError(CodeInsufficientLiquidity, swapID, ErrInsufficientLiquidity)
	}

	now := nowMillis()
	entry := &swapEntry{
		secret: secret,
		record: Record{
			ID:        swapID,
			Request:   req,
			Hashlock:  hashlock,
			State:     StatePending,
			CreatedAt: now,
			UpdatedAt: now,
			// A swap that stays on the happy path self-reveals shortly
			// after the destination leg confirms, well inside the
			// resolver-exclusive window.
			EstimatedCompletion: now + int64(e.cfg.Timelocks.ResolverSeconds)*1000,
		},
	}

	e.mu.Lock()
	e.registry[swapID] = entry
	e.order = append(e.order, swapID)
	e.mu.Unlock()

	snapshot := entry.record

	if !testMode {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runToSuspension(context.Background(), swapID)
		}()
	}

	return snapshot, nil
}

func (e *Engine) validateRequest(req Request) error {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return newSwapError(CodeAmountTooLow, "", ErrAmountTooLow)
	}
	minAmount, err := e.cfg.Limits.MinAmountBig()
	if err != nil {
		return newSwapError(CodeInvalidConfig, "", err)
	}
	if req.Amount.Cmp(minAmount) < 0 {
		return newSwapError(CodeAmountTooLow, "", ErrAmountTooLow)
	}
	maxAmount, err := e.cfg.Limits.MaxAmountBig()
	if err != nil {
		return newSwapError(CodeInvalidConfig, "", err)
	}
	if maxAmount.Sign() > 0 && req.Amount.Cmp(maxAmount) > 0 {
		return newSwapError(CodeAmountTooHigh, "", ErrAmountTooHigh)
	}

	if _, ok := e.adapters[req.SourceChain]; !ok {
		return newSwapError(CodeChainNotSupported, "", ErrChainNotSupported)
	}
	if _, ok := e.adapters[req.DestChain]; !ok {
		return newSwapError(CodeChainNotSupported, "", ErrChainNotSupported)
	}
	if req.Sender == "" || req.Receiver == "" {
		return newSwapError(CodeInvalidConfig, "", fmt.Errorf("sender and receiver are required"))
	}
	return nil
}

// resolvePreimage honors a caller-supplied secret/hashlock pair (enforcing
// the hash-integrity check) or generates a fresh one.
func resolvePreimage(req Request) (preimage.Secret, preimage.Hashlock, error) {
	if req.Secret != nil {
		computed := preimage.Hash(*req.Secret)
		if req.Hashlock != nil && *req.Hashlock != computed {
			return preimage.Secret{}, preimage.Hashlock{}, fmt.Errorf("supplied hashlock does not match SHA-256(secret)")
		}
		return *req.Secret, computed, nil
	}
	secret, err := preimage.Generate()
	if err != nil {
		return preimage.Secret{}, preimage.Hashlock{}, err
	}
	return secret, preimage.Hash(secret), nil
}

// GetStatus returns a snapshot of one swap record.
func (e *Engine) GetStatus(swapID string) (Record, error) {
	entry, err := e.lookup(swapID)
	if err != nil {
		return Record{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.record, nil
}

// ListActive returns a snapshot of every swap currently in an active state.
func (e *Engine) ListActive() []Record {
	e.mu.RLock()
	ids := append([]string(nil), e.order...)
	e.mu.RUnlock()

	var out []Record
	for _, id := range ids {
		entry, err := e.lookup(id)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		rec := entry.record
		entry.mu.Unlock()
		if rec.State.IsActive() {
			out = append(out, rec)
		}
	}
	return out
}

// History returns up to limit records (most recently created first),
// skipping the first offset.
func (e *Engine) History(limit, offset int) []Record {
	e.mu.RLock()
	ids := append([]string(nil), e.order...)
	e.mu.RUnlock()

	// order is oldest-first; reverse for newest-first.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}

	var out []Record
	for i, id := range ids {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		entry, err := e.lookup(id)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		out = append(out, entry.record)
		entry.mu.Unlock()
	}
	return out
}

// Cancel transitions an active swap to failed and releases its liquidity.
// In-flight adapter calls for this swap are allowed to complete; Cancel
// only prevents further progress once the current Step finishes.
func (e *Engine) Cancel(swapID string) (Record, error) {
	entry, err := e.lookup(swapID)
	if err != nil {
		return Record{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.record.State.IsTerminal() {
		return Record{}, newSwapError(CodeInvalidState, swapID, ErrInvalidState)
	}

	e.releaseLiquidity(entry)
	entry.record.ErrorDescription = "cancelled by user"
	e.setState(entry, StateFailed)
	return entry.record, nil
}

// Retry creates a fresh swap from a failed swap's original request.
func (e *Engine) Retry(ctx context.Context, swapID string) (Record, error) {
	entry, err := e.lookup(swapID)
	if err != nil {
		return Record{}, err
	}

	entry.mu.Lock()
	if entry.record.State != StateFailed {
		entry.mu.Unlock()
		return Record{}, newSwapError(CodeInvalidState, swapID, ErrInvalidState)
	}
	req := entry.record.Request
	entry.mu.Unlock()

	req.SwapID = ""
	req.Secret = nil
	req.Hashlock = nil
	return e.Initiate(ctx, req)
}

// Stats aggregates totals across every swap the engine has ever seen.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	ids := append([]string(nil), e.order...)
	e.mu.RUnlock()

	stats := Stats{TotalVolume: big.NewInt(0)}
	var totalDuration float64
	for _, id := range ids {
		entry, err := e.lookup(id)
		if err != nil {
			continue
		}
		entry.mu.Lock()
		rec := entry.record
		entry.mu.Unlock()

		stats.Total++
		switch rec.State {
		case StateCompleted:
			stats.Completed++
			if rec.Request.Amount != nil {
				stats.TotalVolume.Add(stats.TotalVolume, rec.Request.Amount)
			}
			totalDuration += float64(rec.UpdatedAt-rec.CreatedAt) / 1000.0
		case StateFailed:
			stats.Failed++
		case StateRefunded:
			stats.Refunded++
		default:
			stats.Active++
		}
	}
	if stats.Completed > 0 {
		stats.AvgDurationSecs = totalDuration / float64(stats.Completed)
	}
	if stats.Total > 0 {
		stats.SuccessRatePct = 100 * float64(stats.Completed) / float64(stats.Total)
	}
	return stats
}

// Shutdown stops admitting new swaps and waits (bounded by ctx) for
// in-flight async processing goroutines to reach a quiescent state.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.accepting = false
	e.mu.Unlock()

	e.shutdownSet.Do(func() { close(e.shutdown) })

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) lookup(swapID string) (*swapEntry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, ok := e.registry[swapID]
	if !ok {
		return nil, newSwapError(CodeSwapNotFound, swapID, ErrSwapNotFound)
	}
	return entry, nil
}

// setState validates and applies a transition, stamping UpdatedAt and
// adjusting the active-swap counter on entry into/out of terminal states.
// Caller must hold entry.mu.
func (e *Engine) setState(entry *swapEntry, to State) {
	from := entry.record.State
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		e.log.Error("illegal state transition", "swap", entry.record.ID, "from", from, "to", to)
		to = StateFailed
		if !CanTransition(from, to) {
			return
		}
	}
	entry.record.State = to
	entry.record.UpdatedAt = nowMillis()

	if to.IsTerminal() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}

	if e.notify != nil {
		e.notify(entry.record)
	}
}

// releaseLiquidity releases every chain lock this swap holds. Idempotent:
// Ledger.Release itself tolerates a repeat call for a swap with nothing
// held, so calling this more than once across retries/recovery passes is
// safe.
func (e *Engine) releaseLiquidity(entry *swapEntry) {
	e.ledger.Release(entry.record.Request.SourceChain, entry.record.ID)
	e.ledger.Release(entry.record.Request.DestChain, entry.record.ID)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
