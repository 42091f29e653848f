// Package htlcchain defines the uniform interface the swap engine uses to
// drive an HTLC on any supported chain, and the concrete EVM and Solana
// adapters that implement it.
package htlcchain

import (
	"context"
	"errors"
	"math/big"

	"github.com/klingon-exchange/swapd/internal/preimage"
)

// Chain adapter error kinds. The engine records an adapter error's message
// in the swap record's ErrorDescription; it does not translate these into
// SwapError codes.
var (
	ErrInvalidTimelock      = errors.New("htlcchain: invalid timelock")
	ErrInvalidReceiver      = errors.New("htlcchain: invalid receiver")
	ErrInvalidSender        = errors.New("htlcchain: invalid sender")
	ErrInsufficientBalance  = errors.New("htlcchain: insufficient balance")
	ErrInvalidSecret        = errors.New("htlcchain: invalid secret")
	ErrAlreadyWithdrawn     = errors.New("htlcchain: already withdrawn")
	ErrAlreadyRefunded      = errors.New("htlcchain: already refunded")
	ErrWindowClosed         = errors.New("htlcchain: action outside its timelock window")
	ErrTimelockNotExpired   = errors.New("htlcchain: timelock has not expired")
	ErrHandleNotFound       = errors.New("htlcchain: handle not found")
	ErrUnsupportedOperation = errors.New("htlcchain: operation not supported on this chain")
)

// Kind tags which concrete chain a Handle belongs to.
type Kind string

const (
	KindEVM    Kind = "evm"
	KindSolana Kind = "solana"
)

// Handle is the opaque tagged union used to pass a chain-specific
// locator for one on-chain HTLC, plus enough of its static parameters that
// adapters and the engine can reason about it without a network round trip.
type Handle struct {
	Kind Kind

	// EVMContractID is the 32-byte swap id computed by the EVM HTLC
	// contract (set when Kind == KindEVM).
	EVMContractID [32]byte
	// EVMTxHash is the transaction hash of the create call, useful for
	// observers before the contract has indexed the swap.
	EVMTxHash string

	// SolanaEscrowAccount is the base58 address of the program-derived
	// escrow account holding the locked funds (set when Kind == KindSolana).
	SolanaEscrowAccount string
	// SolanaCreateSignature is the transaction signature of the create
	// instruction.
	SolanaCreateSignature string
}

// CreateParams describes a new HTLC to create on one side of a swap.
type CreateParams struct {
	Sender   string
	Receiver string
	Token    string // empty/zero means the chain's native asset
	Amount   *big.Int
	Hashlock preimage.Hashlock
	Timelock int64 // absolute Unix-second deadline (cancellation boundary)
}

// Info is the current on-chain state of an HTLC, as last observed.
type Info struct {
	Sender    string
	Receiver  string
	Token     string
	Amount    *big.Int
	Hashlock  preimage.Hashlock
	Timelock  int64
	Withdrawn bool
	Refunded  bool
	Secret    *preimage.Secret // non-nil once revealed on-chain
}

// EventKind distinguishes the two chain events the recovery/event pipeline
// cares about.
type EventKind string

const (
	EventWithdrawn EventKind = "withdrawn"
	EventRefunded  EventKind = "refunded"
)

// Event is a single observed state change on a chain HTLC.
type Event struct {
	Handle Handle
	Kind   EventKind
	Secret *preimage.Secret // set for EventWithdrawn
	TxID   string
}

// ChainAdapter is the uniform surface the engine, recovery driver, and
// event integrator program against; the createHTLC / withdraw /
// refund / canWithdraw / canRefund / observe / info operations.
type ChainAdapter interface {
	// Name identifies the chain for logging and ledger lookups (e.g. "evm",
	// "solana").
	Name() string

	// Address returns the coordinator's own signing address on this
	// chain — the receiver the engine uses when creating the source-side
	// HTLC, since the coordinator claims it itself once the destination
	// leg resolves.
	Address() string

	// CreateHTLC locks funds under the given hashlock/timelock and returns
	// a Handle identifying the new escrow.
	CreateHTLC(ctx context.Context, params CreateParams) (Handle, error)

	// Withdraw claims the escrow by revealing secret. Only valid while the
	// handle's timelock window permits withdrawal (finality passed,
	// cancellation not yet reached).
	Withdraw(ctx context.Context, handle Handle, secret preimage.Secret) (txID string, err error)

	// Refund reclaims the escrow back to the sender. Only valid once the
	// cancellation deadline has passed and the funds were never withdrawn.
	Refund(ctx context.Context, handle Handle) (txID string, err error)

	// CanWithdraw reports whether Withdraw would currently be accepted.
	CanWithdraw(ctx context.Context, handle Handle) (bool, error)

	// CanRefund reports whether Refund would currently be accepted.
	CanRefund(ctx context.Context, handle Handle) (bool, error)

	// Info fetches the current on-chain state of the escrow.
	Info(ctx context.Context, handle Handle) (Info, error)

	// Observe subscribes to withdraw/refund events for this chain's HTLCs,
	// streaming them on the returned channel until ctx is canceled. The
	// channel is closed when the subscription ends, whether due to context
	// cancellation or an unrecoverable transport error (reported via the
	// returned error channel, which also closes at that point).
	Observe(ctx context.Context) (<-chan Event, <-chan error, error)
}
