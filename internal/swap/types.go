// Package swap implements the swap lifecycle engine: the in-memory swap
// registry, its finite state machine, the recovery driver, and the event
// integrator that together drive a cross-chain HTLC swap from request to
// completion.
package swap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/swapd/internal/htlcchain"
	"github.com/klingon-exchange/swapd/internal/preimage"
)

// Sentinel errors behind every ErrorCode. Wrap with fmt.Errorf("%w: ...")
// for a specific message; compare with errors.Is against these, never
// against ErrorCode strings directly.
var (
	ErrAmountTooLow          = errors.New("swap: amount below minimum")
	ErrAmountTooHigh         = errors.New("swap: amount above maximum")
	ErrChainNotSupported     = errors.New("swap: chain not supported")
	ErrMaxSwapsReached       = errors.New("swap: max concurrent swaps reached")
	ErrInsufficientLiquidity = errors.New("swap: insufficient liquidity")
	ErrSwapNotFound          = errors.New("swap: not found")
	ErrInvalidState          = errors.New("swap: invalid state for operation")
	ErrInvalidConfig         = errors.New("swap: invalid request configuration")
	ErrHTLCCreationFailed    = errors.New("swap: htlc creation failed")
	ErrWithdrawalFailed      = errors.New("swap: withdrawal failed")
	ErrRefundFailed          = errors.New("swap: refund failed")
)

// ErrorCode is the taxonomy code attached to a SwapError, matching the
// kinds enumerated for the engine's error handling design.
type ErrorCode string

const (
	CodeAmountTooLow          ErrorCode = "AMOUNT_TOO_LOW"
	CodeAmountTooHigh         ErrorCode = "AMOUNT_TOO_HIGH"
	CodeChainNotSupported     ErrorCode = "CHAIN_NOT_SUPPORTED"
	CodeMaxSwapsReached       ErrorCode = "MAX_SWAPS_REACHED"
	CodeInsufficientLiquidity ErrorCode = "INSUFFICIENT_LIQUIDITY"
	CodeSwapNotFound          ErrorCode = "SWAP_NOT_FOUND"
	CodeInvalidState          ErrorCode = "INVALID_STATE"
	CodeInvalidConfig         ErrorCode = "INVALID_CONFIG"
	CodeHTLCCreationFailed    ErrorCode = "HTLC_CREATION_FAILED"
	CodeWithdrawalFailed      ErrorCode = "WITHDRAWAL_FAILED"
	CodeRefundFailed          ErrorCode = "REFUND_FAILED"
)

// SwapError correlates an ErrorCode and message to the swap it concerns.
type SwapError struct {
	Code   ErrorCode
	SwapID string
	Err    error
}

func (e *SwapError) Error() string {
	if e.SwapID != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Code, e.SwapID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

func newSwapError(code ErrorCode, swapID string, err error) *SwapError {
	return &SwapError{Code: code, SwapID: swapID, Err: err}
}

// Request is the caller's ask: swap amount of a token from sourceChain to
// destChain, sender address on the source chain, receiver address on the
// destination chain. Secret/Hashlock let a caller pin the preimage (used by
// the hash-integrity rejection test); leave both zero to let the engine
// generate its own.
type Request struct {
	SourceChain string
	DestChain   string
	Amount      *big.Int
	Sender      string
	Receiver    string

	SwapID   string // optional; generated if empty
	Secret   *preimage.Secret
	Hashlock *preimage.Hashlock
}

// Record is a point-in-time snapshot of a swap. Engine methods return
// copies of this type; callers never get a pointer into the live registry.
type Record struct {
	ID      string
	Request Request

	Hashlock preimage.Hashlock
	State    State

	SourceHandle *htlcchain.Handle
	DestHandle   *htlcchain.Handle

	// SourceDeadline/DestDeadline are the absolute Unix-second
	// cancellation (C) deadlines for each leg, set when that leg's HTLC
	// is created.
	SourceDeadline int64
	DestDeadline   int64

	CreatedAt int64 // unix milliseconds
	UpdatedAt int64 // unix milliseconds

	ErrorDescription string
	RetryCount       int

	EstimatedCompletion int64 // unix milliseconds
}

// IsTerminal reports whether the record is frozen (completed/refunded/failed).
func (r Record) IsTerminal() bool { return r.State.IsTerminal() }

// Stats is the aggregate snapshot returned by Engine.Stats.
type Stats struct {
	Total           int
	Active          int
	Completed       int
	Failed          int
	Refunded        int
	TotalVolume     *big.Int
	AvgDurationSecs float64
	SuccessRatePct  float64
}
