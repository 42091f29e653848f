package htlcchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/klingon-exchange/swapd/internal/contracts/htlc"
	"github.com/klingon-exchange/swapd/internal/preimage"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

// EVMAdapter drives the AtomicHTLC contract deployed on an EVM chain. It
// wraps the generated contract client (internal/contracts/htlc) with the
// ChainAdapter shape the engine expects, translating between this
// package's chain-agnostic types and the contract's [32]byte/common.Address
// calling convention.
type EVMAdapter struct {
	name       string
	client     *htlc.Client
	privateKey *ecdsa.PrivateKey
	log        *logging.Logger
}

// NewEVMAdapter dials rpcURL and returns an adapter for the HTLC contract at
// contractAddr, signing transactions with privateKey.
func NewEVMAdapter(name, rpcURL string, contractAddr common.Address, privateKey *ecdsa.PrivateKey) (*EVMAdapter, error) {
	client, err := htlc.NewClient(rpcURL, contractAddr)
	if err != nil {
		return nil, fmt.Errorf("evm adapter %s: %w", name, err)
	}
	return &EVMAdapter{
		name:       name,
		client:     client,
		privateKey: privateKey,
		log:        logging.Component("evm"),
	}, nil
}

func (a *EVMAdapter) Name() string { return a.name }

func (a *EVMAdapter) Address() string {
	return htlc.AddressFromPrivateKey(a.privateKey).Hex()
}

func (a *EVMAdapter) CreateHTLC(ctx context.Context, params CreateParams) (Handle, error) {
	receiver := common.HexToAddress(params.Receiver)
	if receiver == (common.Address{}) {
		return Handle{}, ErrInvalidReceiver
	}
	sender := common.HexToAddress(params.Sender)
	if sender == (common.Address{}) {
		return Handle{}, ErrInvalidSender
	}

	timelock := big.NewInt(params.Timelock)
	var secretHash [32]byte = params.Hashlock

	// The contract folds the nonce into the swap id, so repeated swaps with
	// identical parameters still get distinct escrows.
	nonce := big.NewInt(time.Now().UnixNano())
	var token common.Address
	if params.Token != "" {
		token = common.HexToAddress(params.Token)
	}

	swapID, err := a.client.ComputeSwapID(ctx, sender, receiver, token, params.Amount, secretHash, timelock, nonce)
	if err != nil {
		return Handle{}, fmt.Errorf("compute swap id: %w", err)
	}

	var tx *types.Transaction
	if token == (common.Address{}) {
		t, err := a.client.CreateSwapNative(ctx, a.privateKey, swapID, receiver, secretHash, timelock, params.Amount)
		if err != nil {
			return Handle{}, fmt.Errorf("create native swap: %w", err)
		}
		tx = t
	} else {
		approveTx, err := a.client.ApproveERC20(ctx, a.privateKey, token, params.Amount)
		if err != nil {
			return Handle{}, fmt.Errorf("approve erc20: %w", err)
		}
		if _, err := a.client.WaitForTx(ctx, approveTx); err != nil {
			return Handle{}, fmt.Errorf("confirm erc20 approval: %w", err)
		}
		t, err := a.client.CreateSwapERC20(ctx, a.privateKey, swapID, receiver, token, params.Amount, secretHash, timelock)
		if err != nil {
			return Handle{}, fmt.Errorf("create erc20 swap: %w", err)
		}
		tx = t
	}

	// The engine's state transition means "source/destination HTLC tx
	// confirmed", so block until the create lands.
	receipt, err := a.client.WaitForTx(ctx, tx)
	if err != nil {
		return Handle{}, fmt.Errorf("confirm create: %w", err)
	}

	a.log.Info("htlc created", "chain", a.name, "swapId", fmt.Sprintf("%x", swapID), "block", receipt.BlockNumber)
	return Handle{Kind: KindEVM, EVMContractID: swapID, EVMTxHash: tx.Hash().Hex()}, nil
}

func (a *EVMAdapter) Withdraw(ctx context.Context, handle Handle, secret preimage.Secret) (string, error) {
	if handle.Kind != KindEVM {
		return "", ErrUnsupportedOperation
	}
	var raw [32]byte = secret
	tx, err := a.client.Claim(ctx, a.privateKey, handle.EVMContractID, raw)
	if err != nil {
		return "", translateEVMError(err)
	}
	return tx.Hash().Hex(), nil
}

func (a *EVMAdapter) Refund(ctx context.Context, handle Handle) (string, error) {
	if handle.Kind != KindEVM {
		return "", ErrUnsupportedOperation
	}
	tx, err := a.client.Refund(ctx, a.privateKey, handle.EVMContractID)
	if err != nil {
		return "", translateEVMError(err)
	}
	return tx.Hash().Hex(), nil
}

func (a *EVMAdapter) CanWithdraw(ctx context.Context, handle Handle) (bool, error) {
	if handle.Kind != KindEVM {
		return false, ErrUnsupportedOperation
	}
	return a.client.CanClaim(ctx, handle.EVMContractID)
}

func (a *EVMAdapter) CanRefund(ctx context.Context, handle Handle) (bool, error) {
	if handle.Kind != KindEVM {
		return false, ErrUnsupportedOperation
	}
	return a.client.CanRefund(ctx, handle.EVMContractID)
}

func (a *EVMAdapter) Info(ctx context.Context, handle Handle) (Info, error) {
	if handle.Kind != KindEVM {
		return Info{}, ErrUnsupportedOperation
	}
	swap, err := a.client.GetSwap(ctx, handle.EVMContractID)
	if err != nil {
		return Info{}, fmt.Errorf("get swap: %w", err)
	}

	info := Info{
		Sender:    swap.Sender.Hex(),
		Receiver:  swap.Receiver.Hex(),
		Token:     swap.Token.Hex(),
		Amount:    swap.Amount,
		Hashlock:  preimage.Hashlock(swap.SecretHash),
		Timelock:  swap.Timelock.Int64(),
		Withdrawn: swap.State == htlc.SwapStateClaimed,
		Refunded:  swap.State == htlc.SwapStateRefunded,
	}
	return info, nil
}

// Observe subscribes to SwapClaimed/SwapRefunded contract events through
// the contract client's Watch* methods. The subscription needs an RPC
// endpoint that supports notifications (websocket or IPC); over plain HTTP
// the watch call fails and Observe returns that error.
func (a *EVMAdapter) Observe(ctx context.Context) (<-chan Event, <-chan error, error) {
	claimed, err := a.client.WatchSwapClaimed(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("watch claimed: %w", err)
	}
	refunded, err := a.client.WatchSwapRefunded(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("watch refunded: %w", err)
	}

	out := make(chan Event, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-claimed:
				if !ok {
					return
				}
				secret := preimage.Secret(evt.Secret)
				out <- Event{
					Handle: Handle{Kind: KindEVM, EVMContractID: evt.SwapID},
					Kind:   EventWithdrawn,
					Secret: &secret,
					TxID:   evt.TxHash.Hex(),
				}
			case evt, ok := <-refunded:
				if !ok {
					return
				}
				out <- Event{
					Handle: Handle{Kind: KindEVM, EVMContractID: evt.SwapID},
					Kind:   EventRefunded,
					TxID:   evt.TxHash.Hex(),
				}
			}
		}
	}()

	return out, errCh, nil
}

func translateEVMError(err error) error {
	if err == nil {
		return nil
	}
	// go-ethereum surfaces revert reasons as plain strings; match the
	// AtomicHTLC contract's known require() messages.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "already claimed"):
		return ErrAlreadyWithdrawn
	case strings.Contains(msg, "already refunded"):
		return ErrAlreadyRefunded
	case strings.Contains(msg, "invalid secret"):
		return ErrInvalidSecret
	case strings.Contains(msg, "not yet expired"), strings.Contains(msg, "timelock"):
		return ErrTimelockNotExpired
	default:
		return err
	}
}
