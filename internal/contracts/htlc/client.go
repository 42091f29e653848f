// Package htlc wraps the generated AtomicHTLC contract bindings with the
// narrower surface the EVM chain adapter drives: deterministic swap ids,
// swap creation for native and ERC-20 assets, claim/refund, and the two
// event streams (claimed, refunded) the event integrator consumes.
package htlc

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// SwapState mirrors the contract's swap state enum.
type SwapState uint8

const (
	SwapStateEmpty    SwapState = 0
	SwapStateActive   SwapState = 1
	SwapStateClaimed  SwapState = 2
	SwapStateRefunded SwapState = 3
)

func (s SwapState) String() string {
	switch s {
	case SwapStateEmpty:
		return "empty"
	case SwapStateActive:
		return "active"
	case SwapStateClaimed:
		return "claimed"
	case SwapStateRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Swap is the on-chain swap record with its tuple fields named.
type Swap struct {
	Sender     common.Address
	Receiver   common.Address
	Token      common.Address // address(0) for the native asset
	Amount     *big.Int
	DaoFee     *big.Int
	SecretHash [32]byte
	Timelock   *big.Int
	State      SwapState
}

// IsNativeToken reports whether the swap escrows the chain's native asset.
func (s *Swap) IsNativeToken() bool {
	return s.Token == common.Address{}
}

// IsActive reports whether the swap can still be claimed or refunded.
func (s *Swap) IsActive() bool {
	return s.State == SwapStateActive
}

// Client binds one deployed AtomicHTLC contract over a dialed RPC
// connection.
type Client struct {
	client          *ethclient.Client
	contract        *AtomicHTLC
	contractAddress common.Address
	chainID         *big.Int
}

// NewClient dials rpcURL and binds the contract at contractAddress.
func NewClient(rpcURL string, contractAddress common.Address) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	contract, err := NewAtomicHTLC(contractAddress, client)
	if err != nil {
		return nil, fmt.Errorf("bind contract: %w", err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	return &Client{
		client:          client,
		contract:        contract,
		contractAddress: contractAddress,
		chainID:         chainID,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.client.Close() }

// ChainID returns the dialed chain's id.
func (c *Client) ChainID() *big.Int { return c.chainID }

// ContractAddress returns the bound contract's address.
func (c *Client) ContractAddress() common.Address { return c.contractAddress }

// ComputeSwapID asks the contract for the deterministic swap id it would
// assign to these parameters, so the caller knows the id before the create
// transaction lands.
func (c *Client) ComputeSwapID(ctx context.Context, sender, receiver, token common.Address, amount *big.Int, secretHash [32]byte, timelock, nonce *big.Int) ([32]byte, error) {
	return c.contract.ComputeSwapId(&bind.CallOpts{Context: ctx}, sender, receiver, token, amount, secretHash, timelock, nonce)
}

// CreateSwapNative escrows amount of the native asset under
// secretHash/timelock.
func (c *Client) CreateSwapNative(ctx context.Context, privateKey *ecdsa.PrivateKey, swapID [32]byte, receiver common.Address, secretHash [32]byte, timelock, amount *big.Int) (*types.Transaction, error) {
	auth, err := c.newTransactor(ctx, privateKey)
	if err != nil {
		return nil, err
	}
	auth.Value = amount
	return c.contract.CreateSwapNative(auth, swapID, receiver, secretHash, timelock)
}

// CreateSwapERC20 escrows an ERC-20 amount. The contract must already hold
// an allowance for it; see ApproveERC20.
func (c *Client) CreateSwapERC20(ctx context.Context, privateKey *ecdsa.PrivateKey, swapID [32]byte, receiver, token common.Address, amount *big.Int, secretHash [32]byte, timelock *big.Int) (*types.Transaction, error) {
	auth, err := c.newTransactor(ctx, privateKey)
	if err != nil {
		return nil, err
	}
	return c.contract.CreateSwapERC20(auth, swapID, receiver, token, amount, secretHash, timelock)
}

// ApproveERC20 grants the HTLC contract an allowance of amount on token,
// the prerequisite for CreateSwapERC20.
func (c *Client) ApproveERC20(ctx context.Context, privateKey *ecdsa.PrivateKey, token common.Address, amount *big.Int) (*types.Transaction, error) {
	from := crypto.PubkeyToAddress(privateKey.PublicKey)

	// approve(address,uint256), selector 0x095ea7b3.
	data := make([]byte, 68)
	copy(data[0:4], []byte{0x09, 0x5e, 0xa7, 0xb3})
	copy(data[4:36], common.LeftPadBytes(c.contractAddress.Bytes(), 32))
	copy(data[36:68], common.LeftPadBytes(amount.Bytes(), 32))

	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	tx := types.NewTransaction(nonce, token, big.NewInt(0), 60000, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privateKey)
	if err != nil {
		return nil, err
	}
	if err := c.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}
	return signedTx, nil
}

// Claim releases the escrow to the receiver by revealing secret.
func (c *Client) Claim(ctx context.Context, privateKey *ecdsa.PrivateKey, swapID [32]byte, secret [32]byte) (*types.Transaction, error) {
	auth, err := c.newTransactor(ctx, privateKey)
	if err != nil {
		return nil, err
	}
	return c.contract.Claim(auth, swapID, secret)
}

// Refund returns the escrow to the sender once the timelock has expired.
func (c *Client) Refund(ctx context.Context, privateKey *ecdsa.PrivateKey, swapID [32]byte) (*types.Transaction, error) {
	auth, err := c.newTransactor(ctx, privateKey)
	if err != nil {
		return nil, err
	}
	return c.contract.Refund(auth, swapID)
}

// GetSwap fetches the current on-chain swap record.
func (c *Client) GetSwap(ctx context.Context, swapID [32]byte) (*Swap, error) {
	result, err := c.contract.GetSwap(&bind.CallOpts{Context: ctx}, swapID)
	if err != nil {
		return nil, fmt.Errorf("get swap: %w", err)
	}
	return &Swap{
		Sender:     result.Sender,
		Receiver:   result.Receiver,
		Token:      result.Token,
		Amount:     result.Amount,
		DaoFee:     result.DaoFee,
		SecretHash: result.SecretHash,
		Timelock:   result.Timelock,
		State:      SwapState(result.State),
	}, nil
}

// CanClaim is the contract's non-mutating probe for claimability.
func (c *Client) CanClaim(ctx context.Context, swapID [32]byte) (bool, error) {
	return c.contract.CanClaim(&bind.CallOpts{Context: ctx}, swapID)
}

// CanRefund is the contract's non-mutating probe for refundability.
func (c *Client) CanRefund(ctx context.Context, swapID [32]byte) (bool, error) {
	return c.contract.CanRefund(&bind.CallOpts{Context: ctx}, swapID)
}

// SwapClaimedEvent carries a claim observation, including the revealed
// secret the cross-chain protocol turns on.
type SwapClaimedEvent struct {
	SwapID   [32]byte
	Receiver common.Address
	Secret   [32]byte
	TxHash   common.Hash
	BlockNum uint64
}

// SwapRefundedEvent carries a refund observation.
type SwapRefundedEvent struct {
	SwapID   [32]byte
	Sender   common.Address
	TxHash   common.Hash
	BlockNum uint64
}

// WatchSwapClaimed streams SwapClaimed events, optionally filtered to
// swapIDs, until ctx is canceled. The returned channel closes when the
// subscription ends.
func (c *Client) WatchSwapClaimed(ctx context.Context, swapIDs [][32]byte) (<-chan *SwapClaimedEvent, error) {
	ch := make(chan *AtomicHTLCSwapClaimed, 10)
	sub, err := c.contract.WatchSwapClaimed(&bind.WatchOpts{Context: ctx}, ch, swapIDs, nil)
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("watch SwapClaimed: %w", err)
	}

	out := make(chan *SwapClaimedEvent, 10)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case event := <-ch:
				if event == nil {
					return
				}
				out <- &SwapClaimedEvent{
					SwapID:   event.SwapId,
					Receiver: event.Receiver,
					Secret:   event.Secret,
					TxHash:   event.Raw.TxHash,
					BlockNum: event.Raw.BlockNumber,
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WatchSwapRefunded streams SwapRefunded events until ctx is canceled.
func (c *Client) WatchSwapRefunded(ctx context.Context, swapIDs [][32]byte) (<-chan *SwapRefundedEvent, error) {
	ch := make(chan *AtomicHTLCSwapRefunded, 10)
	sub, err := c.contract.WatchSwapRefunded(&bind.WatchOpts{Context: ctx}, ch, swapIDs, nil)
	if err != nil {
		close(ch)
		return nil, fmt.Errorf("watch SwapRefunded: %w", err)
	}

	out := make(chan *SwapRefundedEvent, 10)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case event := <-ch:
				if event == nil {
					return
				}
				out <- &SwapRefundedEvent{
					SwapID:   event.SwapId,
					Sender:   event.Sender,
					TxHash:   event.Raw.TxHash,
					BlockNum: event.Raw.BlockNumber,
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// WaitForTx blocks until tx is mined and returns its receipt.
func (c *Client) WaitForTx(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.client, tx)
}

func (c *Client) newTransactor(ctx context.Context, privateKey *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	auth.Context = ctx
	return auth, nil
}

// AddressFromPrivateKey derives the signing address for privateKey.
func AddressFromPrivateKey(privateKey *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(privateKey.PublicKey)
}

// ParsePrivateKey parses a hex-encoded secp256k1 private key (no 0x
// prefix).
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(hexKey)
}
