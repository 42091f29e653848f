package htlcchain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/klingon-exchange/swapd/internal/preimage"
	"github.com/klingon-exchange/swapd/pkg/helpers"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

// Solana HTLC program instruction discriminants: create, withdraw and
// refund over one escrow account per swap, the Solana-side mirror of the
// EVM AtomicHTLC contract's createSwap/claim/refund calls. Escrow state is
// read from the account data (see Info) rather than through an instruction.
const (
	solanaInstrCreate   byte = 0
	solanaInstrWithdraw byte = 1
	solanaInstrRefund   byte = 2
)

// escrowAccountLen is the size of the fixed account data layout the program
// writes for each HTLC: sender(32) + receiver(32) + mint(32) + amount(8) +
// hashlock(32) + timelock(8) + state(1) + secret(32, all-zero until
// revealed).
const escrowAccountLen = 32 + 32 + 32 + 8 + 32 + 8 + 1 + 32

// SolanaAdapter drives an HTLC-style program on Solana using
// gagliardetto/solana-go for RPC access and transaction signing.
type SolanaAdapter struct {
	name      string
	rpcClient *rpc.Client
	programID solana.PublicKey
	payer     solana.PrivateKey
	log       *logging.Logger
}

// NewSolanaAdapter builds an adapter against programID, signing transactions
// with payer and submitting them through the JSON-RPC endpoint at rpcURL.
func NewSolanaAdapter(name, rpcURL string, programID solana.PublicKey, payer solana.PrivateKey) *SolanaAdapter {
	return &SolanaAdapter{
		name:      name,
		rpcClient: rpc.New(rpcURL),
		programID: programID,
		payer:     payer,
		log:       logging.Component("solana"),
	}
}

func (a *SolanaAdapter) Name() string { return a.name }

func (a *SolanaAdapter) Address() string { return a.payer.PublicKey().String() }

func (a *SolanaAdapter) CreateHTLC(ctx context.Context, params CreateParams) (Handle, error) {
	receiver, err := solana.PublicKeyFromBase58(params.Receiver)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrInvalidReceiver, err)
	}
	sender, err := solana.PublicKeyFromBase58(params.Sender)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	if params.Timelock <= time.Now().Unix() {
		return Handle{}, ErrInvalidTimelock
	}

	escrow := solana.NewWallet()

	data := make([]byte, 0, 1+8+32+8)
	data = append(data, solanaInstrCreate)
	amountBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(amountBuf, params.Amount.Uint64())
	data = append(data, amountBuf...)
	data = append(data, params.Hashlock[:]...)
	timelockBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(timelockBuf, uint64(params.Timelock))
	data = append(data, timelockBuf...)

	instr := solana.NewInstruction(a.programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(escrow.PublicKey(), true, true),
		solana.NewAccountMeta(sender, false, true),
		solana.NewAccountMeta(receiver, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}, data)

	sig, err := a.send(ctx, instr, escrow.PrivateKey)
	if err != nil {
		return Handle{}, fmt.Errorf("create htlc: %w", err)
	}

	a.log.Info("htlc created", "chain", a.name, "escrow", escrow.PublicKey().String())
	return Handle{
		Kind:                  KindSolana,
		SolanaEscrowAccount:   escrow.PublicKey().String(),
		SolanaCreateSignature: sig.String(),
	}, nil
}

func (a *SolanaAdapter) Withdraw(ctx context.Context, handle Handle, secret preimage.Secret) (string, error) {
	if handle.Kind != KindSolana {
		return "", ErrUnsupportedOperation
	}
	escrow, err := solana.PublicKeyFromBase58(handle.SolanaEscrowAccount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandleNotFound, err)
	}

	info, err := a.Info(ctx, handle)
	if err != nil {
		return "", err
	}
	if info.Withdrawn {
		return "", ErrAlreadyWithdrawn
	}
	if info.Refunded {
		return "", ErrAlreadyRefunded
	}
	if !preimage.Verify(secret, info.Hashlock) {
		return "", ErrInvalidSecret
	}
	if time.Now().Unix() >= info.Timelock {
		return "", ErrWindowClosed
	}

	data := append([]byte{solanaInstrWithdraw}, secret[:]...)
	instr := solana.NewInstruction(a.programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(escrow, true, false),
		solana.NewAccountMeta(a.payer.PublicKey(), true, true),
	}, data)

	sig, err := a.send(ctx, instr)
	if err != nil {
		return "", fmt.Errorf("withdraw: %w", err)
	}
	return sig.String(), nil
}

func (a *SolanaAdapter) Refund(ctx context.Context, handle Handle) (string, error) {
	if handle.Kind != KindSolana {
		return "", ErrUnsupportedOperation
	}
	escrow, err := solana.PublicKeyFromBase58(handle.SolanaEscrowAccount)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHandleNotFound, err)
	}

	info, err := a.Info(ctx, handle)
	if err != nil {
		return "", err
	}
	if info.Refunded {
		return "", ErrAlreadyRefunded
	}
	if info.Withdrawn {
		return "", ErrAlreadyWithdrawn
	}
	if time.Now().Unix() < info.Timelock {
		return "", ErrTimelockNotExpired
	}

	instr := solana.NewInstruction(a.programID, solana.AccountMetaSlice{
		solana.NewAccountMeta(escrow, true, false),
		solana.NewAccountMeta(a.payer.PublicKey(), true, true),
	}, []byte{solanaInstrRefund})

	sig, err := a.send(ctx, instr)
	if err != nil {
		return "", fmt.Errorf("refund: %w", err)
	}
	return sig.String(), nil
}

func (a *SolanaAdapter) CanWithdraw(ctx context.Context, handle Handle) (bool, error) {
	info, err := a.Info(ctx, handle)
	if err != nil {
		return false, err
	}
	return !info.Withdrawn && !info.Refunded && time.Now().Unix() < info.Timelock, nil
}

func (a *SolanaAdapter) CanRefund(ctx context.Context, handle Handle) (bool, error) {
	info, err := a.Info(ctx, handle)
	if err != nil {
		return false, err
	}
	return !info.Withdrawn && !info.Refunded && time.Now().Unix() >= info.Timelock, nil
}

func (a *SolanaAdapter) Info(ctx context.Context, handle Handle) (Info, error) {
	if handle.Kind != KindSolana {
		return Info{}, ErrUnsupportedOperation
	}
	escrow, err := solana.PublicKeyFromBase58(handle.SolanaEscrowAccount)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrHandleNotFound, err)
	}

	out, err := a.rpcClient.GetAccountInfo(ctx, escrow)
	if err != nil {
		return Info{}, fmt.Errorf("get account info: %w", err)
	}
	if out == nil || out.Value == nil {
		return Info{}, ErrHandleNotFound
	}

	return decodeEscrowAccount(out.Value.Data.GetBinary())
}

// Observe neither polls nor subscribes: it returns an event channel and an
// error channel that are both already closed. No withdrawn or refunded
// events for Solana HTLCs reach the event integrator through it.
func (a *SolanaAdapter) Observe(ctx context.Context) (<-chan Event, <-chan error, error) {
	out := make(chan Event)
	errCh := make(chan error, 1)
	close(out)
	close(errCh)
	return out, errCh, nil
}

// send submits instr paid for and signed by a.payer, plus any extraSigners
// (e.g. a freshly generated escrow keypair that must co-sign its own
// account-creation instruction).
func (a *SolanaAdapter) send(ctx context.Context, instr solana.Instruction, extraSigners ...solana.PrivateKey) (solana.Signature, error) {
	recent, err := a.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instr},
		recent.Value.Blockhash,
		solana.TransactionPayer(a.payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	signers := map[solana.PublicKey]solana.PrivateKey{a.payer.PublicKey(): a.payer}
	for _, s := range extraSigners {
		signers[s.PublicKey()] = s
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if pk, ok := signers[key]; ok {
			return &pk
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	return a.rpcClient.SendTransaction(ctx, tx)
}

func decodeEscrowAccount(data []byte) (Info, error) {
	if len(data) < escrowAccountLen {
		return Info{}, fmt.Errorf("htlcchain: escrow account data too short: %d bytes", len(data))
	}

	offset := 0
	sender := solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	receiver := solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	mint := solana.PublicKeyFromBytes(data[offset : offset+32])
	offset += 32
	amount := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	var hashlock preimage.Hashlock
	copy(hashlock[:], data[offset:offset+32])
	offset += 32
	timelock := binary.LittleEndian.Uint64(data[offset : offset+8])
	offset += 8
	state := data[offset]
	offset++
	secretBytes := data[offset : offset+32]

	info := Info{
		Sender:   sender.String(),
		Receiver: receiver.String(),
		Token:    mint.String(),
		Amount:   new(big.Int).SetUint64(amount),
		Hashlock: hashlock,
		Timelock: int64(timelock),
	}

	switch state {
	case 1:
		info.Withdrawn = true
		// The secret slot is all-zero until the program records the
		// revealed preimage.
		if !helpers.IsZeroBytes(secretBytes) {
			var secret preimage.Secret
			copy(secret[:], secretBytes)
			info.Secret = &secret
		}
	case 2:
		info.Refunded = true
	}

	return info, nil
}
