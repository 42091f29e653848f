package htlcchain

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/swapd/internal/preimage"
)

func encodeTestEscrow(t *testing.T, state byte, secret *preimage.Secret) []byte {
	t.Helper()

	sender := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	buf := make([]byte, 0, escrowAccountLen)
	buf = append(buf, sender.Bytes()...)
	buf = append(buf, receiver.Bytes()...)
	buf = append(buf, mint.Bytes()...)

	amountBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(amountBuf, 5000)
	buf = append(buf, amountBuf...)

	var hashlock preimage.Hashlock
	hashlock[0] = 0xAB
	buf = append(buf, hashlock[:]...)

	timelockBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(timelockBuf, 1_700_000_000)
	buf = append(buf, timelockBuf...)

	buf = append(buf, state)

	secretBytes := make([]byte, 32)
	if secret != nil {
		copy(secretBytes, secret[:])
	}
	buf = append(buf, secretBytes...)

	return buf
}

func TestDecodeEscrowAccountActive(t *testing.T) {
	data := encodeTestEscrow(t, 0, nil)

	info, err := decodeEscrowAccount(data)
	if err != nil {
		t.Fatalf("decodeEscrowAccount: %v", err)
	}
	if info.Withdrawn || info.Refunded {
		t.Fatal("expected a freshly created escrow to be neither withdrawn nor refunded")
	}
	if info.Amount.Int64() != 5000 {
		t.Errorf("Amount = %s, want 5000", info.Amount)
	}
	if info.Timelock != 1_700_000_000 {
		t.Errorf("Timelock = %d, want 1700000000", info.Timelock)
	}
}

func TestDecodeEscrowAccountWithdrawn(t *testing.T) {
	secret, _ := preimage.Generate()
	data := encodeTestEscrow(t, 1, &secret)

	info, err := decodeEscrowAccount(data)
	if err != nil {
		t.Fatalf("decodeEscrowAccount: %v", err)
	}
	if !info.Withdrawn {
		t.Fatal("expected Withdrawn = true")
	}
	if info.Secret == nil || *info.Secret != secret {
		t.Fatal("expected decoded secret to match")
	}
}

func TestDecodeEscrowAccountWithdrawnWithoutRecordedSecret(t *testing.T) {
	// A program that marks the escrow withdrawn before writing the secret
	// slot leaves it all-zero; the decoder must not surface that as a
	// real preimage.
	data := encodeTestEscrow(t, 1, nil)

	info, err := decodeEscrowAccount(data)
	if err != nil {
		t.Fatalf("decodeEscrowAccount: %v", err)
	}
	if !info.Withdrawn {
		t.Fatal("expected Withdrawn = true")
	}
	if info.Secret != nil {
		t.Fatal("expected no secret for an all-zero secret slot")
	}
}

func TestDecodeEscrowAccountRefunded(t *testing.T) {
	data := encodeTestEscrow(t, 2, nil)

	info, err := decodeEscrowAccount(data)
	if err != nil {
		t.Fatalf("decodeEscrowAccount: %v", err)
	}
	if !info.Refunded {
		t.Fatal("expected Refunded = true")
	}
}

func TestDecodeEscrowAccountRejectsShortData(t *testing.T) {
	if _, err := decodeEscrowAccount([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated account data")
	}
}
