// Unit tests run without a network. The TestIntegration* cases need a local
// Anvil node with the AtomicHTLC contract deployed, pointed at via
// TEST_RPC_URL / TEST_CONTRACT_ADDRESS; they skip otherwise.
package htlc

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestSwapStateString(t *testing.T) {
	tests := []struct {
		state SwapState
		want  string
	}{
		{SwapStateEmpty, "empty"},
		{SwapStateActive, "active"},
		{SwapStateClaimed, "claimed"},
		{SwapStateRefunded, "refunded"},
		{SwapState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("SwapState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestSwapIsNativeToken(t *testing.T) {
	s := &Swap{Token: common.Address{}}
	if !s.IsNativeToken() {
		t.Error("zero token address should be native")
	}
	s.Token = common.HexToAddress("0x1111111111111111111111111111111111111111")
	if s.IsNativeToken() {
		t.Error("non-zero token address should not be native")
	}
}

func TestSwapIsActive(t *testing.T) {
	for state, want := range map[SwapState]bool{
		SwapStateEmpty:    false,
		SwapStateActive:   true,
		SwapStateClaimed:  false,
		SwapStateRefunded: false,
	} {
		s := &Swap{State: state}
		if got := s.IsActive(); got != want {
			t.Errorf("IsActive with state %s = %v, want %v", state, got, want)
		}
	}
}

func TestAddressFromPrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey)
	if got := AddressFromPrivateKey(key); got != want {
		t.Errorf("AddressFromPrivateKey = %s, want %s", got.Hex(), want.Hex())
	}
}

func TestParsePrivateKeyRoundTrip(t *testing.T) {
	original, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	parsed, err := ParsePrivateKey(common.Bytes2Hex(crypto.FromECDSA(original)))
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	if AddressFromPrivateKey(parsed) != AddressFromPrivateKey(original) {
		t.Error("parsed key derives a different address")
	}

	if _, err := ParsePrivateKey("not-hex"); err == nil {
		t.Error("expected an error for invalid hex")
	}
}

// integrationConfig wires the Anvil node the TestIntegration* cases talk
// to; defaults match Anvil's stock accounts.
type integrationConfig struct {
	rpcURL          string
	contractAddress common.Address
	deployerKey     *ecdsa.PrivateKey
	userKey         *ecdsa.PrivateKey
}

func getIntegrationConfig(t *testing.T) *integrationConfig {
	t.Helper()

	contractAddr := os.Getenv("TEST_CONTRACT_ADDRESS")
	if contractAddr == "" {
		t.Skip("TEST_CONTRACT_ADDRESS not set, skipping integration test")
	}

	rpcURL := os.Getenv("TEST_RPC_URL")
	if rpcURL == "" {
		rpcURL = "http://localhost:8545"
	}

	deployerKeyHex := os.Getenv("TEST_DEPLOYER_KEY")
	if deployerKeyHex == "" {
		deployerKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	}
	deployerKey, err := crypto.HexToECDSA(deployerKeyHex)
	if err != nil {
		t.Fatalf("invalid deployer key: %v", err)
	}

	userKeyHex := os.Getenv("TEST_USER_KEY")
	if userKeyHex == "" {
		userKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	}
	userKey, err := crypto.HexToECDSA(userKeyHex)
	if err != nil {
		t.Fatalf("invalid user key: %v", err)
	}

	return &integrationConfig{
		rpcURL:          rpcURL,
		contractAddress: common.HexToAddress(contractAddr),
		deployerKey:     deployerKey,
		userKey:         userKey,
	}
}

func integrationClient(t *testing.T) (*integrationConfig, *Client) {
	t.Helper()
	cfg := getIntegrationConfig(t)
	client, err := NewClient(cfg.rpcURL, cfg.contractAddress)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return cfg, client
}

func randomSecret(t *testing.T) (secret, hash [32]byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("entropy: %v", err)
	}
	copy(secret[:], crypto.FromECDSA(key))
	return secret, sha256.Sum256(secret[:])
}

func TestIntegrationNewClient(t *testing.T) {
	cfg, client := integrationClient(t)

	if client.ChainID() == nil {
		t.Error("ChainID is nil")
	}
	if client.ContractAddress() != cfg.contractAddress {
		t.Errorf("ContractAddress = %s, want %s", client.ContractAddress().Hex(), cfg.contractAddress.Hex())
	}
}

func TestIntegrationComputeSwapID(t *testing.T) {
	cfg, client := integrationClient(t)
	ctx := context.Background()

	sender := AddressFromPrivateKey(cfg.deployerKey)
	receiver := AddressFromPrivateKey(cfg.userKey)
	_, secretHash := randomSecret(t)
	amount := big.NewInt(1e18)
	timelock := big.NewInt(time.Now().Add(time.Hour).Unix())

	id1, err := client.ComputeSwapID(ctx, sender, receiver, common.Address{}, amount, secretHash, timelock, big.NewInt(1))
	if err != nil {
		t.Fatalf("ComputeSwapID: %v", err)
	}
	id2, err := client.ComputeSwapID(ctx, sender, receiver, common.Address{}, amount, secretHash, timelock, big.NewInt(1))
	if err != nil {
		t.Fatalf("ComputeSwapID: %v", err)
	}
	if id1 != id2 {
		t.Error("ComputeSwapID is not deterministic")
	}

	id3, err := client.ComputeSwapID(ctx, sender, receiver, common.Address{}, amount, secretHash, timelock, big.NewInt(2))
	if err != nil {
		t.Fatalf("ComputeSwapID: %v", err)
	}
	if id1 == id3 {
		t.Error("different nonce produced the same swap id")
	}
}

func TestIntegrationCreateAndClaimNativeSwap(t *testing.T) {
	cfg, client := integrationClient(t)
	ctx := context.Background()

	sender := AddressFromPrivateKey(cfg.deployerKey)
	receiver := AddressFromPrivateKey(cfg.userKey)
	secret, secretHash := randomSecret(t)
	amount := big.NewInt(1e16)
	timelock := big.NewInt(time.Now().Add(time.Hour).Unix())
	nonce := big.NewInt(time.Now().UnixNano())

	swapID, err := client.ComputeSwapID(ctx, sender, receiver, common.Address{}, amount, secretHash, timelock, nonce)
	if err != nil {
		t.Fatalf("ComputeSwapID: %v", err)
	}

	tx, err := client.CreateSwapNative(ctx, cfg.deployerKey, swapID, receiver, secretHash, timelock, amount)
	if err != nil {
		t.Fatalf("CreateSwapNative: %v", err)
	}
	if _, err := client.WaitForTx(ctx, tx); err != nil {
		t.Fatalf("WaitForTx(create): %v", err)
	}

	swap, err := client.GetSwap(ctx, swapID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if !swap.IsActive() || !swap.IsNativeToken() {
		t.Fatalf("created swap state = %s, token = %s", swap.State, swap.Token.Hex())
	}
	if swap.SecretHash != secretHash {
		t.Error("on-chain secret hash does not match")
	}

	ok, err := client.CanClaim(ctx, swapID)
	if err != nil || !ok {
		t.Fatalf("CanClaim = %v, %v, want true", ok, err)
	}

	tx, err = client.Claim(ctx, cfg.userKey, swapID, secret)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := client.WaitForTx(ctx, tx); err != nil {
		t.Fatalf("WaitForTx(claim): %v", err)
	}

	swap, err = client.GetSwap(ctx, swapID)
	if err != nil {
		t.Fatalf("GetSwap after claim: %v", err)
	}
	if swap.State != SwapStateClaimed {
		t.Errorf("state after claim = %s, want claimed", swap.State)
	}
}

func TestIntegrationCreateAndRefundNativeSwap(t *testing.T) {
	cfg, client := integrationClient(t)
	ctx := context.Background()

	sender := AddressFromPrivateKey(cfg.deployerKey)
	receiver := AddressFromPrivateKey(cfg.userKey)
	_, secretHash := randomSecret(t)
	amount := big.NewInt(1e16)
	// Anvil honors evm_increaseTime, but the simplest portable refund test
	// is a timelock barely in the future plus a short wait.
	timelock := big.NewInt(time.Now().Add(3 * time.Second).Unix())
	nonce := big.NewInt(time.Now().UnixNano())

	swapID, err := client.ComputeSwapID(ctx, sender, receiver, common.Address{}, amount, secretHash, timelock, nonce)
	if err != nil {
		t.Fatalf("ComputeSwapID: %v", err)
	}

	tx, err := client.CreateSwapNative(ctx, cfg.deployerKey, swapID, receiver, secretHash, timelock, amount)
	if err != nil {
		t.Fatalf("CreateSwapNative: %v", err)
	}
	if _, err := client.WaitForTx(ctx, tx); err != nil {
		t.Fatalf("WaitForTx(create): %v", err)
	}

	time.Sleep(4 * time.Second)

	ok, err := client.CanRefund(ctx, swapID)
	if err != nil || !ok {
		t.Fatalf("CanRefund = %v, %v, want true", ok, err)
	}

	tx, err = client.Refund(ctx, cfg.deployerKey, swapID)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if _, err := client.WaitForTx(ctx, tx); err != nil {
		t.Fatalf("WaitForTx(refund): %v", err)
	}

	swap, err := client.GetSwap(ctx, swapID)
	if err != nil {
		t.Fatalf("GetSwap after refund: %v", err)
	}
	if swap.State != SwapStateRefunded {
		t.Errorf("state after refund = %s, want refunded", swap.State)
	}
}
