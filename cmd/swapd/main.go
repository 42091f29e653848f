// Command swapd is the cross-chain atomic-swap coordinator CLI: one
// process that plays maker, taker, resolver, and relayer for an EVM<->Solana
// HTLC swap.
package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/klingon-exchange/swapd/internal/config"
	"github.com/klingon-exchange/swapd/internal/contracts/htlc"
	"github.com/klingon-exchange/swapd/internal/feed"
	"github.com/klingon-exchange/swapd/internal/htlcchain"
	"github.com/klingon-exchange/swapd/internal/liquidity"
	"github.com/klingon-exchange/swapd/internal/swap"
	"github.com/klingon-exchange/swapd/pkg/helpers"
	"github.com/klingon-exchange/swapd/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

const (
	chainEVM    = "evm"
	chainSolana = "solana"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	cmd, rest := args[0], args[1:]
	if cmd == "-h" || cmd == "--help" {
		cmd = "help"
	}

	log := logging.Default()
	logging.SetDefault(log)

	switch cmd {
	case "help":
		printUsage()
		return 0
	case "init":
		return cmdInit(rest, log)
	case "fund":
		return cmdFund(rest, log)
	case "swap":
		return cmdSwap(rest, log)
	case "monitor":
		return cmdMonitor(rest, log)
	case "recover":
		return cmdRecover(rest, log)
	case "status":
		return cmdStatus(rest, log)
	default:
		fmt.Fprintf(os.Stderr, "swapd: unknown command %q\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `swapd %s (commit %s)

A cross-chain atomic-swap coordinator for EVM <-> Solana HTLCs.

Usage:
  swapd init                                    write a default config file
  swapd fund --amount N [--chain evm|solana]    report/refresh liquidity for a chain
  swapd swap --from CHAIN --to CHAIN --amount N --sender A --receiver A
                                                 initiate a swap and drive it to completion
  swapd monitor [--ws-addr HOST:PORT]           run the event integrator in the foreground,
                                                 optionally serving a WebSocket swap feed
  swapd recover                                 run the recovery driver in the foreground
  swapd status --id ID                          print the status of a swap (same-process only)
  swapd help                                     show this message

Global flags (repeat on every subcommand): --config PATH, --log-level LEVEL.
`, version, commit)
}

// globalFlags registers the config/log-level flags every subcommand shares.
func globalFlags(fs *flag.FlagSet) (configPath, logLevel *string) {
	configPath = fs.String("config", "", "config file path (default: ./swapd.yaml)")
	logLevel = fs.String("log-level", "info", "log level (debug, info, warn, error)")
	return
}

func loadConfig(path, logLevel string, log *logging.Logger) (*config.Config, error) {
	log.SetLevel(logging.ParseLevel(logLevel))
	if path == "" {
		if _, err := os.Stat("swapd.yaml"); err == nil {
			path = "swapd.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func cmdInit(args []string, log *logging.Logger) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	_, _ = globalFlags(fs)
	out := fs.String("out", "swapd.yaml", "path to write the default config")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := os.Stat(*out); err == nil {
		fmt.Fprintf(os.Stderr, "swapd: %s already exists\n", *out)
		return 1
	}

	cfg := config.Default()
	data := defaultConfigYAML(cfg)
	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil && filepath.Dir(*out) != "." {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}
	if err := os.WriteFile(*out, []byte(data), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "swapd: writing %s: %v\n", *out, err)
		return 1
	}

	log.Infof("wrote default config to %s", *out)
	return 0
}

func defaultConfigYAML(cfg *config.Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "evm:\n  rpcUrl: \"\"\n  privateKey: \"\"\n  tokenAddress: \"\"\n  htlcFactoryAddress: \"\"\n")
	fmt.Fprintf(&b, "solana:\n  rpcUrl: \"\"\n  keypair: \"\"\n  programId: \"\"\n  tokenMint: \"\"\n")
	fmt.Fprintf(&b, "timelocks:\n  finality: %d\n  resolver: %d\n  public: %d\n  cancellation: %d\n",
		cfg.Timelocks.FinalitySeconds, cfg.Timelocks.ResolverSeconds, cfg.Timelocks.PublicSeconds, cfg.Timelocks.CancellationSeconds)
	fmt.Fprintf(&b, "limits:\n  minAmount: \"%s\"\n  maxAmount: \"%s\"\n  maxConcurrentSwaps: %d\n",
		cfg.Limits.MinAmount, cfg.Limits.MaxAmount, cfg.Limits.MaxConcurrentSwaps)
	fmt.Fprintf(&b, "testMode: false\n")
	return b.String()
}

func cmdFund(args []string, log *logging.Logger) int {
	fs := flag.NewFlagSet("fund", flag.ContinueOnError)
	configPath, logLevel := globalFlags(fs)
	amount := fs.String("amount", "", "amount to credit, in smallest token units")
	chain := fs.String("chain", chainEVM, "chain to fund (evm|solana)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *amount == "" {
		fmt.Fprintln(os.Stderr, "swapd: fund requires --amount")
		return 1
	}

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	amt, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		fmt.Fprintf(os.Stderr, "swapd: invalid --amount %q\n", *amount)
		return 1
	}

	ledger := liquidity.New()
	registerChains(ledger, cfg)

	existing, _ := ledger.Status(*chain)
	newBalance := new(big.Int).Add(existing.Balance, amt)
	ledger.Register(*chain, existing.Token, newBalance)

	status, err := ledger.Status(*chain)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}
	log.Infof("%s balance now %s (available %s)", *chain, status.Balance, status.Available)
	return 0
}

func cmdSwap(args []string, log *logging.Logger) int {
	fs := flag.NewFlagSet("swap", flag.ContinueOnError)
	configPath, logLevel := globalFlags(fs)
	from := fs.String("from", chainEVM, "source chain (evm|solana)")
	to := fs.String("to", chainSolana, "destination chain (evm|solana)")
	amount := fs.String("amount", "", "swap amount, in smallest token units")
	sender := fs.String("sender", "", "sender address on the source chain")
	receiver := fs.String("receiver", "", "receiver address on the destination chain")
	timeout := fs.Duration("timeout", 2*time.Minute, "how long to wait for the swap to reach a terminal state")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *amount == "" || *sender == "" || *receiver == "" {
		fmt.Fprintln(os.Stderr, "swapd: swap requires --amount, --sender, and --receiver")
		return 1
	}

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	amt, ok := new(big.Int).SetString(*amount, 10)
	if !ok {
		fmt.Fprintf(os.Stderr, "swapd: invalid --amount %q\n", *amount)
		return 1
	}

	eng, ledger, integrator, recovery, err := buildRuntime(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}
	ledger.Register(*from, "", new(big.Int).Mul(amt, big.NewInt(1000)))
	ledger.Register(*to, "", new(big.Int).Mul(amt, big.NewInt(1000)))

	ctx, cancel := signalContext()
	defer cancel()

	if err := integrator.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "swapd: starting event integrator: %v\n", err)
		return 1
	}
	defer integrator.Stop()
	recovery.Start(ctx)
	defer recovery.Stop()

	rec, err := eng.Initiate(ctx, swap.Request{
		SourceChain: *from,
		DestChain:   *to,
		Amount:      amt,
		Sender:      *sender,
		Receiver:    *receiver,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: initiate failed: %v\n", err)
		return 1
	}
	log.Infof("swap %s initiated, state=%s", rec.ID, rec.State)

	deadline := time.After(*timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	lastState := rec.State
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "swapd: interrupted")
			return 1
		case <-deadline:
			fmt.Fprintf(os.Stderr, "swapd: swap %s did not reach a terminal state within %s\n", rec.ID, *timeout)
			return 1
		case <-ticker.C:
			cur, err := eng.GetStatus(rec.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
				return 1
			}
			if cur.State != lastState {
				log.Infof("swap %s: %s -> %s", rec.ID, lastState, cur.State)
				lastState = cur.State
			}
			if cur.IsTerminal() {
				printRecord(cur)
				if cur.State == swap.StateCompleted {
					return 0
				}
				return 1
			}
		}
	}
}

func cmdMonitor(args []string, log *logging.Logger) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	configPath, logLevel := globalFlags(fs)
	wsAddr := fs.String("ws-addr", "", "if set, serve a WebSocket feed of swap state transitions on this address (e.g. :8090)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	eng, _, integrator, _, err := buildRuntime(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *wsAddr != "" {
		hub := feed.NewHub()
		stop := make(chan struct{})
		go hub.Run(stop)
		eng.SetNotifier(hub.BroadcastRecord)

		mux := http.NewServeMux()
		mux.HandleFunc("/ws", hub.Handler())
		srv := &http.Server{Addr: *wsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("websocket feed server: %v", err)
			}
		}()
		defer func() {
			close(stop)
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Infof("swap feed listening on %s/ws", *wsAddr)
	}

	if err := integrator.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "swapd: starting event integrator: %v\n", err)
		return 1
	}
	log.Info("monitor running, press ctrl-c to stop")
	<-ctx.Done()
	integrator.Stop()
	log.Info("monitor stopped")
	return 0
}

func cmdRecover(args []string, log *logging.Logger) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	configPath, logLevel := globalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	_, _, _, recovery, err := buildRuntime(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	ctx, cancel := signalContext()
	defer cancel()

	recovery.Start(ctx)
	log.Info("recovery driver running, press ctrl-c to stop")
	<-ctx.Done()
	recovery.Stop()
	log.Info("recovery driver stopped")
	return 0
}

func cmdStatus(args []string, log *logging.Logger) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath, logLevel := globalFlags(fs)
	id := fs.String("id", "", "swap id to query")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == "" {
		fmt.Fprintln(os.Stderr, "swapd: status requires --id")
		return 1
	}

	cfg, err := loadConfig(*configPath, *logLevel, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	eng, _, _, _, err := buildRuntime(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}

	// The swap registry is process-local and never persisted: a status
	// lookup only succeeds against the swap(s) this same process
	// initiated earlier in its lifetime, never across invocations.
	// Standalone `status` always reports not-found; it's meant to be
	// called from the same long-running process as `swap` in an
	// embedding harness, not shelled out to independently.
	rec, err := eng.GetStatus(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "swapd: %v\n", err)
		return 1
	}
	printRecord(rec)
	return 0
}

func printRecord(rec swap.Record) {
	fmt.Printf("swap %s\n", rec.ID)
	fmt.Printf("  state:     %s\n", rec.State)
	fmt.Printf("  amount:    %s (%s units)\n", helpers.FormatBigAmount(rec.Request.Amount, 6), rec.Request.Amount)
	fmt.Printf("  from:      %s -> %s\n", rec.Request.SourceChain, rec.Request.DestChain)
	if rec.ErrorDescription != "" {
		fmt.Printf("  error:     %s\n", rec.ErrorDescription)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// registerChains registers both configured chains at a zero balance; fund
// and swap's own liquidity setup then credit them.
func registerChains(ledger *liquidity.Ledger, cfg *config.Config) {
	ledger.Register(chainEVM, cfg.EVM.TokenAddress, big.NewInt(0))
	ledger.Register(chainSolana, cfg.Solana.TokenMint, big.NewInt(0))
}

// buildRuntime wires one engine, liquidity ledger, event integrator, and
// recovery driver from cfg, dialing the EVM and Solana chain adapters the
// configuration file describes.
func buildRuntime(cfg *config.Config, log *logging.Logger) (*swap.Engine, *liquidity.Ledger, *swap.EventIntegrator, *swap.RecoveryDriver, error) {
	adapters, err := buildAdapters(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	ledger := liquidity.New()
	registerChains(ledger, cfg)

	eng := swap.NewEngine(cfg, ledger, adapters)
	integrator := swap.NewEventIntegrator(eng, adapters)
	recovery := swap.NewRecoveryDriver(eng)

	return eng, ledger, integrator, recovery, nil
}

// buildAdapters dials the configured EVM and Solana endpoints. A chain
// whose private key/keypair or RPC URL is unset is skipped, which means
// Initiate will reject swaps that name
// it with CHAIN_NOT_SUPPORTED rather than dialing an incomplete config.
func buildAdapters(cfg *config.Config) (map[string]htlcchain.ChainAdapter, error) {
	adapters := make(map[string]htlcchain.ChainAdapter)

	if cfg.EVM.PrivateKey != "" && cfg.EVM.RPCURL != "" {
		pk, err := htlc.ParsePrivateKey(strings.TrimPrefix(cfg.EVM.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("evm.privateKey: %w", err)
		}
		adapter, err := htlcchain.NewEVMAdapter(chainEVM, cfg.EVM.RPCURL, common.HexToAddress(cfg.EVM.HTLCFactoryAddr), pk)
		if err != nil {
			return nil, err
		}
		adapters[chainEVM] = adapter
	}

	if cfg.Solana.Keypair != "" && cfg.Solana.RPCURL != "" {
		payer, err := parseSolanaPrivateKey(cfg.Solana.Keypair)
		if err != nil {
			return nil, fmt.Errorf("solana.keypair: %w", err)
		}
		programID, err := solana.PublicKeyFromBase58(cfg.Solana.ProgramID)
		if err != nil {
			return nil, fmt.Errorf("solana.programId: %w", err)
		}
		adapters[chainSolana] = htlcchain.NewSolanaAdapter(chainSolana, cfg.Solana.RPCURL, programID, payer)
	}

	return adapters, nil
}

// parseSolanaPrivateKey decodes the hex-encoded keypair the configuration file carries
// (rather than solana-go's native base58/JSON-array conventions, to keep
// every chain's secret in one wire format) into an ed25519 keypair.
func parseSolanaPrivateKey(hexKey string) (solana.PrivateKey, error) {
	raw, err := helpers.HexToBytes(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return solana.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return solana.PrivateKey(ed25519.NewKeyFromSeed(raw)), nil
	default:
		return nil, fmt.Errorf("expected %d or %d raw bytes, got %d", ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}
