package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"racewager/arbiter"
	"racewager/config"
	"racewager/crypto"
	"racewager/escrow"
	"racewager/escrow/contract"
	"racewager/escrow/script"
	"racewager/native/match"
	"racewager/observability/logging"
	"racewager/storage"
	"racewager/storage/archive"
	"racewager/storage/matchstore"
	"racewager/submit"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RACEWAGER_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("racewagerd", env, logging.FileConfig{Path: cfg.LogFile, MaxSizeMB: 100, MaxBackups: 5})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to create data directory", slog.Any("error", err))
		os.Exit(1)
	}

	arbKey, err := loadOrCreateKey(keyPath(cfg))
	if err != nil {
		logger.Error("Failed to load arbiter key", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "matches"))
	if err != nil {
		logger.Error("Failed to open match database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	arch, err := archive.Open(filepath.Join(cfg.DataDir, "archive.db"))
	if err != nil {
		logger.Error("Failed to open archive database", slog.Any("error", err))
		os.Exit(1)
	}

	store := matchstore.New(db, arch)

	journal, err := submit.OpenJournal(filepath.Join(cfg.DataDir, "journal.db"))
	if err != nil {
		logger.Error("Failed to open submission journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer journal.Close()

	sender := submit.NewHTTPSender(cfg.NodeRPC)
	submitter := submit.NewSubmitter(sender, journal, submit.Options{}, logger)

	node := newRPCNodeClient(cfg.NodeRPC)
	heightFn := func() uint64 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		height, err := node.Height(ctx)
		if err != nil {
			logger.Warn("Failed to fetch chain height", slog.Any("error", err))
			return 0
		}
		return height
	}

	backend, mode, err := buildBackend(cfg, arbKey, db, submitter, heightFn)
	if err != nil {
		logger.Error("Failed to build escrow backend", slog.Any("error", err))
		os.Exit(1)
	}

	service := arbiter.NewService(store, backend, arbiter.Config{
		EscrowMode:           mode,
		SettlementFee:        cfg.SettlementFee,
		MinDeposit:           cfg.MinDeposit,
		RefundLocktimeBlocks: cfg.RefundLocktimeBlocks,
	}, logger)
	service.SetNowFunc(func() int64 { return time.Now().Unix() })
	service.SetHeightFunc(heightFn)

	watcher := arbiter.NewWatcher(node, service, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watcher.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.ListenAddress, Handler: mux}
	go func() {
		logger.Info("Metrics listener started", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics listener failed", slog.Any("error", err))
		}
	}()

	logger.Info("Arbiter service running",
		"mode", mode.String(),
		"network", cfg.NetworkName,
		"arbiter", crypto.NewAddress(crypto.ArbPrefix, arbKey.PubKey().Address().Bytes()).String(),
	)

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics listener shutdown failed", slog.Any("error", err))
	}
}

func keyPath(cfg *config.Config) string {
	if strings.TrimSpace(cfg.ArbiterKeyPath) != "" {
		return cfg.ArbiterKeyPath
	}
	return filepath.Join(cfg.DataDir, "arbiter.key")
}

func loadOrCreateKey(path string) (*crypto.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return crypto.LoadKeyFile(path)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := crypto.SaveKeyFile(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

func buildBackend(cfg *config.Config, arbKey *crypto.PrivateKey, db storage.Database, submitter *submit.Submitter, heightFn func() uint64) (escrow.Backend, match.EscrowMode, error) {
	switch cfg.EscrowMode {
	case config.ModeScript:
		chain, err := script.NetworkParams(cfg.NetworkName)
		if err != nil {
			return nil, 0, err
		}
		backend := script.NewBackend(chain, arbKey.PubKey().CompressedBytes(), cfg.SettlementFee, submitter)
		return backend, match.ModeScript, nil
	case config.ModeContract:
		var arb [20]byte
		copy(arb[:], arbKey.PubKey().Address().Bytes())
		engine := contract.NewEngine()
		engine.SetState(contract.NewKVState(db, vaultAddress()))
		engine.SetArbiter(arb)
		engine.SetFeeTreasury(arb)
		engine.SetMinStake(contract.StakeAmount(cfg.MinDeposit))
		// The escrow deadlines are expressed in block heights, so the
		// engine clock follows the chain tip.
		engine.SetNowFunc(func() int64 { return int64(heightFn()) })
		return contract.NewBackend(engine, arb, cfg.SettlementFee), match.ModeContract, nil
	default:
		return nil, 0, fmt.Errorf("unknown escrow mode %q", cfg.EscrowMode)
	}
}

// vaultAddress derives the module vault deterministically from the module
// name, matching how native modules claim reserved accounts.
func vaultAddress() [20]byte {
	hash := ethcrypto.Keccak256([]byte("matchescrow/vault"))
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}
