// Package bridge holds the corridord operator commands. Every multi-step
// command prints the identifiers needed to resume from the step it reached:
// the burn tx hash, the mint signature and the finalize GUID each key a
// later command.
package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	ipfslog "github.com/ipfs/go-log/v2"
	"github.com/mr-tron/base58"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/attest"
	"github.com/solyield/corridor/pkg/cctp"
	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/db"
	"github.com/solyield/corridor/pkg/evm"
	"github.com/solyield/corridor/pkg/orchestrator"
	"github.com/solyield/corridor/pkg/pending"
	"github.com/solyield/corridor/pkg/replay"
	"github.com/solyield/corridor/pkg/retry"
)

func newLogger(level string) *zap.Logger {
	lvl, err := ipfslog.LevelFromString(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q\n", level)
		os.Exit(1)
	}
	ipfslog.SetAllLoggers(lvl)
	return ipfslog.Logger("corridord").Desugar()
}

func loadContext() (*corridor.Context, error) {
	cfg := &corridor.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return corridor.NewContext(cfg)
}

func databasePath(cctx *corridor.Context) string {
	if cctx.DBPath != "" {
		return cctx.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".corridord"
	}
	return filepath.Join(home, ".corridord", "db")
}

// stack is the full client set one corridor invocation uses.
type stack struct {
	cctx     *corridor.Context
	logger   *zap.Logger
	conn     *evm.Connector
	minter   *cctp.Client
	attester *attest.Client
	ledger   *replay.Ledger
	store    pending.Store
	database *db.Database
	orch     *orchestrator.Orchestrator
}

func buildStack(ctx context.Context, logger *zap.Logger) (*stack, error) {
	cctx, err := loadContext()
	if err != nil {
		return nil, err
	}

	conn, err := evm.NewConnector(ctx, cctx, logger)
	if err != nil {
		return nil, err
	}
	minter, err := cctp.NewClient(cctx, logger)
	if err != nil {
		return nil, err
	}
	attester := attest.NewClient(cctx.AttestationBaseURL, retry.Policy{
		MaxAttempts: cctx.PollMaxAttempts,
		Interval:    cctx.PollInterval,
	}, logger)
	ledger := replay.NewLedger(cctx.MessageTransmitter, replay.NewRPCStateReader(minter.RPC()))
	store := pending.NewVaultStore(conn)

	database, err := db.Open(databasePath(cctx))
	if err != nil {
		return nil, err
	}

	return &stack{
		cctx:     cctx,
		logger:   logger,
		conn:     conn,
		minter:   minter,
		attester: attester,
		ledger:   ledger,
		store:    store,
		database: database,
		orch:     orchestrator.New(cctx, conn, attester, minter, ledger, store, database, logger),
	}, nil
}

func (s *stack) Close() {
	if err := s.database.Close(); err != nil {
		s.logger.Warn("failed to close database", zap.Error(err))
	}
}

// parseSolanaKey decodes a base58 32-byte key as operators paste them.
func parseSolanaKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("%q is not valid base58: %w", s, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("%q decodes to %d bytes, want 32", s, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// parseSolanaSignature decodes a base58 64-byte transaction signature.
func parseSolanaSignature(s string) (solana.Signature, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%q is not valid base58: %w", s, err)
	}
	if len(raw) != 64 {
		return solana.Signature{}, fmt.Errorf("%q decodes to %d bytes, want 64", s, len(raw))
	}
	return solana.SignatureFromBytes(raw), nil
}

func printBurnLinks(cctx *corridor.Context, txHash ethCommon.Hash) {
	fmt.Printf("burn tx:       %s\n", txHash.Hex())
	if cctx.SourceExplorer != "" {
		fmt.Printf("explorer:      %s/tx/%s\n", cctx.SourceExplorer, txHash.Hex())
	}
	if cctx.AttestationTracking != "" {
		fmt.Printf("attestation:   %s?transactionHash=%s\n", cctx.AttestationTracking, txHash.Hex())
	}
}

func printMintLinks(cctx *corridor.Context, sig solana.Signature) {
	fmt.Printf("mint sig:      %s\n", sig)
	if cctx.DestExplorer != "" {
		fmt.Printf("explorer:      %s/tx/%s\n", cctx.DestExplorer, sig)
	}
}
