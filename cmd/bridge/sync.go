package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/reconcile"
)

var (
	syncAdapters  *[]string
	syncThreshold *uint64
	syncLogLevel  *string
)

func init() {
	syncAdapters = SyncCmd.Flags().StringArray("adapter", nil, "Adapter mapping as 0xADDRESS=VENUE_TOKEN_ACCOUNT, repeatable")
	syncThreshold = SyncCmd.Flags().Uint64("threshold", 0, "Absolute drift in base units above which a drift is flagged")
	syncLogLevel = SyncCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// SyncCmd re-anchors the vault's believed balances to venue truth.
var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile the vault's believed balances against the venues",
	Run:   runSync,
}

func runSync(cmd *cobra.Command, args []string) {
	logger := newLogger(*syncLogLevel)
	ctx := context.Background()

	if len(*syncAdapters) == 0 {
		logger.Fatal("Please specify at least one --adapter mapping")
	}

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()

	venues := make(map[ethCommon.Address]reconcile.VenueReader, len(*syncAdapters))
	for _, mapping := range *syncAdapters {
		addr, acct, ok := strings.Cut(mapping, "=")
		if !ok || !ethCommon.IsHexAddress(addr) {
			logger.Fatal("bad --adapter mapping, want 0xADDRESS=VENUE_TOKEN_ACCOUNT",
				zap.String("mapping", mapping))
		}
		tokenAccount, err := solana.PublicKeyFromBase58(acct)
		if err != nil {
			logger.Fatal("bad venue token account in --adapter mapping", zap.Error(err))
		}
		venues[ethCommon.HexToAddress(addr)] = reconcile.NewSolanaVenue(s.minter.RPC(), tokenAccount)
	}

	syncer := reconcile.New(s.conn, venues, logger)
	syncer.Threshold = new(big.Int).SetUint64(*syncThreshold)

	report, err := syncer.Sync(ctx)
	if err != nil {
		logger.Fatal("sync failed", zap.Error(err))
	}

	for _, drift := range report.Drifts {
		marker := ""
		if drift.Exceeded {
			marker = "  <-- above threshold"
		}
		fmt.Printf("drift:         %s believed %s, actual %s%s\n",
			drift.Adapter.Hex(), drift.Believed, drift.Actual, marker)
	}
	fmt.Printf("invested:      %s\n", report.InvestedAssets)
}
