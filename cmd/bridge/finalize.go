package bridge

import (
	"context"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/finalizer"
	"github.com/solyield/corridor/pkg/wire"
)

var (
	finalizeAdapter  *string
	finalizeQuote    *bool
	finalizeLogLevel *string
)

func init() {
	finalizeAdapter = FinalizeCmd.Flags().String("adapter", "", "Adapter address whose pending transfer is finalized (defaults to the signer)")
	finalizeQuote = FinalizeCmd.Flags().Bool("quoteOnly", false, "Print the current delivery fee and exit without sending")
	finalizeLogLevel = FinalizeCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// FinalizeCmd sends the settlement message for a minted transfer. The
// amount comes from the pending slot, which carries the credited post-fee
// figure after the mint.
var FinalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Send the settlement message for a minted transfer",
	Run:   runFinalize,
}

func runFinalize(cmd *cobra.Command, args []string) {
	logger := newLogger(*finalizeLogLevel)
	ctx := context.Background()

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()

	adapter := s.conn.Signer()
	if *finalizeAdapter != "" {
		if !ethCommon.IsHexAddress(*finalizeAdapter) {
			logger.Fatal("--adapter is not a hex address")
		}
		adapter = ethCommon.HexToAddress(*finalizeAdapter)
	}

	fin := finalizer.New(s.conn, s.store, s.cctx.DestDomain, logger)

	if *finalizeQuote {
		t, err := s.store.Get(ctx, adapter)
		if err != nil {
			logger.Fatal("failed to read pending transfer", zap.Error(err))
		}
		if t.IsEmpty() {
			logger.Fatal("no pending transfer to quote for this adapter")
		}
		msg := wire.FinalizeMessage{Amount: t.Amount}
		fee, err := fin.QuoteFee(ctx, msg.Marshal(), finalizer.Options{})
		if err != nil {
			logger.Fatal("quote failed", zap.Error(err))
		}
		fmt.Printf("amount:        %d\n", t.Amount)
		fmt.Printf("native fee:    %s wei (the send re-quotes; treat as an estimate)\n", fee)
		return
	}

	receipt, err := fin.SendFinalize(ctx, adapter, finalizer.Options{})
	if err != nil {
		logger.Fatal("finalize failed", zap.Error(err))
	}

	fmt.Printf("finalize guid: %s\n", receipt.GUIDHex())
	fmt.Printf("message nonce: %d\n", receipt.Nonce)
	fmt.Printf("finalize tx:   %s\n", receipt.TxHash.Hex())
	if s.cctx.SourceExplorer != "" {
		fmt.Printf("explorer:      %s/tx/%s\n", s.cctx.SourceExplorer, receipt.TxHash.Hex())
	}
}
