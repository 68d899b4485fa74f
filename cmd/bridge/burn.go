package bridge

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	burnAmount      *uint64
	burnRecipient   *string
	burnAutoApprove *bool
	burnLogLevel    *string
)

func init() {
	burnAmount = BurnCmd.Flags().Uint64("amount", 0, "Amount to bridge in base units (USDC has 6 decimals)")
	burnRecipient = BurnCmd.Flags().String("recipient", "", "Destination token account owner (base58)")
	burnAutoApprove = BurnCmd.Flags().Bool("autoApprove", false, "Grant the bridge the missing allowance instead of failing")
	burnLogLevel = BurnCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// BurnCmd submits the source-chain burn, the first leg of a transfer.
var BurnCmd = &cobra.Command{
	Use:   "burn",
	Short: "Burn USDC on the source chain and record the pending transfer",
	Run:   runBurn,
}

func runBurn(cmd *cobra.Command, args []string) {
	logger := newLogger(*burnLogLevel)
	ctx := context.Background()

	if *burnAmount == 0 {
		logger.Fatal("Please specify --amount")
	}
	recipient, err := parseSolanaKey(*burnRecipient)
	if err != nil {
		logger.Fatal("Please specify a valid --recipient", zap.Error(err))
	}

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()
	s.orch.AutoApprove = *burnAutoApprove

	receipt, err := s.orch.InitiateBurn(ctx, *burnAmount, s.cctx.DestDomain, recipient)
	if err != nil {
		logger.Fatal("burn failed", zap.Error(err))
	}

	printBurnLinks(s.cctx, receipt.TxHash)
	fmt.Printf("nonce:         %x\n", receipt.Nonce)
	fmt.Printf("next step:     corridord attest --txHash %s\n", receipt.TxHash.Hex())
}
