package bridge

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/finalizer"
)

var (
	transferAmount      *uint64
	transferRecipient   *string
	transferAutoApprove *bool
	transferSkipFinal   *bool
	transferLogLevel    *string
)

func init() {
	transferAmount = TransferCmd.Flags().Uint64("amount", 0, "Amount to bridge in base units (USDC has 6 decimals)")
	transferRecipient = TransferCmd.Flags().String("recipient", "", "Destination token account owner (base58)")
	transferAutoApprove = TransferCmd.Flags().Bool("autoApprove", false, "Grant the bridge the missing allowance instead of failing")
	transferSkipFinal = TransferCmd.Flags().Bool("skipFinalize", false, "Stop after the mint; leave the finalize leg to a later invocation")
	transferLogLevel = TransferCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// TransferCmd drives the whole pipeline: burn, attestation wait, mint,
// finalize. Every leg prints its resume identifier before the next starts,
// so a failure at any point leaves the operator with the exact command to
// continue from.
var TransferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Run the full burn/attest/mint/finalize pipeline",
	Run:   runTransfer,
}

func runTransfer(cmd *cobra.Command, args []string) {
	logger := newLogger(*transferLogLevel)
	ctx := context.Background()

	if *transferAmount == 0 {
		logger.Fatal("Please specify --amount")
	}
	recipient, err := parseSolanaKey(*transferRecipient)
	if err != nil {
		logger.Fatal("Please specify a valid --recipient", zap.Error(err))
	}

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()
	s.orch.AutoApprove = *transferAutoApprove

	burnReceipt, err := s.orch.InitiateBurn(ctx, *transferAmount, s.cctx.DestDomain, recipient)
	if err != nil {
		logger.Fatal("burn failed", zap.Error(err))
	}
	printBurnLinks(s.cctx, burnReceipt.TxHash)

	att, err := s.orch.AwaitAttestation(ctx, burnReceipt.TxHash)
	if err != nil {
		logger.Fatal("attestation not yet available; resume with: corridord attest --txHash "+burnReceipt.TxHash.Hex(),
			zap.Error(err))
	}
	fmt.Printf("attestation:   complete\n")

	mintReceipt, err := s.orch.SubmitMint(ctx, att.Message, att.Attestation)
	if err != nil {
		logger.Fatal("mint failed; resume with: corridord mint --txHash "+burnReceipt.TxHash.Hex(),
			zap.Error(err))
	}
	printMintLinks(s.cctx, mintReceipt.Signature)
	fmt.Printf("minted amount: %d\n", mintReceipt.MintedAmount)

	if err := s.database.UpdateTransferState(burnReceipt.TxHash, corridor.StateMinted, ""); err != nil {
		logger.Warn("failed to advance transfer state", zap.Error(err))
	}

	if *transferSkipFinal {
		fmt.Printf("next step:     corridord finalize --adapter %s\n", s.conn.Signer().Hex())
		return
	}

	fin := finalizer.New(s.conn, s.store, s.cctx.DestDomain, logger)
	msgReceipt, err := fin.SendFinalize(ctx, s.conn.Signer(), finalizer.Options{})
	if err != nil {
		logger.Fatal("finalize failed; resume with: corridord finalize --adapter "+s.conn.Signer().Hex(),
			zap.Error(err))
	}
	fmt.Printf("finalize guid: %s\n", msgReceipt.GUIDHex())
	fmt.Printf("finalize tx:   %s\n", msgReceipt.TxHash.Hex())
}
