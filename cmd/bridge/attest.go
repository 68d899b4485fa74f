package bridge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/attest"
)

var (
	attestTxHash   *string
	attestLogLevel *string
)

func init() {
	attestTxHash = AttestCmd.Flags().String("txHash", "", "Burn transaction hash to fetch the attestation for")
	attestLogLevel = AttestCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// AttestCmd polls the attestation service for a burn. A timeout here leaves
// the transfer untouched; re-running with the same hash resumes it.
var AttestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Wait for the attestation of a burn transaction",
	Run:   runAttest,
}

func runAttest(cmd *cobra.Command, args []string) {
	logger := newLogger(*attestLogLevel)
	ctx := context.Background()

	if *attestTxHash == "" {
		logger.Fatal("Please specify a burn transaction hash with --txHash")
	}
	txHash := ethCommon.HexToHash(*attestTxHash)

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()

	att, err := s.orch.AwaitAttestation(ctx, txHash)
	if err != nil {
		if errors.Is(err, attest.ErrAttestationTimeout) {
			logger.Fatal("attestation still pending; re-run this command later with the same --txHash", zap.Error(err))
		}
		logger.Fatal("attestation failed", zap.Error(err))
	}

	fmt.Printf("status:        complete\n")
	fmt.Printf("message:       0x%s\n", hex.EncodeToString(att.Message))
	fmt.Printf("attestation:   0x%s\n", hex.EncodeToString(att.Attestation))
	fmt.Printf("next step:     corridord mint --txHash %s\n", txHash.Hex())
}
