package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
)

var (
	mintTxHash      *string
	mintMessage     *string
	mintAttestation *string
	mintLogLevel    *string
)

func init() {
	mintTxHash = MintCmd.Flags().String("txHash", "", "Burn transaction hash; the attestation is fetched before minting")
	mintMessage = MintCmd.Flags().String("message", "", "Attested bridge message (hex), alternative to --txHash")
	mintAttestation = MintCmd.Flags().String("attestation", "", "Attestation bytes (hex), required with --message")
	mintLogLevel = MintCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// MintCmd submits the attested message on the destination chain. Minting a
// nonce that was already consumed reports the prior result instead of
// failing.
var MintCmd = &cobra.Command{
	Use:   "mint",
	Short: "Mint the attested burn on the destination chain",
	Run:   runMint,
}

func decodeHexFlag(name, value string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return nil, fmt.Errorf("--%s is not valid hex: %w", name, err)
	}
	return raw, nil
}

func runMint(cmd *cobra.Command, args []string) {
	logger := newLogger(*mintLogLevel)
	ctx := context.Background()

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()

	var message, attestation []byte
	switch {
	case *mintMessage != "":
		if message, err = decodeHexFlag("message", *mintMessage); err != nil {
			logger.Fatal("invalid flag", zap.Error(err))
		}
		if attestation, err = decodeHexFlag("attestation", *mintAttestation); err != nil || len(attestation) == 0 {
			logger.Fatal("Please specify --attestation alongside --message", zap.Error(err))
		}
	case *mintTxHash != "":
		att, err := s.orch.AwaitAttestation(ctx, ethCommon.HexToHash(*mintTxHash))
		if err != nil {
			logger.Fatal("attestation not available", zap.Error(err))
		}
		message, attestation = att.Message, att.Attestation
	default:
		logger.Fatal("Please specify either --txHash or --message and --attestation")
	}

	receipt, err := s.orch.SubmitMint(ctx, message, attestation)
	if err != nil {
		logger.Fatal("mint failed", zap.Error(err))
	}

	if receipt.Replayed {
		fmt.Printf("status:        already minted (idempotent)\n")
	} else {
		fmt.Printf("status:        minted\n")
	}
	printMintLinks(s.cctx, receipt.Signature)
	fmt.Printf("minted amount: %d\n", receipt.MintedAmount)

	if *mintTxHash != "" {
		if err := s.database.UpdateTransferState(ethCommon.HexToHash(*mintTxHash), corridor.StateMinted, ""); err != nil {
			logger.Warn("failed to advance transfer state", zap.Error(err))
		}
	}
}
