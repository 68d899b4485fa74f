package bridge

import (
	"context"
	"errors"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/db"
)

var (
	statusTxHash    *string
	statusInitiator *string
	statusMintSig   *string
	statusLogLevel  *string
)

func init() {
	statusTxHash = StatusCmd.Flags().String("txHash", "", "Burn transaction hash to inspect")
	statusInitiator = StatusCmd.Flags().String("initiator", "", "Initiator address; resolves its latest burn and pending slot")
	statusMintSig = StatusCmd.Flags().String("mintSig", "", "Mint signature (base58) to print an explorer link for")
	statusLogLevel = StatusCmd.Flags().String("logLevel", "warn", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// StatusCmd answers "where is my transfer": local receipt, pending slot and
// replay marker for one burn, plus any stuck settlements.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where a transfer sits in the pipeline",
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	logger := newLogger(*statusLogLevel)
	ctx := context.Background()

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()

	if *statusMintSig != "" {
		sig, err := parseSolanaSignature(*statusMintSig)
		if err != nil {
			logger.Fatal("invalid --mintSig", zap.Error(err))
		}
		printMintLinks(s.cctx, sig)
	}

	receipt, err := resolveBurnReceipt(s)
	if errors.Is(err, db.ErrReceiptNotFound) {
		fmt.Printf("receipt:       none recorded locally\n")
	} else if err != nil {
		logger.Fatal("failed to resolve burn receipt", zap.Error(err))
	}

	if receipt != nil {
		fmt.Printf("burn tx:       %s\n", receipt.TxHash.Hex())
		fmt.Printf("state:         %s\n", receipt.State)
		fmt.Printf("amount:        %d\n", receipt.Amount)
		if receipt.FailureReason != "" {
			fmt.Printf("failure:       %s\n", receipt.FailureReason)
		}

		used, err := s.ledger.IsUsed(ctx, uint32(s.cctx.SourceDomain), receipt.Nonce)
		if err != nil {
			logger.Warn("replay marker check failed", zap.Error(err))
		} else {
			fmt.Printf("minted:        %v (replay marker)\n", used)
		}

		slot, err := s.store.Get(ctx, receipt.Initiator)
		if err != nil {
			logger.Warn("pending slot read failed", zap.Error(err))
		} else if slot.IsEmpty() {
			fmt.Printf("pending slot:  empty (settled or never occupied)\n")
		} else {
			fmt.Printf("pending slot:  amount %d, nonce %x\n", slot.Amount, slot.Nonce[:8])
		}
	}

	stuck, err := s.database.ListStuck()
	if err != nil {
		logger.Fatal("failed to list stuck settlements", zap.Error(err))
	}
	for id, amount := range stuck {
		fmt.Printf("stuck:         %s (%d base units awaiting re-apply)\n", id, amount)
	}
}

func resolveBurnReceipt(s *stack) (*corridor.BurnReceipt, error) {
	if *statusTxHash != "" {
		return s.database.GetBurnReceipt(ethCommon.HexToHash(*statusTxHash))
	}
	if *statusInitiator != "" {
		if !ethCommon.IsHexAddress(*statusInitiator) {
			return nil, fmt.Errorf("--initiator is not a hex address")
		}
		return s.database.LatestBurnForInitiator(ethCommon.HexToAddress(*statusInitiator))
	}
	return nil, db.ErrReceiptNotFound
}
