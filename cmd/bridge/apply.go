package bridge

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/applier"
	"github.com/solyield/corridor/pkg/corridor"
)

var (
	applySrcDomain  *uint32
	applySender     *string
	applyMsgNonce   *uint64
	applyPayload    *string
	applyPeer       *string
	applyCustody    *string
	applyVenueAcct  *string
	applyOwnerKey   *string
	applyReapply    *bool
	applyStatusAddr *string
	applyLogLevel   *string
)

func init() {
	applySrcDomain = ApplyCmd.Flags().Uint32("srcDomain", uint32(corridor.DomainBase), "Source domain the message claims to come from")
	applySender = ApplyCmd.Flags().String("sender", "", "Message sender as 32 hex bytes")
	applyMsgNonce = ApplyCmd.Flags().Uint64("msgNonce", 0, "Messaging-layer nonce of the delivery")
	applyPayload = ApplyCmd.Flags().String("payload", "", "Finalize payload (hex)")
	applyPeer = ApplyCmd.Flags().String("peer", "", "Registered peer for the source domain, 32 hex bytes")
	applyCustody = ApplyCmd.Flags().String("custodyTokenAccount", "", "Token account holding the minted funds (base58)")
	applyVenueAcct = ApplyCmd.Flags().String("venueTokenAccount", "", "Venue deposit token account (base58)")
	applyOwnerKey = ApplyCmd.Flags().String("ownerKeypair", "", "Keypair file of the custody account owner")
	applyReapply = ApplyCmd.Flags().Bool("reapply", false, "Re-apply a stuck nonce instead of handling a new delivery")
	applyStatusAddr = ApplyCmd.Flags().String("statusAddr", "", "Listen address for the metrics endpoint (disabled if blank)")
	applyLogLevel = ApplyCmd.Flags().String("logLevel", "info", "Logging level (debug, info, warn, error, dpanic, panic, fatal)")
}

// ApplyCmd is the destination-side settlement step: it validates one
// delivered finalize message and credits the venue. Stuck deliveries are
// never retried implicitly; --reapply is the explicit administrative path.
var ApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a delivered finalize message to the yield venue",
	Run:   runApply,
}

func parseBytes32Flag(name, value string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(value, "0x"))
	if err != nil {
		return out, fmt.Errorf("--%s is not valid hex: %w", name, err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("--%s is %d bytes, want 32", name, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func runApply(cmd *cobra.Command, args []string) {
	logger := newLogger(*applyLogLevel)
	ctx := context.Background()

	if *applyStatusAddr != "" {
		router := http.NewServeMux()
		router.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("status server listening", zap.String("addr", *applyStatusAddr))
			logger.Error("status server crashed", zap.Error(http.ListenAndServe(*applyStatusAddr, router)))
		}()
	}

	s, err := buildStack(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer s.Close()

	if *applyOwnerKey == "" {
		logger.Fatal("Please specify --ownerKeypair")
	}
	owner, err := solana.PrivateKeyFromSolanaKeygenFile(*applyOwnerKey)
	if err != nil {
		logger.Fatal("failed to load owner keypair", zap.Error(err))
	}
	custody, err := solana.PublicKeyFromBase58(*applyCustody)
	if err != nil {
		logger.Fatal("Please specify a valid --custodyTokenAccount", zap.Error(err))
	}
	venueAcct, err := solana.PublicKeyFromBase58(*applyVenueAcct)
	if err != nil {
		logger.Fatal("Please specify a valid --venueTokenAccount", zap.Error(err))
	}
	venue := applier.NewSolanaVenue(s.minter.RPC(), owner, custody, venueAcct, logger)

	peer, err := parseBytes32Flag("peer", *applyPeer)
	if err != nil {
		logger.Fatal("invalid flag", zap.Error(err))
	}
	peers := map[corridor.Domain][32]byte{corridor.Domain(*applySrcDomain): peer}
	a := applier.New(s.database, venue, peers, logger)

	if *applyReapply {
		if err := a.Reapply(ctx, corridor.Domain(*applySrcDomain), *applyMsgNonce); err != nil {
			logger.Fatal("re-apply failed", zap.Error(err))
		}
		fmt.Printf("status:        stuck transfer re-applied\n")
		return
	}

	sender, err := parseBytes32Flag("sender", *applySender)
	if err != nil {
		logger.Fatal("invalid flag", zap.Error(err))
	}
	payload, err := hex.DecodeString(strings.TrimPrefix(*applyPayload, "0x"))
	if err != nil {
		logger.Fatal("--payload is not valid hex", zap.Error(err))
	}

	if err := a.Handle(ctx, corridor.Domain(*applySrcDomain), sender, *applyMsgNonce, payload); err != nil {
		logger.Fatal("apply failed", zap.Error(err))
	}
	fmt.Printf("status:        applied\n")
	fmt.Printf("message id:    %s\n", corridor.MessageID(corridor.Domain(*applySrcDomain), *applyMsgNonce))
}
