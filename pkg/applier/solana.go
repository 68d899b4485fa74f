package applier

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/retry"
)

// SolanaVenue credits the yield venue by moving minted funds from the
// custody token account into the venue's deposit token account. The custody
// account's owner key signs.
type SolanaVenue struct {
	logger  *zap.Logger
	client  *rpc.Client
	owner   solana.PrivateKey
	custody solana.PublicKey
	venue   solana.PublicKey
}

func NewSolanaVenue(client *rpc.Client, owner solana.PrivateKey, custody, venue solana.PublicKey, logger *zap.Logger) *SolanaVenue {
	return &SolanaVenue{
		logger:  logger,
		client:  client,
		owner:   owner,
		custody: custody,
		venue:   venue,
	}
}

// Apply transfers amount base units custody -> venue and waits for the
// transfer to confirm. The returned reference is the transaction signature.
func (v *SolanaVenue) Apply(ctx context.Context, amount uint64) (string, error) {
	recent, err := v.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to fetch recent blockhash: %w", err)
	}

	ix := token.NewTransferInstruction(amount, v.custody, v.venue, v.owner.PublicKey(), nil).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(v.owner.PublicKey()),
	)
	if err != nil {
		return "", fmt.Errorf("failed to build venue transfer: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(v.owner.PublicKey()) {
			return &v.owner
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("failed to sign venue transfer: %w", err)
	}

	sig, err := v.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("venue transfer rejected: %w", err)
	}

	_, err = retry.Do(ctx, retry.Policy{MaxAttempts: 30, Interval: 2 * time.Second},
		func(ctx context.Context) (struct{}, error) {
			res, err := v.client.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				return struct{}{}, err
			}
			if len(res.Value) == 0 || res.Value[0] == nil {
				return struct{}{}, fmt.Errorf("signature %s not yet known", sig)
			}
			if res.Value[0].Err != nil {
				return struct{}{}, retry.Permanent(fmt.Errorf("venue transfer failed on-chain: %v", res.Value[0].Err))
			}
			switch res.Value[0].ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return struct{}{}, nil
			}
			return struct{}{}, fmt.Errorf("signature %s still processing", sig)
		})
	if err != nil {
		return "", fmt.Errorf("timed out confirming venue transfer %s: %w", sig, err)
	}

	v.logger.Info("venue credited",
		zap.Stringer("signature", sig),
		zap.Uint64("amount", amount))
	return sig.String(), nil
}
