// Package orchestrator drives a transfer through the burn, attestation and
// mint legs. Every step is resumable from a persisted identifier: the burn
// tx hash feeds the attestation poll, the (message, attestation) pair feeds
// the mint, and replays of any step collapse to the prior result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/cctp"
	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/db"
	"github.com/solyield/corridor/pkg/pending"
	"github.com/solyield/corridor/pkg/wire"
)

var (
	// ErrNonPositiveAmount rejects zero-amount burns before any chain call.
	ErrNonPositiveAmount = errors.New("burn amount must be positive")
	// ErrInsufficientBalance means the initiator does not hold the amount.
	ErrInsufficientBalance = errors.New("insufficient token balance for burn")
	// ErrInsufficientAllowance means the bridge cannot pull the amount and
	// auto-approval was not requested.
	ErrInsufficientAllowance = errors.New("insufficient allowance for the bridge contract")
)

var (
	burnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corridor_burns_total",
			Help: "Total number of burn initiations by result",
		}, []string{"result"})
	mintsIdempotent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corridor_mints_idempotent_total",
			Help: "Total number of mint submissions answered from the replay ledger",
		})
)

// BurnRejectedError is an on-chain burn revert, surfaced verbatim so the
// operator decides whether to retry.
type BurnRejectedError struct {
	TxHash ethCommon.Hash
	Reason string
}

func (e *BurnRejectedError) Error() string {
	return fmt.Sprintf("burn rejected on-chain (tx %s): %s", e.TxHash, e.Reason)
}

// MintRejectedError is an on-chain mint failure that is not a nonce replay.
type MintRejectedError struct {
	Reason string
}

func (e *MintRejectedError) Error() string {
	return fmt.Sprintf("mint rejected on-chain: %s", e.Reason)
}

// SourceChain is the source-side surface the orchestrator needs. Implemented
// by evm.Connector.
type SourceChain interface {
	Signer() ethCommon.Address
	BalanceOf(ctx context.Context, owner ethCommon.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender ethCommon.Address) (*big.Int, error)
	Approve(ctx context.Context, spender ethCommon.Address, amount *big.Int) (ethCommon.Hash, error)
	DepositForBurn(ctx context.Context, amount *big.Int, destinationDomain uint32, mintRecipient [32]byte, destinationCaller [32]byte, maxFee *big.Int, minFinalityThreshold uint32) (ethCommon.Hash, [32]byte, error)
}

// Attester awaits the off-chain attestation for a burn tx. Implemented by
// attest.Client.
type Attester interface {
	Await(ctx context.Context, domain corridor.Domain, txHash string) (*corridor.Attestation, error)
}

// Minter submits the attested message on the destination chain. Implemented
// by cctp.Client; an already-consumed nonce surfaces as
// cctp.ErrNonceAlreadyUsed.
type Minter interface {
	SubmitMint(ctx context.Context, message, attestation []byte) (*corridor.MintReceipt, error)
}

// ReplayChecker answers whether a burn nonce was already minted.
// Implemented by replay.Ledger.
type ReplayChecker interface {
	IsUsed(ctx context.Context, domain uint32, nonce [32]byte) (bool, error)
}

// Orchestrator owns one initiator key's transfer pipeline.
type Orchestrator struct {
	logger *zap.Logger
	cctx   *corridor.Context

	source   SourceChain
	attester Attester
	minter   Minter
	replay   ReplayChecker
	store    pending.Store
	db       *db.Database

	// AutoApprove grants the missing allowance inside InitiateBurn instead
	// of failing with ErrInsufficientAllowance.
	AutoApprove bool
}

func New(
	cctx *corridor.Context,
	source SourceChain,
	attester Attester,
	minter Minter,
	replay ReplayChecker,
	store pending.Store,
	database *db.Database,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		cctx:     cctx,
		source:   source,
		attester: attester,
		minter:   minter,
		replay:   replay,
		store:    store,
		db:       database,
	}
}

// InitiateBurn checks every precondition off-chain, then submits the bridge
// burn and occupies the initiator's pending-transfer slot. The returned
// receipt carries the tx hash the attestation service is polled with.
func (o *Orchestrator) InitiateBurn(ctx context.Context, amount uint64, destDomain corridor.Domain, mintRecipient [32]byte) (*corridor.BurnReceipt, error) {
	if amount == 0 {
		return nil, ErrNonPositiveAmount
	}
	initiator := o.source.Signer()

	// The slot check comes first: a conflicting transfer must be rejected
	// before any chain mutation.
	if existing, err := o.store.Get(ctx, initiator); err != nil {
		return nil, fmt.Errorf("failed to check pending transfer slot: %w", err)
	} else if !existing.IsEmpty() {
		burnsTotal.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w (amount %d, nonce %x)",
			pending.ErrConflictingPendingTransfer, existing.Amount, existing.Nonce[:8])
	}

	amountBig := new(big.Int).SetUint64(amount)

	balance, err := o.source.BalanceOf(ctx, initiator)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if balance.Cmp(amountBig) < 0 {
		burnsTotal.WithLabelValues("precondition").Inc()
		return nil, fmt.Errorf("%w: have %s, need %d", ErrInsufficientBalance, balance, amount)
	}

	allowance, err := o.source.Allowance(ctx, initiator, o.cctx.TokenMessenger)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Cmp(amountBig) < 0 {
		if !o.AutoApprove {
			burnsTotal.WithLabelValues("precondition").Inc()
			return nil, fmt.Errorf("%w: have %s, need %d", ErrInsufficientAllowance, allowance, amount)
		}
		approveTx, err := o.source.Approve(ctx, o.cctx.TokenMessenger, amountBig)
		if err != nil {
			return nil, fmt.Errorf("failed to approve bridge allowance: %w", err)
		}
		o.logger.Info("bridge allowance granted",
			zap.Stringer("txHash", approveTx),
			zap.Uint64("amount", amount))
	}

	o.logger.Info("initiating burn",
		zap.Stringer("initiator", initiator),
		zap.Uint64("amount", amount),
		zap.Uint32("destinationDomain", uint32(destDomain)),
		zap.Uint32("minFinalityThreshold", o.cctx.MinFinalityThreshold))

	txHash, nonce, err := o.source.DepositForBurn(ctx,
		amountBig,
		uint32(destDomain),
		mintRecipient,
		[32]byte{}, // no destination caller restriction
		new(big.Int).SetUint64(uint64(o.cctx.MaxFee)),
		o.cctx.MinFinalityThreshold,
	)
	if err != nil {
		burnsTotal.WithLabelValues("rejected").Inc()
		if txHash != (ethCommon.Hash{}) {
			failed := &corridor.BurnReceipt{
				TxHash:        txHash,
				Initiator:     initiator,
				Amount:        amount,
				State:         corridor.StateFailed,
				FailureReason: err.Error(),
				Timestamp:     time.Now().UTC(),
			}
			if dbErr := o.db.StoreBurnReceipt(failed); dbErr != nil {
				o.logger.Warn("failed to persist failed burn receipt", zap.Error(dbErr))
			}
			return nil, &BurnRejectedError{TxHash: txHash, Reason: err.Error()}
		}
		return nil, fmt.Errorf("burn submission failed: %w", err)
	}

	receipt := &corridor.BurnReceipt{
		TxHash:    txHash,
		Initiator: initiator,
		Amount:    amount,
		Nonce:     nonce,
		State:     corridor.StateAwaitingAttestation,
		Timestamp: time.Now().UTC(),
	}
	copy(receipt.MintRecipient[:], mintRecipient[:])

	if err := o.db.StoreBurnReceipt(receipt); err != nil {
		o.logger.Warn("failed to persist burn receipt", zap.Error(err))
	}

	// Occupy the slot after the burn confirms. Amount here is the requested
	// pre-fee amount; SubmitMint overwrites it with the credited amount.
	t := pending.Transfer{Amount: amount, Nonce: nonce, DestinationKey: mintRecipient}
	if err := o.store.Put(ctx, initiator, t, false); err != nil {
		return receipt, fmt.Errorf("burn confirmed but pending slot not recorded (tx %s): %w", txHash, err)
	}

	burnsTotal.WithLabelValues("confirmed").Inc()
	o.logger.Info("burn confirmed",
		zap.Stringer("txHash", txHash),
		zap.String("nonce", fmt.Sprintf("%x", nonce)))
	return receipt, nil
}

// AwaitAttestation polls the attestation service for the burn identified by
// txHash. Timeouts are retryable: calling again with the same hash resumes
// the same transfer.
func (o *Orchestrator) AwaitAttestation(ctx context.Context, txHash ethCommon.Hash) (*corridor.Attestation, error) {
	att, err := o.attester.Await(ctx, o.cctx.SourceDomain, txHash.Hex())
	if err != nil {
		return nil, err
	}
	if err := o.db.UpdateTransferState(txHash, corridor.StateMinting, ""); err != nil && !errors.Is(err, db.ErrReceiptNotFound) {
		o.logger.Warn("failed to advance transfer state", zap.Error(err))
	}
	return att, nil
}

// SubmitMint submits the attested message on the destination chain. An
// already-consumed nonce, whether detected by the pre-check or on-chain,
// returns the prior receipt as an idempotent success with Replayed set.
func (o *Orchestrator) SubmitMint(ctx context.Context, message, attestation []byte) (*corridor.MintReceipt, error) {
	msg, err := wire.DecodeBridgeMessage(message)
	if err != nil {
		return nil, err
	}

	used, err := o.replay.IsUsed(ctx, msg.SourceDomain, msg.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to check replay ledger: %w", err)
	}
	if used {
		mintsIdempotent.Inc()
		return o.replayedReceipt(msg.Nonce), nil
	}

	receipt, err := o.minter.SubmitMint(ctx, message, attestation)
	if err != nil {
		// Lost the race with an earlier submission of the same message.
		if errors.Is(err, cctp.ErrNonceAlreadyUsed) {
			mintsIdempotent.Inc()
			return o.replayedReceipt(msg.Nonce), nil
		}
		return nil, &MintRejectedError{Reason: err.Error()}
	}

	if err := o.db.StoreMintReceipt(receipt); err != nil {
		o.logger.Warn("failed to persist mint receipt", zap.Error(err))
	}

	// The slot now carries the credited post-fee amount, the only number
	// the finalize leg is allowed to encode.
	body, err := wire.DecodeBurnBody(msg.Body)
	if err == nil {
		t := pending.Transfer{Amount: receipt.MintedAmount, Nonce: msg.Nonce, DestinationKey: body.MintRecipient}
		if err := o.store.Put(ctx, o.source.Signer(), t, true); err != nil {
			o.logger.Warn("failed to update pending slot with minted amount", zap.Error(err))
		}
	}

	o.logger.Info("mint confirmed",
		zap.Stringer("signature", receipt.Signature),
		zap.Uint64("mintedAmount", receipt.MintedAmount))
	return receipt, nil
}

// replayedReceipt answers an idempotent mint. The stored receipt is
// preferred; a transfer minted outside this process yields a receipt with
// the nonce only.
func (o *Orchestrator) replayedReceipt(nonce [32]byte) *corridor.MintReceipt {
	if prior, err := o.db.GetMintReceipt(nonce); err == nil {
		prior.Replayed = true
		return prior
	}
	o.logger.Info("nonce already minted, no local receipt",
		zap.String("nonce", fmt.Sprintf("%x", nonce)))
	return &corridor.MintReceipt{
		Nonce:     nonce,
		Replayed:  true,
		Timestamp: time.Now().UTC(),
	}
}
