// Package finalizer emits the settlement message through the messaging
// endpoint once a transfer's mint has confirmed. The payload amount is read
// from the pending-transfer slot, which by then carries the credited
// post-fee amount; the user's original request never reaches this leg.
package finalizer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/pending"
	"github.com/solyield/corridor/pkg/wire"
)

// ErrNoPendingTransfer means there is nothing to finalize for the adapter.
var ErrNoPendingTransfer = errors.New("no pending transfer to finalize for this adapter")

var finalizesSent = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corridor_finalizes_total",
		Help: "Total number of finalize message sends by result",
	}, []string{"result"})

// Endpoint is the messaging surface the finalizer drives. Implemented by
// evm.Connector.
type Endpoint interface {
	Quote(ctx context.Context, dstDomain uint32, payload, options []byte, payInAltToken bool) (*big.Int, *big.Int, error)
	Send(ctx context.Context, dstDomain uint32, payload, options []byte, nativeFee *big.Int) (*corridor.MessagingReceipt, error)
}

// Options shapes one finalize send. ExecutionOptions is the messaging
// protocol's opaque executor options blob; the correlation fields ride in
// the extended payload form when set.
type Options struct {
	ExecutionOptions []byte
	CorrelationID    *[32]byte
	User             *[20]byte
}

// Finalizer sends settlement messages for one destination domain.
type Finalizer struct {
	logger     *zap.Logger
	endpoint   Endpoint
	store      pending.Store
	destDomain corridor.Domain
}

func New(endpoint Endpoint, store pending.Store, destDomain corridor.Domain, logger *zap.Logger) *Finalizer {
	return &Finalizer{
		logger:     logger,
		endpoint:   endpoint,
		store:      store,
		destDomain: destDomain,
	}
}

// QuoteFee asks the endpoint for the current native delivery fee of the
// given payload. Quotes go stale; SendFinalize re-quotes internally and
// this method exists for display and balance pre-checks only.
func (f *Finalizer) QuoteFee(ctx context.Context, payload []byte, opts Options) (*big.Int, error) {
	nativeFee, _, err := f.endpoint.Quote(ctx, uint32(f.destDomain), payload, opts.ExecutionOptions, false)
	if err != nil {
		return nil, fmt.Errorf("failed to quote finalize fee: %w", err)
	}
	return nativeFee, nil
}

// SendFinalize builds the settlement payload from the adapter's pending
// transfer, quotes the fee and pays it, and hands the message to the
// endpoint. The returned receipt's GUID tracks delivery; acceptance here
// does not mean the destination has applied the amount.
func (f *Finalizer) SendFinalize(ctx context.Context, adapter ethCommon.Address, opts Options) (*corridor.MessagingReceipt, error) {
	t, err := f.store.Get(ctx, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending transfer: %w", err)
	}
	if t.IsEmpty() {
		return nil, ErrNoPendingTransfer
	}

	msg := wire.FinalizeMessage{
		Amount:        t.Amount,
		CorrelationID: opts.CorrelationID,
		User:          opts.User,
	}
	payload := msg.Marshal()

	// Quote immediately before the send; a fee held across the attestation
	// wait is stale by now.
	nativeFee, _, err := f.endpoint.Quote(ctx, uint32(f.destDomain), payload, opts.ExecutionOptions, false)
	if err != nil {
		finalizesSent.WithLabelValues("quote_failed").Inc()
		return nil, fmt.Errorf("failed to quote finalize fee: %w", err)
	}

	receipt, err := f.endpoint.Send(ctx, uint32(f.destDomain), payload, opts.ExecutionOptions, nativeFee)
	if err != nil {
		finalizesSent.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("finalize send failed: %w", err)
	}

	finalizesSent.WithLabelValues("accepted").Inc()
	f.logger.Info("finalize message accepted for relay",
		zap.Stringer("adapter", adapter),
		zap.Uint64("amount", t.Amount),
		zap.String("guid", receipt.GUIDHex()),
		zap.Uint64("messageNonce", receipt.Nonce),
		zap.String("fee", receipt.Fee.String()))
	return receipt, nil
}
