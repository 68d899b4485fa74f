// Package applier consumes finalize messages on the destination side and
// credits the yield venue. Delivery is once per messaging-layer nonce, a
// separate nonce space from the burn replay ledger: the same bridged funds
// can only ever be credited once no matter how the relayer behaves.
package applier

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/db"
	"github.com/solyield/corridor/pkg/wire"
)

var (
	// ErrUnknownPeer rejects a message whose sender is not the registered
	// peer for its source domain.
	ErrUnknownPeer = errors.New("message sender is not the registered peer for this domain")
	// ErrReceivedNotApplied marks the one stuck state the corridor does not
	// auto-heal: funds minted into custody but not credited to the venue.
	ErrReceivedNotApplied = errors.New("message received but venue application failed")
)

var appliesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corridor_applies_total",
		Help: "Total number of finalize message deliveries by result",
	}, []string{"result"})

// Venue is the external yield venue collaborator. Apply credits amount and
// returns a venue-side reference for the operator.
type Venue interface {
	Apply(ctx context.Context, amount uint64) (string, error)
}

// Applier validates and applies inbound finalize messages.
type Applier struct {
	logger *zap.Logger
	db     *db.Database
	venue  Venue

	// peers maps source domain to the only sender accepted from it.
	peers map[corridor.Domain][32]byte
}

func New(database *db.Database, venue Venue, peers map[corridor.Domain][32]byte, logger *zap.Logger) *Applier {
	return &Applier{
		logger: logger,
		db:     database,
		venue:  venue,
		peers:  peers,
	}
}

// Handle processes one delivered message. Redelivery of an already-applied
// nonce is a no-op success; redelivery of a stuck nonce re-surfaces
// ErrReceivedNotApplied without touching the venue, because a blind retry
// against a partially-succeeded venue call risks double-crediting.
func (a *Applier) Handle(ctx context.Context, srcDomain corridor.Domain, sender [32]byte, msgNonce uint64, payload []byte) error {
	logger := a.logger.With(
		zap.Uint32("srcDomain", uint32(srcDomain)),
		zap.Uint64("msgNonce", msgNonce))

	peer, ok := a.peers[srcDomain]
	if !ok || peer != sender {
		appliesTotal.WithLabelValues("unknown_peer").Inc()
		return fmt.Errorf("%w: domain %d sender %x", ErrUnknownPeer, srcDomain, sender[:8])
	}

	msg, err := wire.UnmarshalFinalizeMessage(payload)
	if err != nil {
		appliesTotal.WithLabelValues("malformed").Inc()
		return err
	}

	already, err := a.db.MarkMessageApplied(srcDomain, msgNonce)
	if err != nil {
		return fmt.Errorf("failed to record message delivery: %w", err)
	}
	if already {
		stuck, err := a.db.ListStuck()
		if err != nil {
			return fmt.Errorf("failed to read stuck ledger: %w", err)
		}
		if amount, isStuck := stuck[corridor.MessageID(srcDomain, msgNonce)]; isStuck {
			appliesTotal.WithLabelValues("stuck_redelivery").Inc()
			return fmt.Errorf("%w: %d base units awaiting manual re-apply", ErrReceivedNotApplied, amount)
		}
		appliesTotal.WithLabelValues("duplicate").Inc()
		logger.Info("duplicate delivery ignored")
		return nil
	}

	ref, err := a.venue.Apply(ctx, msg.Amount)
	if err != nil {
		if dbErr := a.db.MarkStuck(srcDomain, msgNonce, msg.Amount); dbErr != nil {
			logger.Error("failed to record stuck transfer", zap.Error(dbErr))
		}
		appliesTotal.WithLabelValues("venue_failed").Inc()
		logger.Error("venue application failed, funds remain in custody",
			zap.Uint64("amount", msg.Amount),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrReceivedNotApplied, err)
	}

	appliesTotal.WithLabelValues("applied").Inc()
	logger.Info("amount applied to venue",
		zap.Uint64("amount", msg.Amount),
		zap.String("venueRef", ref))
	return nil
}

// Reapply is the administrative recovery path for a stuck nonce. It calls
// the venue again and clears the stuck entry on success. The operator, not
// the applier, decides when conditions have changed enough to try.
func (a *Applier) Reapply(ctx context.Context, srcDomain corridor.Domain, msgNonce uint64) error {
	stuck, err := a.db.ListStuck()
	if err != nil {
		return fmt.Errorf("failed to read stuck ledger: %w", err)
	}
	amount, ok := stuck[corridor.MessageID(srcDomain, msgNonce)]
	if !ok {
		return fmt.Errorf("message %s is not stuck", corridor.MessageID(srcDomain, msgNonce))
	}

	ref, err := a.venue.Apply(ctx, amount)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReceivedNotApplied, err)
	}
	if err := a.db.ClearStuck(srcDomain, msgNonce); err != nil {
		return fmt.Errorf("venue credited but stuck entry not cleared: %w", err)
	}

	a.logger.Info("stuck transfer re-applied",
		zap.Uint32("srcDomain", uint32(srcDomain)),
		zap.Uint64("msgNonce", msgNonce),
		zap.Uint64("amount", amount),
		zap.String("venueRef", ref))
	return nil
}
