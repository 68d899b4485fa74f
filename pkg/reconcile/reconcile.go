// Package reconcile re-anchors the vault's believed balances to venue
// truth. Allocate, recall and bridge flows each mutate believed balances
// independently and drift under partial failure; Sync is the read-then-write
// that repairs them.
package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var driftObserved = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corridor_reconcile_drift_total",
		Help: "Total number of adapter balance drifts found by sync",
	}, []string{"severity"})

// VaultView is the vault bookkeeping surface sync rewrites. Implemented by
// evm.Connector.
type VaultView interface {
	StrategyBalance(ctx context.Context, adapter ethCommon.Address) (*big.Int, error)
	SetStrategyBalance(ctx context.Context, adapter ethCommon.Address, balance *big.Int) error
	SyncInvestedAssets(ctx context.Context) error
	InvestedAssets(ctx context.Context) (*big.Int, error)
}

// VenueReader reads the true balance held at one destination venue.
type VenueReader interface {
	VenueBalance(ctx context.Context) (*big.Int, error)
}

// Drift is one adapter whose believed balance disagreed with venue truth.
type Drift struct {
	Adapter  ethCommon.Address
	Believed *big.Int
	Actual   *big.Int
	// Exceeded is set when the absolute drift crossed the alert threshold.
	Exceeded bool
}

// Report summarizes one sync pass.
type Report struct {
	Drifts         []Drift
	InvestedAssets *big.Int
}

// Syncer reconciles a fixed adapter set against one vault.
type Syncer struct {
	logger *zap.Logger
	vault  VaultView
	venues map[ethCommon.Address]VenueReader

	// Threshold is the absolute drift above which a drift is flagged for
	// the operator. Zero flags every non-zero drift.
	Threshold *big.Int
}

func New(vault VaultView, venues map[ethCommon.Address]VenueReader, logger *zap.Logger) *Syncer {
	return &Syncer{
		logger:    logger,
		vault:     vault,
		venues:    venues,
		Threshold: big.NewInt(0),
	}
}

// Sync reads every adapter's venue balance, overwrites the vault's believed
// figure where it disagrees, then recomputes investedAssets. Pure
// read-then-write against the source chain; no cross-chain call.
func (s *Syncer) Sync(ctx context.Context) (*Report, error) {
	adapters := make([]ethCommon.Address, 0, len(s.venues))
	for adapter := range s.venues {
		adapters = append(adapters, adapter)
	}
	sort.Slice(adapters, func(i, j int) bool {
		return adapters[i].Hex() < adapters[j].Hex()
	})

	report := &Report{}
	for _, adapter := range adapters {
		actual, err := s.venues[adapter].VenueBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read venue balance for %s: %w", adapter, err)
		}
		believed, err := s.vault.StrategyBalance(ctx, adapter)
		if err != nil {
			return nil, fmt.Errorf("failed to read strategy balance for %s: %w", adapter, err)
		}

		if believed.Cmp(actual) == 0 {
			continue
		}

		drift := Drift{Adapter: adapter, Believed: believed, Actual: actual}
		diff := new(big.Int).Abs(new(big.Int).Sub(actual, believed))
		if diff.Cmp(s.Threshold) > 0 {
			drift.Exceeded = true
			driftObserved.WithLabelValues("exceeded").Inc()
			s.logger.Warn("adapter balance drift above threshold",
				zap.Stringer("adapter", adapter),
				zap.String("believed", believed.String()),
				zap.String("actual", actual.String()))
		} else {
			driftObserved.WithLabelValues("minor").Inc()
		}

		if err := s.vault.SetStrategyBalance(ctx, adapter, actual); err != nil {
			return nil, fmt.Errorf("failed to overwrite strategy balance for %s: %w", adapter, err)
		}
		report.Drifts = append(report.Drifts, drift)
	}

	if err := s.vault.SyncInvestedAssets(ctx); err != nil {
		return nil, fmt.Errorf("failed to sync invested assets: %w", err)
	}
	invested, err := s.vault.InvestedAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read invested assets: %w", err)
	}
	report.InvestedAssets = invested

	s.logger.Info("reconciliation complete",
		zap.Int("adapters", len(adapters)),
		zap.Int("drifts", len(report.Drifts)),
		zap.String("investedAssets", invested.String()))
	return report, nil
}
