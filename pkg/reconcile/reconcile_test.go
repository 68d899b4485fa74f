package reconcile

import (
	"context"
	"math/big"
	"testing"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeVault struct {
	balances map[ethCommon.Address]*big.Int
	invested *big.Int

	setCalls  int
	syncCalls int
}

func (f *fakeVault) StrategyBalance(_ context.Context, adapter ethCommon.Address) (*big.Int, error) {
	if b, ok := f.balances[adapter]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeVault) SetStrategyBalance(_ context.Context, adapter ethCommon.Address, balance *big.Int) error {
	f.setCalls++
	f.balances[adapter] = new(big.Int).Set(balance)
	return nil
}

func (f *fakeVault) SyncInvestedAssets(context.Context) error {
	f.syncCalls++
	f.invested = big.NewInt(0)
	for _, b := range f.balances {
		f.invested.Add(f.invested, b)
	}
	return nil
}

func (f *fakeVault) InvestedAssets(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.invested), nil
}

type fakeVenue struct {
	balance *big.Int
}

func (f *fakeVenue) VenueBalance(context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}

var (
	adapterA = ethCommon.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	adapterB = ethCommon.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func TestSyncOverwritesDriftedBalances(t *testing.T) {
	vault := &fakeVault{
		balances: map[ethCommon.Address]*big.Int{
			adapterA: big.NewInt(1_000_000),
			adapterB: big.NewInt(500_000),
		},
		invested: big.NewInt(1_500_000),
	}
	// Adapter A drifted down (the bridge fee was never booked); B is exact.
	venues := map[ethCommon.Address]VenueReader{
		adapterA: &fakeVenue{balance: big.NewInt(999_900)},
		adapterB: &fakeVenue{balance: big.NewInt(500_000)},
	}

	s := New(vault, venues, zaptest.NewLogger(t))
	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Drifts, 1)
	assert.Equal(t, adapterA, report.Drifts[0].Adapter)
	assert.Equal(t, int64(1_000_000), report.Drifts[0].Believed.Int64())
	assert.Equal(t, int64(999_900), report.Drifts[0].Actual.Int64())
	assert.True(t, report.Drifts[0].Exceeded)

	assert.Equal(t, 1, vault.setCalls, "only the drifted adapter is rewritten")
	assert.Equal(t, 1, vault.syncCalls)
	assert.Equal(t, int64(1_499_900), report.InvestedAssets.Int64())
}

func TestSyncNoDrift(t *testing.T) {
	vault := &fakeVault{
		balances: map[ethCommon.Address]*big.Int{adapterA: big.NewInt(100)},
		invested: big.NewInt(100),
	}
	venues := map[ethCommon.Address]VenueReader{
		adapterA: &fakeVenue{balance: big.NewInt(100)},
	}

	s := New(vault, venues, zaptest.NewLogger(t))
	report, err := s.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
	assert.Zero(t, vault.setCalls)
	assert.Equal(t, 1, vault.syncCalls, "investedAssets is recomputed even without drift")
}

func TestSyncThresholdGatesFlagOnly(t *testing.T) {
	vault := &fakeVault{
		balances: map[ethCommon.Address]*big.Int{adapterA: big.NewInt(1_000)},
		invested: big.NewInt(1_000),
	}
	venues := map[ethCommon.Address]VenueReader{
		adapterA: &fakeVenue{balance: big.NewInt(995)},
	}

	s := New(vault, venues, zaptest.NewLogger(t))
	s.Threshold = big.NewInt(10)

	report, err := s.Sync(context.Background())
	require.NoError(t, err)

	// Small drift is still corrected, just not flagged.
	require.Len(t, report.Drifts, 1)
	assert.False(t, report.Drifts[0].Exceeded)
	assert.Equal(t, int64(995), vault.balances[adapterA].Int64())
}
