package applier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/db"
	"github.com/solyield/corridor/pkg/wire"
)

type fakeVenue struct {
	calls   int
	amounts []uint64
	err     error
}

func (f *fakeVenue) Apply(_ context.Context, amount uint64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	f.amounts = append(f.amounts, amount)
	return "venue-tx-1", nil
}

var registeredPeer = [32]byte{0x01, 0x02, 0x03}

func newApplier(t *testing.T, venue *fakeVenue) (*Applier, *db.Database) {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	peers := map[corridor.Domain][32]byte{corridor.DomainBase: registeredPeer}
	return New(database, venue, peers, zaptest.NewLogger(t)), database
}

func payload(amount uint64) []byte {
	msg := wire.FinalizeMessage{Amount: amount}
	return msg.Marshal()
}

func TestHandleAppliesAmount(t *testing.T) {
	venue := &fakeVenue{}
	a, database := newApplier(t, venue)

	err := a.Handle(context.Background(), corridor.DomainBase, registeredPeer, 1, payload(999_900))
	require.NoError(t, err)
	assert.Equal(t, []uint64{999_900}, venue.amounts)

	applied, err := database.IsMessageApplied(corridor.DomainBase, 1)
	require.NoError(t, err)
	assert.True(t, applied)
}

func TestHandleUnknownPeer(t *testing.T) {
	venue := &fakeVenue{}
	a, database := newApplier(t, venue)

	badSender := [32]byte{0xff}
	err := a.Handle(context.Background(), corridor.DomainBase, badSender, 1, payload(100))
	assert.ErrorIs(t, err, ErrUnknownPeer)
	assert.Zero(t, venue.calls, "no venue application for an unregistered sender")

	// Unknown domain is also an unknown peer, even with a known sender key.
	err = a.Handle(context.Background(), corridor.DomainSolana, registeredPeer, 1, payload(100))
	assert.ErrorIs(t, err, ErrUnknownPeer)

	applied, err := database.IsMessageApplied(corridor.DomainBase, 1)
	require.NoError(t, err)
	assert.False(t, applied, "a rejected message must not consume its nonce")
}

func TestHandleDuplicateDelivery(t *testing.T) {
	venue := &fakeVenue{}
	a, _ := newApplier(t, venue)

	require.NoError(t, a.Handle(context.Background(), corridor.DomainBase, registeredPeer, 5, payload(100)))
	require.NoError(t, a.Handle(context.Background(), corridor.DomainBase, registeredPeer, 5, payload(100)))
	assert.Equal(t, 1, venue.calls, "one delivery per messaging-layer nonce")

	// A different nonce is a fresh delivery.
	require.NoError(t, a.Handle(context.Background(), corridor.DomainBase, registeredPeer, 6, payload(100)))
	assert.Equal(t, 2, venue.calls)
}

func TestHandleVenueFailureSticks(t *testing.T) {
	venue := &fakeVenue{err: errors.New("venue deposit cap reached")}
	a, database := newApplier(t, venue)

	err := a.Handle(context.Background(), corridor.DomainBase, registeredPeer, 9, payload(777))
	require.ErrorIs(t, err, ErrReceivedNotApplied)

	stuck, err := database.ListStuck()
	require.NoError(t, err)
	assert.Equal(t, uint64(777), stuck[corridor.MessageID(corridor.DomainBase, 9)])

	// Redelivery does not retry the venue; it re-surfaces the stuck state.
	err = a.Handle(context.Background(), corridor.DomainBase, registeredPeer, 9, payload(777))
	require.ErrorIs(t, err, ErrReceivedNotApplied)
	assert.Equal(t, 1, venue.calls)
}

func TestReapplyClearsStuck(t *testing.T) {
	venue := &fakeVenue{err: errors.New("venue unavailable")}
	a, database := newApplier(t, venue)

	require.Error(t, a.Handle(context.Background(), corridor.DomainBase, registeredPeer, 2, payload(500)))

	// Operator intervenes once the venue recovers.
	venue.err = nil
	require.NoError(t, a.Reapply(context.Background(), corridor.DomainBase, 2))
	assert.Equal(t, []uint64{500}, venue.amounts)

	stuck, err := database.ListStuck()
	require.NoError(t, err)
	assert.Empty(t, stuck)

	// Nothing left to re-apply.
	assert.Error(t, a.Reapply(context.Background(), corridor.DomainBase, 2))
}
