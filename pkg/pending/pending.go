// Package pending models the one-slot-per-initiator transfer ledger. The
// slot is the corridor's only serialization point: its presence is the
// authoritative "a transfer is in flight" signal every retrier and operator
// consults, so the production store reads it straight from chain state.
package pending

import (
	"context"
	"errors"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// ErrConflictingPendingTransfer is returned when a put would overwrite a
// non-empty slot without an explicit override.
var ErrConflictingPendingTransfer = errors.New("a pending transfer already exists for this key")

// Transfer is one in-flight bridge leg. Amount is in base units and, once
// the burn has settled, reflects the post-fee amount.
type Transfer struct {
	Amount         uint64
	Nonce          [32]byte
	DestinationKey [32]byte
}

// IsEmpty reports whether the slot holds no transfer.
func (t *Transfer) IsEmpty() bool {
	return t == nil || (t.Amount == 0 && t.Nonce == [32]byte{} && t.DestinationKey == [32]byte{})
}

// Store is the per-initiator slot. Get returns nil for an empty slot.
type Store interface {
	Get(ctx context.Context, key ethCommon.Address) (*Transfer, error)
	// Put fails with ErrConflictingPendingTransfer when the slot is occupied
	// and override is false.
	Put(ctx context.Context, key ethCommon.Address, t Transfer, override bool) error
	Clear(ctx context.Context, key ethCommon.Address) error
}
