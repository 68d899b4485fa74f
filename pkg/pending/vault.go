package pending

import (
	"context"
	"fmt"

	ethCommon "github.com/ethereum/go-ethereum/common"
)

// VaultBinding is the subset of the vault contract the store needs. The
// read path is an eth_call against the vault's pendingTransfer mapping; the
// write paths are the vault's initiate/finalize touchpoints.
type VaultBinding interface {
	PendingTransfer(ctx context.Context, adapter ethCommon.Address) (*Transfer, error)
	RecordTransfer(ctx context.Context, adapter ethCommon.Address, t Transfer) error
	ClearTransfer(ctx context.Context, adapter ethCommon.Address) error
}

// VaultStore is the production Store: slot truth lives in the vault
// contract, so a human operator and an automated retrier always see the
// same in-flight state.
type VaultStore struct {
	vault VaultBinding
}

func NewVaultStore(vault VaultBinding) *VaultStore {
	return &VaultStore{vault: vault}
}

func (s *VaultStore) Get(ctx context.Context, key ethCommon.Address) (*Transfer, error) {
	t, err := s.vault.PendingTransfer(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending transfer slot: %w", err)
	}
	if t.IsEmpty() {
		return nil, nil
	}
	return t, nil
}

func (s *VaultStore) Put(ctx context.Context, key ethCommon.Address, t Transfer, override bool) error {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if existing != nil && !override {
		return ErrConflictingPendingTransfer
	}
	if err := s.vault.RecordTransfer(ctx, key, t); err != nil {
		return fmt.Errorf("failed to record pending transfer: %w", err)
	}
	return nil
}

func (s *VaultStore) Clear(ctx context.Context, key ethCommon.Address) error {
	if err := s.vault.ClearTransfer(ctx, key); err != nil {
		return fmt.Errorf("failed to clear pending transfer: %w", err)
	}
	return nil
}
