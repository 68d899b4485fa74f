// Package replay guards the corridor against double-applying a bridge
// message. A marker account, derived purely from (domain, nonce) under the
// message transmitter program, exists once a nonce has been consumed; its
// existence is the whole protocol.
package replay

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

var usedNonceSeed = []byte("used_nonce")

// MarkerKey derives the used-nonce marker account for (domain, nonce) under
// transmitter. Pure function of its inputs; the same triple yields the same
// key across processes and restarts.
func MarkerKey(transmitter solana.PublicKey, domain uint32, nonce [32]byte) (solana.PublicKey, uint8, error) {
	var domainSeed [4]byte
	binary.BigEndian.PutUint32(domainSeed[:], domain)

	key, bump, err := solana.FindProgramAddress([][]byte{usedNonceSeed, domainSeed[:], nonce[:]}, transmitter)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive used-nonce marker: %w", err)
	}
	return key, bump, nil
}

// StateReader answers account-existence questions against destination-chain
// state.
type StateReader interface {
	AccountExists(ctx context.Context, key solana.PublicKey) (bool, error)
}

// Ledger checks used-nonce markers for one transmitter program.
type Ledger struct {
	transmitter solana.PublicKey
	reader      StateReader
}

func NewLedger(transmitter solana.PublicKey, reader StateReader) *Ledger {
	return &Ledger{transmitter: transmitter, reader: reader}
}

// IsUsed reports whether the (domain, nonce) marker already exists. A used
// nonce is not an error condition anywhere in this system: callers collapse
// it into an idempotent success.
func (l *Ledger) IsUsed(ctx context.Context, domain uint32, nonce [32]byte) (bool, error) {
	key, _, err := MarkerKey(l.transmitter, domain, nonce)
	if err != nil {
		return false, err
	}
	return l.reader.AccountExists(ctx, key)
}

// RPCStateReader is the production StateReader, backed by a Solana RPC node.
type RPCStateReader struct {
	client *rpc.Client
}

func NewRPCStateReader(client *rpc.Client) *RPCStateReader {
	return &RPCStateReader{client: client}
}

func (r *RPCStateReader) AccountExists(ctx context.Context, key solana.PublicKey) (bool, error) {
	info, err := r.client.GetAccountInfo(ctx, key)
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to request account %s: %w", key, err)
	}
	return info != nil && info.Value != nil, nil
}
