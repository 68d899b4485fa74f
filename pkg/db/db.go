// Package db is the corridor's local resume store: burn and mint receipts,
// applied message nonces and stuck settlements, kept in a badger database.
// Chain state stays authoritative; this store only lets a restarted process
// answer "where was I" and replay checks without re-deriving everything.
package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/solyield/corridor/pkg/corridor"
)

var (
	storedBurnReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corridor_db_burn_receipts_total",
			Help: "Total number of burn receipts written to the local store",
		})
	storedMintReceipts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corridor_db_mint_receipts_total",
			Help: "Total number of mint receipts written to the local store",
		})
)

var (
	ErrReceiptNotFound = errors.New("requested receipt not found in store")
)

type Database struct {
	db *badger.DB
}

func Open(path string) (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Database{db: db}, nil
}

// OpenInMemory is for tests and dry runs.
func OpenInMemory() (*Database, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func burnKey(txHash ethCommon.Hash) []byte {
	return []byte(fmt.Sprintf("burn/%s", txHash.Hex()))
}

func transferKey(initiator ethCommon.Address) []byte {
	return []byte(fmt.Sprintf("transfer/%s", initiator.Hex()))
}

func mintKey(nonce [32]byte) []byte {
	return []byte(fmt.Sprintf("mint/%x", nonce))
}

func appliedKey(domain corridor.Domain, nonce uint64) []byte {
	return []byte(fmt.Sprintf("applied/%s", corridor.MessageID(domain, nonce)))
}

func stuckKey(domain corridor.Domain, nonce uint64) []byte {
	return []byte(fmt.Sprintf("stuck/%s", corridor.MessageID(domain, nonce)))
}

// StoreBurnReceipt writes the receipt and points the initiator's transfer
// slot at it, so a resume can go from address to in-flight burn.
func (d *Database) StoreBurnReceipt(r *corridor.BurnReceipt) error {
	b, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal burn receipt: %w", err)
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(burnKey(r.TxHash), b); err != nil {
			return err
		}
		return txn.Set(transferKey(r.Initiator), r.TxHash.Bytes())
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}

	storedBurnReceipts.Inc()
	return nil
}

func (d *Database) GetBurnReceipt(txHash ethCommon.Hash) (*corridor.BurnReceipt, error) {
	var r *corridor.BurnReceipt
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(burnKey(txHash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err = corridor.UnmarshalBurnReceipt(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// LatestBurnForInitiator resolves the initiator's most recent burn receipt.
func (d *Database) LatestBurnForInitiator(initiator ethCommon.Address) (*corridor.BurnReceipt, error) {
	var txHash ethCommon.Hash
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(transferKey(initiator))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			txHash = ethCommon.BytesToHash(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return d.GetBurnReceipt(txHash)
}

// UpdateTransferState rewrites the persisted state of an in-flight burn.
func (d *Database) UpdateTransferState(txHash ethCommon.Hash, state corridor.TransferState, reason string) error {
	r, err := d.GetBurnReceipt(txHash)
	if err != nil {
		return err
	}
	r.State = state
	r.FailureReason = reason
	b, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal burn receipt: %w", err)
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(burnKey(txHash), b)
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// StoreMintReceipt records a mint keyed by burn nonce. Overwrites are
// allowed; a replayed submission stores the same receipt again.
func (d *Database) StoreMintReceipt(r *corridor.MintReceipt) error {
	b, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal mint receipt: %w", err)
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mintKey(r.Nonce), b)
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	storedMintReceipts.Inc()
	return nil
}

func (d *Database) GetMintReceipt(nonce [32]byte) (*corridor.MintReceipt, error) {
	var r *corridor.MintReceipt
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mintKey(nonce))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err = corridor.UnmarshalMintReceipt(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// MarkMessageApplied records a messaging-layer nonce as applied. Returns
// true if it was already marked, which callers treat as a no-op replay.
func (d *Database) MarkMessageApplied(domain corridor.Domain, nonce uint64) (bool, error) {
	already := false
	err := d.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(appliedKey(domain, nonce))
		if err == nil {
			already = true
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(appliedKey(domain, nonce), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return false, fmt.Errorf("failed to commit tx: %w", err)
	}
	return already, nil
}

func (d *Database) IsMessageApplied(domain corridor.Domain, nonce uint64) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(appliedKey(domain, nonce))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkStuck records a settlement that was received but not applied: funds
// minted into custody, venue credit missing. These require administrative
// intervention and are never auto-retried.
func (d *Database) MarkStuck(domain corridor.Domain, nonce uint64, amount uint64) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stuckKey(domain, nonce), []byte(fmt.Sprintf("%d", amount)))
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// ClearStuck removes a stuck marker after an out-of-band re-apply.
func (d *Database) ClearStuck(domain corridor.Domain, nonce uint64) error {
	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(stuckKey(domain, nonce))
	})
	if err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	return nil
}

// ListStuck returns every received-but-not-applied settlement as
// messageID -> amount.
func (d *Database) ListStuck() (map[string]uint64, error) {
	out := make(map[string]uint64)
	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("stuck/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				var amount uint64
				if _, err := fmt.Sscanf(string(val), "%d", &amount); err != nil {
					return fmt.Errorf("corrupt stuck entry %q: %w", key, err)
				}
				out[key] = amount
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
