package corridor

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// TransferState tracks where a transfer sits in the burn/attest/mint
// pipeline. The state is persisted with the burn receipt so a fresh process
// resumes from the right step.
type TransferState uint8

const (
	StateIdle TransferState = iota
	StateBurning
	StateAwaitingAttestation
	StateMinting
	StateMinted
	StateFailed
)

func (s TransferState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBurning:
		return "burning"
	case StateAwaitingAttestation:
		return "awaiting_attestation"
	case StateMinting:
		return "minting"
	case StateMinted:
		return "minted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// BurnReceipt describes one confirmed source-chain burn. TxHash is the
// identifier the attestation service is polled with.
type BurnReceipt struct {
	TxHash        ethCommon.Hash
	Initiator     ethCommon.Address
	Amount        uint64
	Nonce         [32]byte
	MintRecipient solana.PublicKey
	State         TransferState
	FailureReason string
	Timestamp     time.Time
}

func (r *BurnReceipt) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalBurnReceipt(data []byte) (*BurnReceipt, error) {
	r := &BurnReceipt{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal burn receipt: %w", err)
	}
	return r, nil
}

// MintReceipt describes one destination-chain mint. MintedAmount is the
// post-fee amount actually credited, read from the transaction, and is the
// only legitimate source for the finalize payload's amount. Replayed is set
// when the receipt answers a repeat submission of an already-minted nonce.
type MintReceipt struct {
	Signature    solana.Signature
	Nonce        [32]byte
	MintedAmount uint64
	Replayed     bool
	Timestamp    time.Time
}

func (r *MintReceipt) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func UnmarshalMintReceipt(data []byte) (*MintReceipt, error) {
	r := &MintReceipt{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mint receipt: %w", err)
	}
	return r, nil
}

// MessagingReceipt is what the messaging endpoint hands back when it
// accepts a payload for relay. GUID is the delivery-tracking identifier;
// acceptance is not delivery.
type MessagingReceipt struct {
	GUID   [32]byte
	Nonce  uint64
	Fee    *big.Int
	TxHash ethCommon.Hash
}

// GUIDHex renders the tracking identifier the way message-scan services
// expect it.
func (r *MessagingReceipt) GUIDHex() string {
	return fmt.Sprintf("0x%x", r.GUID)
}

// Attestation is the signed (message, attestation) pair the off-chain
// service produces for a confirmed burn.
type Attestation struct {
	Message     []byte
	Attestation []byte
	EventNonce  [32]byte
}

// MessageID renders a messaging-layer identifier as domain/nonce, the form
// printed for operators and used as a dedupe key.
func MessageID(domain Domain, nonce uint64) string {
	return fmt.Sprintf("%d/%d", domain, nonce)
}

// NonceFromUint64 widens a chain-native integer nonce into the corridor's
// opaque 32-byte form, big endian in the low bytes.
func NonceFromUint64(n uint64) [32]byte {
	var out [32]byte
	binary.BigEndian.PutUint64(out[24:], n)
	return out
}

// IsZeroNonce reports whether n is the all-zero nonce.
func IsZeroNonce(n [32]byte) bool {
	return bytes.Equal(n[:], make([]byte, 32))
}
