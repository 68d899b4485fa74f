package wire

import (
	"encoding/binary"
	"fmt"
)

// Finalize payload sizes. The canonical form is amount-only; the extended
// forms append a correlation id and, optionally, an EVM user address.
const (
	finalizeAmountLen  = 8
	finalizeCorrelated = finalizeAmountLen + 32
	finalizeFullLen    = finalizeCorrelated + 20
)

// FinalizeMessage instructs the destination program to apply an
// already-minted amount to the yield venue. Amount is the post-fee minted
// amount in base units, never the amount originally requested.
type FinalizeMessage struct {
	Amount        uint64
	CorrelationID *[32]byte
	User          *[20]byte
}

// Marshal encodes the payload. The amount is little endian, matching the
// destination program's expected layout. Amount range checking is the
// caller's job; any uint64 is encodable.
func (f *FinalizeMessage) Marshal() []byte {
	out := make([]byte, 0, finalizeFullLen)
	var amt [finalizeAmountLen]byte
	binary.LittleEndian.PutUint64(amt[:], f.Amount)
	out = append(out, amt[:]...)
	if f.CorrelationID != nil {
		out = append(out, f.CorrelationID[:]...)
		if f.User != nil {
			out = append(out, f.User[:]...)
		}
	}
	return out
}

// UnmarshalFinalizeMessage accepts the canonical amount-only payload and the
// two extended layouts. Anything else is malformed.
func UnmarshalFinalizeMessage(data []byte) (*FinalizeMessage, error) {
	f := &FinalizeMessage{}
	switch len(data) {
	case finalizeAmountLen:
	case finalizeCorrelated:
		f.CorrelationID = new([32]byte)
		copy(f.CorrelationID[:], data[finalizeAmountLen:])
	case finalizeFullLen:
		f.CorrelationID = new([32]byte)
		copy(f.CorrelationID[:], data[finalizeAmountLen:finalizeCorrelated])
		f.User = new([20]byte)
		copy(f.User[:], data[finalizeCorrelated:])
	default:
		return nil, fmt.Errorf("%w: finalize payload of %d bytes", ErrMalformedMessage, len(data))
	}
	f.Amount = binary.LittleEndian.Uint64(data[:finalizeAmountLen])
	return f, nil
}
