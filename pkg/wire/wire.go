// Package wire implements the two binary formats the corridor moves:
// the token bridge transfer message (fixed-offset header plus burn body)
// and the finalize payload carried by the messaging layer.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var ErrMalformedMessage = errors.New("malformed message")

// Bridge message header layout. All header integers are big endian,
// per the bridge protocol; the offsets are fixed and not negotiable.
const (
	headerVersionOffset           = 0
	headerSourceDomainOffset      = 4
	headerDestinationDomainOffset = 8
	headerNonceOffset             = 12
	headerSenderOffset            = 44
	headerRecipientOffset         = 76
	headerDestinationCallerOffset = 108
	headerBodyOffset              = 140

	// HeaderLen is the length of a bridge message header without its body.
	HeaderLen = headerBodyOffset
)

// Burn body layout, offsets relative to the start of the body.
const (
	bodyMaxFeeOffset               = 0
	bodyMinFinalityThresholdOffset = 4
	bodyVersionOffset              = 8
	bodyBurnTokenOffset            = 12
	bodyMintRecipientOffset        = 44
	bodyAmountOffset               = 76
	bodyLen                        = 108
)

type (
	// BridgeMessage is the transfer envelope emitted by a burn on the
	// source chain and consumed by the mint on the destination chain.
	BridgeMessage struct {
		Version           uint32
		SourceDomain      uint32
		DestinationDomain uint32
		Nonce             [32]byte
		Sender            [32]byte
		Recipient         [32]byte
		DestinationCaller [32]byte
		Body              []byte
	}

	// BurnBody is the burn-specific payload embedded in a BridgeMessage.
	BurnBody struct {
		MaxFee               uint32
		MinFinalityThreshold uint32
		Version              uint32
		BurnToken            [32]byte
		MintRecipient        [32]byte
		Amount               *uint256.Int
	}
)

// DecodeBridgeMessage parses the fixed-offset transfer envelope. The body is
// returned as raw bytes; callers that expect a burn interpret it with
// DecodeBurnBody.
func DecodeBridgeMessage(data []byte) (*BridgeMessage, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("%w: have %d bytes, header needs %d", ErrMalformedMessage, len(data), HeaderLen)
	}

	m := &BridgeMessage{
		Version:           binary.BigEndian.Uint32(data[headerVersionOffset:]),
		SourceDomain:      binary.BigEndian.Uint32(data[headerSourceDomainOffset:]),
		DestinationDomain: binary.BigEndian.Uint32(data[headerDestinationDomainOffset:]),
	}
	copy(m.Nonce[:], data[headerNonceOffset:headerSenderOffset])
	copy(m.Sender[:], data[headerSenderOffset:headerRecipientOffset])
	copy(m.Recipient[:], data[headerRecipientOffset:headerDestinationCallerOffset])
	copy(m.DestinationCaller[:], data[headerDestinationCallerOffset:headerBodyOffset])
	m.Body = data[headerBodyOffset:]

	return m, nil
}

// Marshal serializes the envelope back to its wire form.
func (m *BridgeMessage) Marshal() []byte {
	buf := new(bytes.Buffer)
	mustWrite(buf, m.Version)
	mustWrite(buf, m.SourceDomain)
	mustWrite(buf, m.DestinationDomain)
	buf.Write(m.Nonce[:])
	buf.Write(m.Sender[:])
	buf.Write(m.Recipient[:])
	buf.Write(m.DestinationCaller[:])
	buf.Write(m.Body)
	return buf.Bytes()
}

// DecodeBurnBody parses the burn payload of a bridge message. The amount is a
// big-endian u256 in base units of the burned token.
func DecodeBurnBody(body []byte) (*BurnBody, error) {
	if len(body) < bodyLen {
		return nil, fmt.Errorf("%w: have %d bytes, burn body needs %d", ErrMalformedMessage, len(body), bodyLen)
	}

	b := &BurnBody{
		MaxFee:               binary.BigEndian.Uint32(body[bodyMaxFeeOffset:]),
		MinFinalityThreshold: binary.BigEndian.Uint32(body[bodyMinFinalityThresholdOffset:]),
		Version:              binary.BigEndian.Uint32(body[bodyVersionOffset:]),
	}
	copy(b.BurnToken[:], body[bodyBurnTokenOffset:bodyMintRecipientOffset])
	copy(b.MintRecipient[:], body[bodyMintRecipientOffset:bodyAmountOffset])
	b.Amount = new(uint256.Int).SetBytes32(body[bodyAmountOffset:bodyLen])

	return b, nil
}

// Marshal serializes the burn body back to its wire form.
func (b *BurnBody) Marshal() []byte {
	buf := new(bytes.Buffer)
	mustWrite(buf, b.MaxFee)
	mustWrite(buf, b.MinFinalityThreshold)
	mustWrite(buf, b.Version)
	buf.Write(b.BurnToken[:])
	buf.Write(b.MintRecipient[:])
	amount := b.Amount.Bytes32()
	buf.Write(amount[:])
	return buf.Bytes()
}

func mustWrite(w *bytes.Buffer, v any) {
	if err := binary.Write(w, binary.BigEndian, v); err != nil {
		panic(fmt.Sprintf("failed to write binary data: %v", v))
	}
}
