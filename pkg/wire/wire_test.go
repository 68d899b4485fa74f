package wire

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBridgeFixture(t *testing.T) *BridgeMessage {
	t.Helper()

	body := &BurnBody{
		MaxFee:               500,
		MinFinalityThreshold: 1000,
		Version:              1,
		Amount:               uint256.NewInt(1_000_000),
	}
	copy(body.BurnToken[:], bytes.Repeat([]byte{0xaa}, 32))
	copy(body.MintRecipient[:], bytes.Repeat([]byte{0xbb}, 32))

	m := &BridgeMessage{
		Version:           1,
		SourceDomain:      6,
		DestinationDomain: 5,
		Body:              body.Marshal(),
	}
	copy(m.Nonce[:], bytes.Repeat([]byte{0x11}, 32))
	copy(m.Sender[:], bytes.Repeat([]byte{0x22}, 32))
	copy(m.Recipient[:], bytes.Repeat([]byte{0x33}, 32))
	copy(m.DestinationCaller[:], bytes.Repeat([]byte{0x44}, 32))
	return m
}

func TestBridgeMessageRoundTrip(t *testing.T) {
	in := makeBridgeFixture(t)

	out, err := DecodeBridgeMessage(in.Marshal())
	require.NoError(t, err)

	assert.Equal(t, in.Version, out.Version)
	assert.Equal(t, in.SourceDomain, out.SourceDomain)
	assert.Equal(t, in.DestinationDomain, out.DestinationDomain)
	assert.Equal(t, in.Nonce, out.Nonce)
	assert.Equal(t, in.Sender, out.Sender)
	assert.Equal(t, in.Recipient, out.Recipient)
	assert.Equal(t, in.DestinationCaller, out.DestinationCaller)
	assert.Equal(t, in.Body, out.Body)
}

func TestBurnBodyRoundTrip(t *testing.T) {
	in := makeBridgeFixture(t)

	m, err := DecodeBridgeMessage(in.Marshal())
	require.NoError(t, err)

	body, err := DecodeBurnBody(m.Body)
	require.NoError(t, err)

	assert.Equal(t, uint32(500), body.MaxFee)
	assert.Equal(t, uint32(1000), body.MinFinalityThreshold)
	assert.Equal(t, uint64(1_000_000), body.Amount.Uint64())
	assert.Equal(t, bytes.Repeat([]byte{0xaa}, 32), body.BurnToken[:])
	assert.Equal(t, bytes.Repeat([]byte{0xbb}, 32), body.MintRecipient[:])
}

func TestDecodeBridgeMessageTooShort(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "one byte short of header", data: make([]byte, HeaderLen-1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeBridgeMessage(tc.data)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}

	// Exactly a header with no body is a valid (if useless) message.
	m, err := DecodeBridgeMessage(make([]byte, HeaderLen))
	require.NoError(t, err)
	assert.Empty(t, m.Body)
}

func TestDecodeBurnBodyTooShort(t *testing.T) {
	_, err := DecodeBurnBody(make([]byte, bodyLen-1))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestFinalizeMessageCanonical(t *testing.T) {
	f := &FinalizeMessage{Amount: 999_900}
	data := f.Marshal()
	require.Len(t, data, 8)

	// Little endian: low byte first.
	assert.Equal(t, []byte{0xdc, 0x41, 0x0f, 0x00, 0x00, 0x00, 0x00, 0x00}, data)

	out, err := UnmarshalFinalizeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(999_900), out.Amount)
	assert.Nil(t, out.CorrelationID)
	assert.Nil(t, out.User)
}

func TestFinalizeMessageExtended(t *testing.T) {
	var corr [32]byte
	copy(corr[:], bytes.Repeat([]byte{0x55}, 32))
	var user [20]byte
	copy(user[:], bytes.Repeat([]byte{0x66}, 20))

	f := &FinalizeMessage{Amount: 1, CorrelationID: &corr, User: &user}
	out, err := UnmarshalFinalizeMessage(f.Marshal())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Amount)
	require.NotNil(t, out.CorrelationID)
	assert.Equal(t, corr, *out.CorrelationID)
	require.NotNil(t, out.User)
	assert.Equal(t, user, *out.User)
}

func TestFinalizeMessageBadLength(t *testing.T) {
	for _, n := range []int{0, 7, 9, 39, 41, 59, 61} {
		_, err := UnmarshalFinalizeMessage(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformedMessage, "length %d", n)
	}
}
