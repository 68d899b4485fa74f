package bridge

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSolanaKey(t *testing.T) {
	want := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	got, err := parseSolanaKey(want.String())
	require.NoError(t, err)
	assert.Equal(t, [32]byte(want), got)

	_, err = parseSolanaKey("not base58 0OIl")
	assert.Error(t, err)

	// Valid base58 but the wrong length.
	_, err = parseSolanaKey(base58.Encode([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestParseSolanaSignature(t *testing.T) {
	var raw [64]byte
	for i := range raw {
		raw[i] = byte(i + 1)
	}

	got, err := parseSolanaSignature(base58.Encode(raw[:]))
	require.NoError(t, err)
	assert.Equal(t, solana.SignatureFromBytes(raw[:]), got)
	assert.Equal(t, raw[:], got[:])

	_, err = parseSolanaSignature("not base58 0OIl")
	assert.Error(t, err)

	// A 32-byte value is a key, not a signature.
	_, err = parseSolanaSignature(base58.Encode(raw[:32]))
	assert.Error(t, err)
}
