package cctp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/replay"
	"github.com/solyield/corridor/pkg/wire"
)

func testMintClient(t *testing.T) *Client {
	t.Helper()
	return &Client{
		logger:                 zaptest.NewLogger(t),
		transmitterProgram:     solana.MustPublicKeyFromBase58("CCTPmbSD7gX1bxKPAmg77w8oFzNFpaQiQUWD43TKaecd"),
		messengerMinterProgram: solana.MustPublicKeyFromBase58("CCTPiPYPc6AsJuwueEnWgSgucamXDZwBd53dQ11YiKX3"),
		usdcMint:               solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		payer:                  solana.NewWallet().PrivateKey,
	}
}

func testBridgeMessage(t *testing.T, nonce uint64) (*wire.BridgeMessage, *wire.BurnBody) {
	t.Helper()
	recipient := solana.NewWallet().PublicKey()
	body := &wire.BurnBody{
		MinFinalityThreshold: 1000,
		Version:              1,
		Amount:               uint256.NewInt(1_000_000),
	}
	copy(body.MintRecipient[:], recipient.Bytes())
	copy(body.BurnToken[12:], bytes.Repeat([]byte{0x42}, 20))

	msg := &wire.BridgeMessage{
		Version:           1,
		SourceDomain:      uint32(corridor.DomainBase),
		DestinationDomain: uint32(corridor.DomainSolana),
		Nonce:             corridor.NonceFromUint64(nonce),
		Body:              body.Marshal(),
	}
	return msg, body
}

func TestMintAccountTableValidatesAndDerivesDeterministically(t *testing.T) {
	c := testMintClient(t)
	msg, body := testBridgeMessage(t, 1)

	table, err := c.mintAccountTable(msg, body)
	require.NoError(t, err)
	require.NoError(t, table.Validate())

	a, err := deriveTableAccounts(table)
	require.NoError(t, err)
	b, err := deriveTableAccounts(table)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// The state-backed entries are absent until resolved, everything else
	// resolves to a distinct non-zero key (the two program repeats aside).
	assert.NotContains(t, a, "fee_recipient_token_account")
	assert.NotContains(t, a, "custody_token_account")
	seen := map[solana.PublicKey]string{}
	for _, name := range []string{
		"transmitter_authority", "message_transmitter", "used_nonce",
		"token_messenger", "remote_token_messenger", "token_minter",
		"local_token", "token_pair",
	} {
		key, ok := a[name]
		require.True(t, ok, name)
		assert.False(t, key.IsZero(), name)
		if prev, dup := seen[key]; dup {
			t.Fatalf("accounts %s and %s derived to the same key", prev, name)
		}
		seen[key] = name
	}
}

func TestMintAccountTableUsedNonceMatchesReplayMarker(t *testing.T) {
	c := testMintClient(t)
	msg, body := testBridgeMessage(t, 7)

	table, err := c.mintAccountTable(msg, body)
	require.NoError(t, err)
	resolved, err := deriveTableAccounts(table)
	require.NoError(t, err)

	marker, _, err := replay.MarkerKey(c.transmitterProgram, msg.SourceDomain, msg.Nonce)
	require.NoError(t, err)
	assert.Equal(t, marker, resolved["used_nonce"])
}

func TestMintAccountTableNonceChangesMarkerOnly(t *testing.T) {
	c := testMintClient(t)
	msg1, body := testBridgeMessage(t, 1)
	msg2 := *msg1
	msg2.Nonce = corridor.NonceFromUint64(2)

	t1, err := c.mintAccountTable(msg1, body)
	require.NoError(t, err)
	t2, err := c.mintAccountTable(&msg2, body)
	require.NoError(t, err)

	a, err := deriveTableAccounts(t1)
	require.NoError(t, err)
	b, err := deriveTableAccounts(t2)
	require.NoError(t, err)

	assert.NotEqual(t, a["used_nonce"], b["used_nonce"])
	assert.Equal(t, a["token_messenger"], b["token_messenger"])
	assert.Equal(t, a["local_token"], b["local_token"])
}

func TestMetasFromTableRequiresFullResolution(t *testing.T) {
	c := testMintClient(t)
	msg, body := testBridgeMessage(t, 4)

	table, err := c.mintAccountTable(msg, body)
	require.NoError(t, err)
	resolved, err := deriveTableAccounts(table)
	require.NoError(t, err)

	// The state-backed entries are still unresolved.
	_, err = metasFromTable(table, resolved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fee_recipient_token_account")
}

func TestBuildInstructionShape(t *testing.T) {
	c := testMintClient(t)
	msg, body := testBridgeMessage(t, 3)

	table, err := c.mintAccountTable(msg, body)
	require.NoError(t, err)
	resolved, err := deriveTableAccounts(table)
	require.NoError(t, err)
	resolved["fee_recipient_token_account"] = solana.NewWallet().PublicKey()
	resolved["custody_token_account"] = solana.NewWallet().PublicKey()

	metas, err := metasFromTable(table, resolved)
	require.NoError(t, err)

	message := msg.Marshal()
	attestation := bytes.Repeat([]byte{0x99}, 65)
	ix, err := c.buildInstruction(message, attestation, metas)
	require.NoError(t, err)

	assert.Equal(t, c.transmitterProgram, ix.ProgramID())

	data, err := ix.Data()
	require.NoError(t, err)
	assert.Equal(t, receiveMessageDiscriminator, data[:8])
	// borsh vec prefix: four-byte little-endian length, then the bytes.
	assert.Equal(t, byte(len(message)), data[8])
	assert.Contains(t, string(data), string(attestation))

	accounts := ix.Accounts()
	require.Equal(t, len(table)+1, len(accounts))
	assert.Equal(t, c.payer.PublicKey(), accounts[0].PublicKey)
	assert.True(t, accounts[0].IsSigner)
	assert.True(t, accounts[0].IsWritable)

	// The caller entry follows the payer: same key, signer, not writable.
	assert.Equal(t, c.payer.PublicKey(), accounts[1].PublicKey)
	assert.True(t, accounts[1].IsSigner)
	assert.False(t, accounts[1].IsWritable)

	recipient := solana.PublicKeyFromBytes(body.MintRecipient[:])
	assert.Equal(t, recipient, accounts[15].PublicKey)
	assert.True(t, accounts[15].IsWritable)
}

func TestBalanceDelta(t *testing.T) {
	meta := &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 4, UiTokenAmount: &rpc.UiTokenAmount{Amount: "1000"}},
		},
		PostTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 4, UiTokenAmount: &rpc.UiTokenAmount{Amount: "1000999900"}},
		},
	}
	delta, err := balanceDelta(meta, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_998_900), delta)

	// Account funded by this very tx: no pre balance entry.
	meta.PreTokenBalances = nil
	delta, err = balanceDelta(meta, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_999_900), delta)

	_, err = balanceDelta(meta, 5)
	assert.Error(t, err)
}

func TestNonceUsedDetection(t *testing.T) {
	assert.True(t, isNonceUsedError(errors.New("custom program error: NonceAlreadyUsed")))
	assert.True(t, isNonceUsedValue(map[string]interface{}{"InstructionError": "nonce already used"}))
	assert.False(t, isNonceUsedError(errors.New("insufficient funds for rent")))
	assert.False(t, isNonceUsedError(nil))
}
