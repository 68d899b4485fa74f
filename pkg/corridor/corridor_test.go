package corridor

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Source.Kind = "evm"
	cfg.Source.RPC = "https://mainnet.base.org"
	cfg.Source.ChainID = 8453
	cfg.Source.Domain = 6
	cfg.Source.USDC = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
	cfg.Source.TokenMessenger = "0x28b5a0e9C621a5BadaA536219b3a228C8168cf5d"
	cfg.Source.Vault = "0x0000000000000000000000000000000000000100"
	cfg.Source.Endpoint = "0x1a44076050125825900e736c501f859c50fE728c"
	cfg.Destination.Kind = "solana"
	cfg.Destination.RPC = "https://api.mainnet-beta.solana.com"
	cfg.Destination.Domain = 5
	cfg.Destination.MessageTransmitter = "CCTPmbSD7gX1bxKPAmg77w8oFzNFpaQiQUWD43TKaecd"
	cfg.Destination.TokenMessengerMinter = "CCTPiPYPc6AsJuwueEnWgSgucamXDZwBd53dQ11YiKX3"
	cfg.Destination.USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	cfg.Attestation.BaseURL = "https://iris-api.circle.com"
	return cfg
}

func TestNewContextDefaultsPollPolicy(t *testing.T) {
	ctx, err := NewContext(validConfig())
	require.NoError(t, err)
	assert.Equal(t, uint64(40), ctx.PollMaxAttempts)
	assert.Equal(t, "5s", ctx.PollInterval.String())
	assert.Equal(t, DomainBase, ctx.SourceDomain)
	assert.Equal(t, DomainSolana, ctx.DestDomain)
}

func TestNewContextRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source kind", func(c *Config) { c.Source.Kind = "aptos" }},
		{"solana source unsupported", func(c *Config) { c.Source.Kind = "solana" }},
		{"missing source rpc", func(c *Config) { c.Source.RPC = "" }},
		{"bad vault address", func(c *Config) { c.Source.Vault = "not-an-address" }},
		{"bad transmitter key", func(c *Config) { c.Destination.MessageTransmitter = "!!!" }},
		{"missing attestation url", func(c *Config) { c.Attestation.BaseURL = "" }},
		{"bad private key", func(c *Config) { c.Source.PrivateKey = "zz" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			_, err := NewContext(cfg)
			assert.Error(t, err)
		})
	}
}

func TestChainKindRoundTrip(t *testing.T) {
	for _, k := range []ChainKind{ChainKindEVM, ChainKindSolana} {
		got, err := ChainKindFromString(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ChainKindFromString("sui")
	assert.Error(t, err)
}

func TestAccountTableValidate(t *testing.T) {
	program := solana.MustPublicKeyFromBase58("CCTPiPYPc6AsJuwueEnWgSgucamXDZwBd53dQ11YiKX3")
	static := solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	good := AccountTable{
		{Name: "token_program", Kind: AccountStatic, Address: static},
		{Name: "token_messenger", Kind: AccountDerived, Seeds: [][]byte{[]byte("token_messenger")}, Program: program},
		{Name: "fee_recipient_token_account", Kind: AccountFromState, StateField: "fee_recipient", Writable: true},
	}
	require.NoError(t, good.Validate())

	tests := []struct {
		name  string
		table AccountTable
	}{
		{"duplicate name", AccountTable{
			{Name: "a", Kind: AccountStatic, Address: static},
			{Name: "a", Kind: AccountStatic, Address: static},
		}},
		{"missing name", AccountTable{{Kind: AccountStatic, Address: static}}},
		{"static without address", AccountTable{{Name: "a", Kind: AccountStatic}}},
		{"derived without seeds", AccountTable{{Name: "a", Kind: AccountDerived, Program: program}}},
		{"state entry with seeds", AccountTable{
			{Name: "a", Kind: AccountFromState, StateField: "custody", Seeds: [][]byte{{1}}},
		}},
		{"ambiguous static with state field", AccountTable{
			{Name: "a", Kind: AccountStatic, Address: static, StateField: "custody"},
		}},
		{"unknown kind", AccountTable{{Name: "a"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.table.Validate())
		})
	}
}
