package cctp

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/near/borsh-go"
)

// anchorDiscriminatorLen is the 8-byte account tag prefixing every
// program-owned state account.
const anchorDiscriminatorLen = 8

// tokenMessengerState is the prefix of the token messenger's config account
// we care about. FeeRecipient is runtime configuration: it can be rotated by
// the program owner, which is why the fee recipient token account must be
// read from here and never derived by convention.
type tokenMessengerState struct {
	Owner                   solana.PublicKey
	PendingOwner            solana.PublicKey
	LocalMessageTransmitter solana.PublicKey
	MessageBodyVersion      uint32
	AuthorityBump           uint8
	FeeRecipient            solana.PublicKey
	MinFeeController        solana.PublicKey
	MinFee                  uint32
}

// localTokenState is the prefix of the per-mint local-token account. Custody
// carries a stored bump, so the custody token account is likewise state, not
// derivation.
type localTokenState struct {
	Custody             solana.PublicKey
	Mint                solana.PublicKey
	BurnLimitPerMessage uint64
	MessagesSent        uint64
	MessagesReceived    uint64
	AmountSent          uint64
	AmountReceived      uint64
	Bump                uint8
	CustodyBump         uint8
}

// readAccountState fetches an account and borsh-decodes its post-tag bytes
// into out. Trailing fields beyond what out declares are ignored.
func (c *Client) readAccountState(ctx context.Context, key solana.PublicKey, out interface{}) error {
	rCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	info, err := c.rpcClient.GetAccountInfoWithOpts(rCtx, key, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return fmt.Errorf("failed to request account %s: %w", key, err)
	}
	data := info.Value.Data.GetBinary()
	if len(data) <= anchorDiscriminatorLen {
		return fmt.Errorf("account %s too short to hold program state", key)
	}
	if err := borsh.Deserialize(out, data[anchorDiscriminatorLen:]); err != nil {
		return fmt.Errorf("failed to decode account %s: %w", key, err)
	}
	return nil
}

// stateAccounts are the two mint-instruction accounts that cannot be derived
// from static inputs (see §readAccountState doc comments).
type stateAccounts struct {
	FeeRecipientTokenAccount solana.PublicKey
	CustodyTokenAccount      solana.PublicKey
}

// resolveStateAccounts reads the fee recipient and custody addresses from
// initialized program state, given the already-derived config account keys.
func (c *Client) resolveStateAccounts(ctx context.Context, tokenMessenger, localToken solana.PublicKey) (*stateAccounts, error) {
	var messenger tokenMessengerState
	if err := c.readAccountState(ctx, tokenMessenger, &messenger); err != nil {
		return nil, fmt.Errorf("token messenger state: %w", err)
	}

	var local localTokenState
	if err := c.readAccountState(ctx, localToken, &local); err != nil {
		return nil, fmt.Errorf("local token state: %w", err)
	}
	if !local.Mint.Equals(c.usdcMint) {
		return nil, fmt.Errorf("local token account holds mint %s, expected %s", local.Mint, c.usdcMint)
	}

	feeRecipientAta, _, err := solana.FindAssociatedTokenAddress(messenger.FeeRecipient, c.usdcMint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive fee recipient token account: %w", err)
	}

	return &stateAccounts{
		FeeRecipientTokenAccount: feeRecipientAta,
		CustodyTokenAccount:      local.Custody,
	}, nil
}
