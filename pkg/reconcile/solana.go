package reconcile

import (
	"context"
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// SolanaVenue reads the true balance of one destination-side token account,
// typically the venue position account the corridor mints into.
type SolanaVenue struct {
	client       *rpc.Client
	tokenAccount solana.PublicKey
}

func NewSolanaVenue(client *rpc.Client, tokenAccount solana.PublicKey) *SolanaVenue {
	return &SolanaVenue{client: client, tokenAccount: tokenAccount}
}

func (v *SolanaVenue) VenueBalance(ctx context.Context) (*big.Int, error) {
	res, err := v.client.GetTokenAccountBalance(ctx, v.tokenAccount, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to read token balance of %s: %w", v.tokenAccount, err)
	}
	if res.Value == nil {
		return nil, fmt.Errorf("no balance value for token account %s", v.tokenAccount)
	}
	amount, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("bad token amount %q for account %s", res.Value.Amount, v.tokenAccount)
	}
	return amount, nil
}
