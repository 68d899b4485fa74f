// Package cctp submits bridge mints on the Solana destination chain: it
// derives the receive-message account set, reads the state-dependent
// accounts, builds and sends the instruction, and reports the amount the
// mint actually credited.
package cctp

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/near/borsh-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/retry"
	"github.com/solyield/corridor/pkg/wire"
)

// ErrNonceAlreadyUsed reports that the destination program has consumed this
// message's nonce. Callers collapse it into idempotent success.
var ErrNonceAlreadyUsed = errors.New("message nonce already used on destination")

var (
	mintLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "corridor_cctp_mint_latency_seconds",
			Help: "Latency histogram for mint submission, send to confirmed",
		})
	mintsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corridor_cctp_mints_total",
			Help: "Total number of mint submissions by result",
		}, []string{"result"})
)

const rpcTimeout = 5 * time.Second

// receiveMessageDiscriminator tags the receive_message instruction
// (anchor's global sighash convention).
var receiveMessageDiscriminator = func() []byte {
	h := sha256.Sum256([]byte("global:receive_message"))
	return h[:8]
}()

type receiveMessageParams struct {
	Message     []byte
	Attestation []byte
}

// Client talks to the destination chain for one corridor.
type Client struct {
	logger    *zap.Logger
	rpcClient *rpc.Client

	transmitterProgram     solana.PublicKey
	messengerMinterProgram solana.PublicKey
	usdcMint               solana.PublicKey

	payer solana.PrivateKey
}

// NewClient dials the destination RPC and loads the payer keypair. A client
// without a keypair can derive and read but not submit.
func NewClient(cctx *corridor.Context, logger *zap.Logger) (*Client, error) {
	c := &Client{
		logger:                 logger,
		rpcClient:              rpc.New(cctx.DestinationRPC),
		transmitterProgram:     cctx.MessageTransmitter,
		messengerMinterProgram: cctx.TokenMessengerMinter,
		usdcMint:               cctx.USDCMint,
	}
	if cctx.KeypairPath != "" {
		payer, err := solana.PrivateKeyFromSolanaKeygenFile(cctx.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load keypair: %w", err)
		}
		c.payer = payer
	}
	return c, nil
}

// RPC exposes the underlying connection for replay checks and reads.
func (c *Client) RPC() *rpc.Client {
	return c.rpcClient
}

func (c *Client) Payer() solana.PublicKey {
	return c.payer.PublicKey()
}

// buildInstruction assembles the receive-message instruction: the payer
// signer, then the resolved account table in its declared order.
func (c *Client) buildInstruction(message, attestation []byte, metas solana.AccountMetaSlice) (solana.Instruction, error) {
	data, err := borsh.Serialize(receiveMessageParams{Message: message, Attestation: attestation})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize instruction params: %w", err)
	}

	all := make(solana.AccountMetaSlice, 0, len(metas)+1)
	all = append(all, solana.NewAccountMeta(c.payer.PublicKey(), true, true))
	all = append(all, metas...)

	return solana.NewInstruction(
		c.transmitterProgram,
		all,
		append(append([]byte{}, receiveMessageDiscriminator...), data...),
	), nil
}

// SubmitMint sends the (message, attestation) pair to the destination
// program and returns the confirmed receipt. The minted amount is read from
// the transaction's token balance change, never computed from a fee
// schedule. A consumed nonce surfaces as ErrNonceAlreadyUsed.
func (c *Client) SubmitMint(ctx context.Context, message, attestation []byte) (*corridor.MintReceipt, error) {
	msg, err := wire.DecodeBridgeMessage(message)
	if err != nil {
		return nil, err
	}
	body, err := wire.DecodeBurnBody(msg.Body)
	if err != nil {
		return nil, err
	}

	table, err := c.mintAccountTable(msg, body)
	if err != nil {
		return nil, err
	}
	metas, err := c.resolveAccounts(ctx, table)
	if err != nil {
		return nil, err
	}

	ix, err := c.buildInstruction(message, attestation, metas)
	if err != nil {
		return nil, err
	}
	recipient := solana.PublicKeyFromBytes(body.MintRecipient[:])

	rCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	recent, err := c.rpcClient.GetLatestBlockhash(rCtx, rpc.CommitmentFinalized)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.payer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.payer.PublicKey()) {
			return &c.payer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	start := time.Now()
	rCtx, cancel = context.WithTimeout(ctx, rpcTimeout)
	sig, err := c.rpcClient.SendTransactionWithOpts(rCtx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	cancel()
	if err != nil {
		if isNonceUsedError(err) {
			mintsSubmitted.WithLabelValues("replayed").Inc()
			return nil, ErrNonceAlreadyUsed
		}
		mintsSubmitted.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("mint transaction rejected: %w", err)
	}

	c.logger.Info("mint submitted",
		zap.Stringer("signature", sig),
		zap.Uint32("sourceDomain", msg.SourceDomain),
		zap.Stringer("recipient", recipient))

	if err := c.confirm(ctx, sig); err != nil {
		mintsSubmitted.WithLabelValues("unconfirmed").Inc()
		return nil, err
	}
	mintLatency.Observe(time.Since(start).Seconds())

	minted, err := c.mintedAmount(ctx, sig, recipient)
	if err != nil {
		return nil, err
	}

	mintsSubmitted.WithLabelValues("confirmed").Inc()
	return &corridor.MintReceipt{
		Signature:    sig,
		Nonce:        msg.Nonce,
		MintedAmount: minted,
		Timestamp:    time.Now().UTC(),
	}, nil
}

// confirm waits for the signature to reach confirmed commitment.
func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	_, err := retry.Do(ctx, retry.Policy{MaxAttempts: 30, Interval: 2 * time.Second},
		func(ctx context.Context) (struct{}, error) {
			rCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
			defer cancel()
			res, err := c.rpcClient.GetSignatureStatuses(rCtx, false, sig)
			if err != nil {
				return struct{}{}, err
			}
			if len(res.Value) == 0 || res.Value[0] == nil {
				return struct{}{}, fmt.Errorf("signature %s not yet known", sig)
			}
			status := res.Value[0]
			if status.Err != nil {
				if isNonceUsedValue(status.Err) {
					return struct{}{}, retry.Permanent(ErrNonceAlreadyUsed)
				}
				return struct{}{}, retry.Permanent(fmt.Errorf("mint transaction failed on-chain: %v", status.Err))
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return struct{}{}, nil
			}
			return struct{}{}, fmt.Errorf("signature %s still processing", sig)
		})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return fmt.Errorf("timed out confirming mint %s: %w", sig, err)
		}
		return err
	}
	return nil
}

// mintedAmount reads the recipient token account's balance delta out of the
// transaction metadata.
func (c *Client) mintedAmount(ctx context.Context, sig solana.Signature, recipient solana.PublicKey) (uint64, error) {
	rCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	res, err := c.rpcClient.GetTransaction(rCtx, sig, &rpc.GetTransactionOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch mint transaction %s: %w", sig, err)
	}
	if res.Meta == nil {
		return 0, fmt.Errorf("mint transaction %s has no metadata", sig)
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return 0, fmt.Errorf("failed to decode mint transaction %s: %w", sig, err)
	}

	recipientIndex := -1
	for i, key := range tx.Message.AccountKeys {
		if key.Equals(recipient) {
			recipientIndex = i
			break
		}
	}
	if recipientIndex < 0 {
		return 0, fmt.Errorf("recipient token account %s not in mint transaction %s", recipient, sig)
	}

	return balanceDelta(res.Meta, uint16(recipientIndex))
}

func balanceDelta(meta *rpc.TransactionMeta, accountIndex uint16) (uint64, error) {
	var pre, post uint64
	var err error
	for _, b := range meta.PreTokenBalances {
		if b.AccountIndex == accountIndex {
			pre, err = parseTokenAmount(b.UiTokenAmount.Amount)
			if err != nil {
				return 0, err
			}
		}
	}
	found := false
	for _, b := range meta.PostTokenBalances {
		if b.AccountIndex == accountIndex {
			post, err = parseTokenAmount(b.UiTokenAmount.Amount)
			if err != nil {
				return 0, err
			}
			found = true
		}
	}
	if !found {
		return 0, fmt.Errorf("no post token balance for account index %d", accountIndex)
	}
	if post < pre {
		return 0, fmt.Errorf("recipient balance decreased across mint (%d -> %d)", pre, post)
	}
	return post - pre, nil
}

func parseTokenAmount(s string) (uint64, error) {
	var n uint64
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("bad token amount %q: %w", s, err)
	}
	return n, nil
}

func isNonceUsedError(err error) bool {
	if err == nil {
		return false
	}
	return containsNonceUsed(err.Error())
}

func isNonceUsedValue(v interface{}) bool {
	return containsNonceUsed(fmt.Sprintf("%v", v))
}

func containsNonceUsed(s string) bool {
	return strings.Contains(s, "NonceAlreadyUsed") || strings.Contains(s, "nonce already used")
}
