// Package evm implements source-chain access for the corridor: the USDC
// token, the bridge's burn entrypoint, the vault touchpoints and the
// messaging endpoint, all over one ethclient connection.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	ethAbi "github.com/ethereum/go-ethereum/accounts/abi"
	ethBind "github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethCommon "github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	ethClient "github.com/ethereum/go-ethereum/ethclient"
	ethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/pending"
	"github.com/solyield/corridor/pkg/wire"
)

const erc20ABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const tokenMessengerABI = `[
	{"name":"depositForBurn","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"destinationDomain","type":"uint32"},
		{"name":"mintRecipient","type":"bytes32"},
		{"name":"burnToken","type":"address"},
		{"name":"destinationCaller","type":"bytes32"},
		{"name":"maxFee","type":"uint256"},
		{"name":"minFinalityThreshold","type":"uint32"}],"outputs":[]}
]`

const vaultABI = `[
	{"name":"pendingTransfer","type":"function","stateMutability":"view","inputs":[{"name":"adapter","type":"address"}],"outputs":[
		{"name":"amount","type":"uint64"},{"name":"nonce","type":"bytes32"},{"name":"destinationKey","type":"bytes32"}]},
	{"name":"initiateTransfer","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"amount","type":"uint64"},{"name":"adapter","type":"address"},{"name":"nonce","type":"bytes32"},{"name":"destinationKey","type":"bytes32"}],"outputs":[]},
	{"name":"finalizeTransfer","type":"function","stateMutability":"payable","inputs":[
		{"name":"amount","type":"uint64"},{"name":"adapter","type":"address"}],"outputs":[]},
	{"name":"clearPendingTransfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"adapter","type":"address"}],"outputs":[]},
	{"name":"syncInvestedAssets","type":"function","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"name":"setStrategyBalance","type":"function","stateMutability":"nonpayable","inputs":[{"name":"adapter","type":"address"},{"name":"balance","type":"uint256"}],"outputs":[]},
	{"name":"strategyBalance","type":"function","stateMutability":"view","inputs":[{"name":"adapter","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"investedAssets","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const endpointABI = `[
	{"name":"quote","type":"function","stateMutability":"view","inputs":[
		{"name":"dstDomain","type":"uint32"},{"name":"payload","type":"bytes"},{"name":"options","type":"bytes"},{"name":"payInAltToken","type":"bool"}],
		"outputs":[{"name":"nativeFee","type":"uint256"},{"name":"altFee","type":"uint256"}]},
	{"name":"send","type":"function","stateMutability":"payable","inputs":[
		{"name":"dstDomain","type":"uint32"},{"name":"payload","type":"bytes"},{"name":"options","type":"bytes"}],
		"outputs":[{"name":"guid","type":"bytes32"},{"name":"nonce","type":"uint64"},{"name":"fee","type":"uint256"}]}
]`

var (
	// messageSentTopic identifies the transmitter's MessageSent(bytes) event,
	// whose payload is the bridge message we pull the nonce from.
	messageSentTopic = ethCrypto.Keccak256Hash([]byte("MessageSent(bytes)"))

	// packetSentTopic identifies the endpoint's delivery-tracking event.
	packetSentTopic = ethCrypto.Keccak256Hash([]byte("PacketSent(bytes32,uint64,uint256)"))

	sourceTxLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "corridor_evm_tx_latency_seconds",
			Help: "Latency histogram for source-chain transactions, submit to mined",
		}, []string{"operation"})
	sourceTxReverts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corridor_evm_tx_reverts_total",
			Help: "Total number of reverted source-chain transactions",
		}, []string{"operation"})
)

const rpcTimeout = 10 * time.Second

// RevertError carries the revert reason of a mined-but-failed transaction.
type RevertError struct {
	Operation string
	TxHash    ethCommon.Hash
	Reason    string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s reverted in tx %s", e.Operation, e.TxHash)
	}
	return fmt.Sprintf("%s reverted in tx %s: %s", e.Operation, e.TxHash, e.Reason)
}

// Connector binds the four source-chain contracts the corridor touches.
type Connector struct {
	logger  *zap.Logger
	client  *ethClient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	signer  ethCommon.Address

	usdcAddr           ethCommon.Address
	tokenMessengerAddr ethCommon.Address
	vaultAddr          ethCommon.Address
	endpointAddr       ethCommon.Address

	usdc           *ethBind.BoundContract
	tokenMessenger *ethBind.BoundContract
	vault          *ethBind.BoundContract
	endpoint       *ethBind.BoundContract

	bytesArgs ethAbi.Arguments
}

// NewConnector dials the source chain and binds the corridor contracts. The
// signing key is required for anything beyond read-only use.
func NewConnector(ctx context.Context, cctx *corridor.Context, logger *zap.Logger) (*Connector, error) {
	rawClient, err := ethRpc.DialContext(ctx, cctx.SourceRPC)
	if err != nil {
		return nil, fmt.Errorf("failed to dial source chain: %w", err)
	}
	client := ethClient.NewClient(rawClient)

	c := &Connector{
		logger:             logger,
		client:             client,
		chainID:            big.NewInt(cctx.SourceChainID),
		usdcAddr:           cctx.USDC,
		tokenMessengerAddr: cctx.TokenMessenger,
		vaultAddr:          cctx.Vault,
		endpointAddr:       cctx.Endpoint,
	}

	if cctx.SourceKey != nil {
		key, err := ethCrypto.HexToECDSA(cctx.SourceKey.Hex)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %w", err)
		}
		c.key = key
		c.signer = ethCrypto.PubkeyToAddress(key.PublicKey)
	}

	for _, b := range []struct {
		abiJSON string
		addr    ethCommon.Address
		out     **ethBind.BoundContract
	}{
		{erc20ABI, c.usdcAddr, &c.usdc},
		{tokenMessengerABI, c.tokenMessengerAddr, &c.tokenMessenger},
		{vaultABI, c.vaultAddr, &c.vault},
		{endpointABI, c.endpointAddr, &c.endpoint},
	} {
		parsed, err := ethAbi.JSON(strings.NewReader(b.abiJSON))
		if err != nil {
			panic(err)
		}
		*b.out = ethBind.NewBoundContract(b.addr, parsed, client, client, client)
	}

	bytesType, err := ethAbi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	c.bytesArgs = ethAbi.Arguments{{Type: bytesType}}

	return c, nil
}

// Signer is the address transactions are sent from.
func (c *Connector) Signer() ethCommon.Address {
	return c.signer
}

func (c *Connector) transactOpts(ctx context.Context, value *big.Int) (*ethBind.TransactOpts, error) {
	if c.key == nil {
		return nil, fmt.Errorf("connector has no signing key")
	}
	opts, err := ethBind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = value
	return opts, nil
}

// waitMined blocks until the tx is mined and returns a RevertError if it
// failed on-chain.
func (c *Connector) waitMined(ctx context.Context, operation string, tx *ethTypes.Transaction) (*ethTypes.Receipt, error) {
	start := time.Now()
	receipt, err := ethBind.WaitMined(ctx, c.client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s tx %s: %w", operation, tx.Hash(), err)
	}
	sourceTxLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if receipt.Status != ethTypes.ReceiptStatusSuccessful {
		sourceTxReverts.WithLabelValues(operation).Inc()
		return nil, &RevertError{
			Operation: operation,
			TxHash:    tx.Hash(),
			Reason:    c.revertReason(ctx, tx, receipt.BlockNumber),
		}
	}
	return receipt, nil
}

// revertReason replays the tx as a call at its block to recover the revert
// string. Best effort; an empty reason is fine.
func (c *Connector) revertReason(ctx context.Context, tx *ethTypes.Transaction, blockNumber *big.Int) string {
	msg := ethereum.CallMsg{
		From:  c.signer,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}
	rCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()
	if _, err := c.client.CallContract(rCtx, msg, blockNumber); err != nil {
		return err.Error()
	}
	return ""
}

func (c *Connector) BalanceOf(ctx context.Context, owner ethCommon.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.usdc.Call(&ethBind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("balanceOf call failed: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (c *Connector) Allowance(ctx context.Context, owner, spender ethCommon.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.usdc.Call(&ethBind.CallOpts{Context: ctx}, &out, "allowance", owner, spender); err != nil {
		return nil, fmt.Errorf("allowance call failed: %w", err)
	}
	return out[0].(*big.Int), nil
}

// Approve grants spender an allowance and waits for inclusion.
func (c *Connector) Approve(ctx context.Context, spender ethCommon.Address, amount *big.Int) (ethCommon.Hash, error) {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return ethCommon.Hash{}, err
	}
	tx, err := c.usdc.Transact(opts, "approve", spender, amount)
	if err != nil {
		return ethCommon.Hash{}, fmt.Errorf("approve failed: %w", err)
	}
	if _, err := c.waitMined(ctx, "approve", tx); err != nil {
		return ethCommon.Hash{}, err
	}
	return tx.Hash(), nil
}

// DepositForBurn submits the bridge burn and returns the tx hash plus the
// nonce assigned by the transmitter, extracted from the MessageSent event.
func (c *Connector) DepositForBurn(
	ctx context.Context,
	amount *big.Int,
	destinationDomain uint32,
	mintRecipient [32]byte,
	destinationCaller [32]byte,
	maxFee *big.Int,
	minFinalityThreshold uint32,
) (ethCommon.Hash, [32]byte, error) {
	var nonce [32]byte

	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return ethCommon.Hash{}, nonce, err
	}

	tx, err := c.tokenMessenger.Transact(opts, "depositForBurn",
		amount, destinationDomain, mintRecipient, c.usdcAddr, destinationCaller, maxFee, minFinalityThreshold)
	if err != nil {
		return ethCommon.Hash{}, nonce, fmt.Errorf("depositForBurn failed: %w", err)
	}

	c.logger.Info("burn submitted",
		zap.Stringer("txHash", tx.Hash()),
		zap.String("amount", amount.String()),
		zap.Uint32("destinationDomain", destinationDomain))

	receipt, err := c.waitMined(ctx, "depositForBurn", tx)
	if err != nil {
		return tx.Hash(), nonce, err
	}

	msg, err := c.messageFromReceipt(receipt)
	if err != nil {
		return tx.Hash(), nonce, err
	}
	return tx.Hash(), msg.Nonce, nil
}

// messageFromReceipt finds the transmitter's MessageSent event in a receipt
// and decodes the bridge message it carries.
func (c *Connector) messageFromReceipt(receipt *ethTypes.Receipt) (*wire.BridgeMessage, error) {
	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != messageSentTopic {
			continue
		}
		unpacked, err := c.bytesArgs.Unpack(log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to unpack MessageSent event: %w", err)
		}
		return wire.DecodeBridgeMessage(unpacked[0].([]byte))
	}
	return nil, fmt.Errorf("no MessageSent event in receipt %s", receipt.TxHash)
}

// Quote asks the messaging endpoint for the current delivery fee. Callers
// must re-quote immediately before sending; fee markets drift.
func (c *Connector) Quote(ctx context.Context, dstDomain uint32, payload, options []byte, payInAltToken bool) (*big.Int, *big.Int, error) {
	var out []interface{}
	if err := c.endpoint.Call(&ethBind.CallOpts{Context: ctx}, &out, "quote", dstDomain, payload, options, payInAltToken); err != nil {
		return nil, nil, fmt.Errorf("quote call failed: %w", err)
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// Send pays nativeFee and hands the payload to the messaging endpoint. The
// returned receipt only means the message was accepted for relay, not that
// it was delivered.
func (c *Connector) Send(ctx context.Context, dstDomain uint32, payload, options []byte, nativeFee *big.Int) (*corridor.MessagingReceipt, error) {
	opts, err := c.transactOpts(ctx, nativeFee)
	if err != nil {
		return nil, err
	}
	tx, err := c.endpoint.Transact(opts, "send", dstDomain, payload, options)
	if err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}
	receipt, err := c.waitMined(ctx, "send", tx)
	if err != nil {
		return nil, err
	}

	for _, log := range receipt.Logs {
		if len(log.Topics) == 0 || log.Topics[0] != packetSentTopic {
			continue
		}
		// PacketSent(bytes32 guid, uint64 nonce, uint256 fee), none indexed:
		// three static 32-byte words.
		if len(log.Data) < 96 {
			return nil, fmt.Errorf("malformed PacketSent event in tx %s", tx.Hash())
		}
		r := &corridor.MessagingReceipt{
			Nonce:  new(big.Int).SetBytes(log.Data[32:64]).Uint64(),
			Fee:    new(big.Int).SetBytes(log.Data[64:96]),
			TxHash: tx.Hash(),
		}
		copy(r.GUID[:], log.Data[:32])
		return r, nil
	}
	return nil, fmt.Errorf("no PacketSent event in tx %s", tx.Hash())
}

// --- vault touchpoints ---

// PendingTransfer reads the adapter's slot from the vault. Implements
// pending.VaultBinding.
func (c *Connector) PendingTransfer(ctx context.Context, adapter ethCommon.Address) (*pending.Transfer, error) {
	var out []interface{}
	if err := c.vault.Call(&ethBind.CallOpts{Context: ctx}, &out, "pendingTransfer", adapter); err != nil {
		return nil, fmt.Errorf("pendingTransfer call failed: %w", err)
	}
	t := &pending.Transfer{Amount: out[0].(uint64)}
	t.Nonce = out[1].([32]byte)
	t.DestinationKey = out[2].([32]byte)
	return t, nil
}

// RecordTransfer occupies the adapter's slot via initiateTransfer.
func (c *Connector) RecordTransfer(ctx context.Context, adapter ethCommon.Address, t pending.Transfer) error {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return err
	}
	tx, err := c.vault.Transact(opts, "initiateTransfer", t.Amount, adapter, t.Nonce, t.DestinationKey)
	if err != nil {
		return fmt.Errorf("initiateTransfer failed: %w", err)
	}
	_, err = c.waitMined(ctx, "initiateTransfer", tx)
	return err
}

// ClearTransfer is the administrative slot reset, used once the
// destination-side apply is confirmed (or during stuck-transfer recovery).
func (c *Connector) ClearTransfer(ctx context.Context, adapter ethCommon.Address) error {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return err
	}
	tx, err := c.vault.Transact(opts, "clearPendingTransfer", adapter)
	if err != nil {
		return fmt.Errorf("clearPendingTransfer failed: %w", err)
	}
	_, err = c.waitMined(ctx, "clearPendingTransfer", tx)
	return err
}

// FinalizeTransfer drives the vault's payable finalize touchpoint.
func (c *Connector) FinalizeTransfer(ctx context.Context, amount uint64, adapter ethCommon.Address, nativeFee *big.Int) (ethCommon.Hash, error) {
	opts, err := c.transactOpts(ctx, nativeFee)
	if err != nil {
		return ethCommon.Hash{}, err
	}
	tx, err := c.vault.Transact(opts, "finalizeTransfer", amount, adapter)
	if err != nil {
		return ethCommon.Hash{}, fmt.Errorf("finalizeTransfer failed: %w", err)
	}
	if _, err := c.waitMined(ctx, "finalizeTransfer", tx); err != nil {
		return tx.Hash(), err
	}
	return tx.Hash(), nil
}

func (c *Connector) StrategyBalance(ctx context.Context, adapter ethCommon.Address) (*big.Int, error) {
	var out []interface{}
	if err := c.vault.Call(&ethBind.CallOpts{Context: ctx}, &out, "strategyBalance", adapter); err != nil {
		return nil, fmt.Errorf("strategyBalance call failed: %w", err)
	}
	return out[0].(*big.Int), nil
}

func (c *Connector) InvestedAssets(ctx context.Context) (*big.Int, error) {
	var out []interface{}
	if err := c.vault.Call(&ethBind.CallOpts{Context: ctx}, &out, "investedAssets"); err != nil {
		return nil, fmt.Errorf("investedAssets call failed: %w", err)
	}
	return out[0].(*big.Int), nil
}

// SetStrategyBalance overwrites the vault's believed balance for an adapter.
func (c *Connector) SetStrategyBalance(ctx context.Context, adapter ethCommon.Address, balance *big.Int) error {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return err
	}
	tx, err := c.vault.Transact(opts, "setStrategyBalance", adapter, balance)
	if err != nil {
		return fmt.Errorf("setStrategyBalance failed: %w", err)
	}
	_, err = c.waitMined(ctx, "setStrategyBalance", tx)
	return err
}

// SyncInvestedAssets recomputes the vault's invested-assets figure from its
// per-adapter balances.
func (c *Connector) SyncInvestedAssets(ctx context.Context) error {
	opts, err := c.transactOpts(ctx, nil)
	if err != nil {
		return err
	}
	tx, err := c.vault.Transact(opts, "syncInvestedAssets")
	if err != nil {
		return fmt.Errorf("syncInvestedAssets failed: %w", err)
	}
	_, err = c.waitMined(ctx, "syncInvestedAssets", tx)
	return err
}
