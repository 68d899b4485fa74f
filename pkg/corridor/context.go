// Package corridor holds the process-wide configuration for one corridor
// invocation: endpoints, contracts, programs, keys and corridor tuning. A
// Context is built once per process, validated eagerly, and immutable
// afterwards; nothing in this repo reads configuration through globals.
package corridor

import (
	"fmt"
	"time"

	ethCommon "github.com/ethereum/go-ethereum/common"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
)

// Config is the raw, file/flag-shaped configuration (viper-friendly).
type Config struct {
	Source struct {
		Kind            string `mapstructure:"kind"`
		RPC             string `mapstructure:"rpc"`
		ChainID         int64  `mapstructure:"chainId"`
		PrivateKey      string `mapstructure:"privateKey"`
		Domain          uint32 `mapstructure:"domain"`
		USDC            string `mapstructure:"usdc"`
		TokenMessenger  string `mapstructure:"tokenMessenger"`
		Vault           string `mapstructure:"vault"`
		Endpoint        string `mapstructure:"endpoint"`
		ExplorerBaseURL string `mapstructure:"explorer"`
	} `mapstructure:"source"`

	Destination struct {
		Kind                 string `mapstructure:"kind"`
		RPC                  string `mapstructure:"rpc"`
		KeypairPath          string `mapstructure:"keypair"`
		Domain               uint32 `mapstructure:"domain"`
		MessageTransmitter   string `mapstructure:"messageTransmitter"`
		TokenMessengerMinter string `mapstructure:"tokenMessengerMinter"`
		USDCMint             string `mapstructure:"usdcMint"`
		ExplorerBaseURL      string `mapstructure:"explorer"`
	} `mapstructure:"destination"`

	Attestation struct {
		BaseURL      string        `mapstructure:"baseUrl"`
		PollInterval time.Duration `mapstructure:"pollInterval"`
		MaxAttempts  uint64        `mapstructure:"maxAttempts"`
		TrackingURL  string        `mapstructure:"trackingUrl"`
	} `mapstructure:"attestation"`

	Burn struct {
		MaxFee               uint32 `mapstructure:"maxFee"`
		MinFinalityThreshold uint32 `mapstructure:"minFinalityThreshold"`
	} `mapstructure:"burn"`

	DBPath string `mapstructure:"db"`
}

// Context is the validated, parsed form of Config that components consume.
type Context struct {
	SourceKind     ChainKind
	SourceRPC      string
	SourceChainID  int64
	SourceKey      *SigningKey
	SourceDomain   Domain
	USDC           ethCommon.Address
	TokenMessenger ethCommon.Address
	Vault          ethCommon.Address
	Endpoint       ethCommon.Address
	SourceExplorer string

	DestinationKind      ChainKind
	DestinationRPC       string
	KeypairPath          string
	DestDomain           Domain
	MessageTransmitter   solana.PublicKey
	TokenMessengerMinter solana.PublicKey
	USDCMint             solana.PublicKey
	DestExplorer         string

	AttestationBaseURL  string
	AttestationTracking string
	PollInterval        time.Duration
	PollMaxAttempts     uint64

	MaxFee               uint32
	MinFinalityThreshold uint32

	DBPath string
}

// SigningKey wraps the source-chain key so the hex never travels past load.
type SigningKey struct {
	Hex string
}

// NewContext validates cfg and parses every address once. All malformed
// configuration fails here, before any chain call.
func NewContext(cfg *Config) (*Context, error) {
	srcKind, err := ChainKindFromString(cfg.Source.Kind)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if srcKind != ChainKindEVM {
		return nil, fmt.Errorf("source: corridor only supports an EVM source, got %s", srcKind)
	}
	dstKind, err := ChainKindFromString(cfg.Destination.Kind)
	if err != nil {
		return nil, fmt.Errorf("destination: %w", err)
	}
	if dstKind != ChainKindSolana {
		return nil, fmt.Errorf("destination: corridor only supports a Solana destination, got %s", dstKind)
	}

	if cfg.Source.RPC == "" {
		return nil, fmt.Errorf("source: missing rpc endpoint")
	}
	if cfg.Destination.RPC == "" {
		return nil, fmt.Errorf("destination: missing rpc endpoint")
	}
	if cfg.Attestation.BaseURL == "" {
		return nil, fmt.Errorf("attestation: missing base url")
	}

	ctx := &Context{
		SourceKind:      srcKind,
		SourceRPC:       cfg.Source.RPC,
		SourceChainID:   cfg.Source.ChainID,
		SourceDomain:    Domain(cfg.Source.Domain),
		SourceExplorer:  cfg.Source.ExplorerBaseURL,
		DestinationKind: dstKind,
		DestinationRPC:  cfg.Destination.RPC,
		KeypairPath:     cfg.Destination.KeypairPath,
		DestDomain:      Domain(cfg.Destination.Domain),
		DestExplorer:    cfg.Destination.ExplorerBaseURL,

		AttestationBaseURL:  cfg.Attestation.BaseURL,
		AttestationTracking: cfg.Attestation.TrackingURL,
		PollInterval:        cfg.Attestation.PollInterval,
		PollMaxAttempts:     cfg.Attestation.MaxAttempts,

		MaxFee:               cfg.Burn.MaxFee,
		MinFinalityThreshold: cfg.Burn.MinFinalityThreshold,
		DBPath:               cfg.DBPath,
	}

	if ctx.PollInterval == 0 {
		ctx.PollInterval = 5 * time.Second
	}
	if ctx.PollMaxAttempts == 0 {
		ctx.PollMaxAttempts = 40
	}

	for name, pair := range map[string]struct {
		in  string
		out *ethCommon.Address
	}{
		"source.usdc":           {cfg.Source.USDC, &ctx.USDC},
		"source.tokenMessenger": {cfg.Source.TokenMessenger, &ctx.TokenMessenger},
		"source.vault":          {cfg.Source.Vault, &ctx.Vault},
		"source.endpoint":       {cfg.Source.Endpoint, &ctx.Endpoint},
	} {
		if !ethCommon.IsHexAddress(pair.in) {
			return nil, fmt.Errorf("%s: %q is not a hex address", name, pair.in)
		}
		*pair.out = ethCommon.HexToAddress(pair.in)
	}

	if cfg.Source.PrivateKey != "" {
		if _, err := ethCrypto.HexToECDSA(cfg.Source.PrivateKey); err != nil {
			return nil, fmt.Errorf("source.privateKey: %w", err)
		}
		ctx.SourceKey = &SigningKey{Hex: cfg.Source.PrivateKey}
	}

	for name, pair := range map[string]struct {
		in  string
		out *solana.PublicKey
	}{
		"destination.messageTransmitter":   {cfg.Destination.MessageTransmitter, &ctx.MessageTransmitter},
		"destination.tokenMessengerMinter": {cfg.Destination.TokenMessengerMinter, &ctx.TokenMessengerMinter},
		"destination.usdcMint":             {cfg.Destination.USDCMint, &ctx.USDCMint},
	} {
		pk, err := solana.PublicKeyFromBase58(pair.in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		*pair.out = pk
	}

	return ctx, nil
}
