// Package attest polls the bridge's off-chain attestation service until a
// burn becomes mintable. The service is external and variable-latency: a
// bounded poll that comes up empty is a retryable condition, not a failure
// of the transfer, and the same transaction hash can be polled again later.
package attest

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/retry"
)

var (
	// ErrAttestationPending is the single-poll "not yet" result.
	ErrAttestationPending = errors.New("attestation not yet available")
	// ErrAttestationTimeout is surfaced once the poll bound is spent. The
	// underlying transfer is unaffected; Await may be called again.
	ErrAttestationTimeout = errors.New("timed out waiting for attestation")
)

var (
	attestationPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corridor_attestation_polls_total",
			Help: "Total number of attestation service polls",
		}, []string{"result"})
	attestationTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "corridor_attestation_timeouts_total",
			Help: "Total number of exhausted attestation poll loops",
		})
)

const statusComplete = "complete"

// Client fetches attestations for one service endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
	logger     *zap.Logger
}

func NewClient(baseURL string, policy retry.Policy, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		policy:     policy,
		logger:     logger,
	}
}

// Fetch performs a single poll for the burn identified by txHash on the
// given source domain. Returns ErrAttestationPending until the service
// reports a complete (message, attestation) pair.
func (c *Client) Fetch(ctx context.Context, domain corridor.Domain, txHash string) (*corridor.Attestation, error) {
	url := fmt.Sprintf("%s/v2/messages/%d?transactionHash=%s", c.baseURL, domain, txHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build attestation request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		attestationPolls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("attestation request failed: %w", err)
	}
	defer resp.Body.Close()

	// The service answers 404 until it has observed the burn.
	if resp.StatusCode == http.StatusNotFound {
		attestationPolls.WithLabelValues("pending").Inc()
		return nil, ErrAttestationPending
	}
	if resp.StatusCode != http.StatusOK {
		attestationPolls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("attestation service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read attestation response: %w", err)
	}
	return c.parse(body)
}

// parse accepts both response generations: the v2 messages array and the
// bare v1 object. gjson keeps us tolerant of fields the service adds.
func (c *Client) parse(body []byte) (*corridor.Attestation, error) {
	root := gjson.ParseBytes(body)

	msg := root.Get("messages.0")
	if !msg.Exists() {
		msg = root
	}

	status := msg.Get("status").String()
	if status != statusComplete {
		attestationPolls.WithLabelValues("pending").Inc()
		return nil, ErrAttestationPending
	}

	message, err := decodeHexField(msg.Get("message").String())
	if err != nil {
		return nil, fmt.Errorf("bad message field: %w", err)
	}
	attestation, err := decodeHexField(msg.Get("attestation").String())
	if err != nil {
		return nil, fmt.Errorf("bad attestation field: %w", err)
	}
	if len(message) == 0 || len(attestation) == 0 {
		return nil, fmt.Errorf("attestation is complete but message or attestation is empty")
	}

	out := &corridor.Attestation{Message: message, Attestation: attestation}
	if nonce := msg.Get("eventNonce").String(); nonce != "" {
		out.EventNonce, err = parseEventNonce(nonce)
		if err != nil {
			return nil, err
		}
	}

	attestationPolls.WithLabelValues("complete").Inc()
	return out, nil
}

func decodeHexField(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// parseEventNonce accepts the hex form used by the v2 API and the decimal
// form older deployments return.
func parseEventNonce(s string) ([32]byte, error) {
	var out [32]byte
	if strings.HasPrefix(s, "0x") {
		raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil || len(raw) > 32 {
			return out, fmt.Errorf("bad eventNonce field %q", s)
		}
		copy(out[32-len(raw):], raw)
		return out, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return out, fmt.Errorf("bad eventNonce field %q", s)
	}
	return corridor.NonceFromUint64(n), nil
}

// Await polls Fetch under the client's bounded policy. Exhaustion maps to
// ErrAttestationTimeout; everything the service rejects outright stops the
// loop immediately.
func (c *Client) Await(ctx context.Context, domain corridor.Domain, txHash string) (*corridor.Attestation, error) {
	session := uuid.New().String()
	logger := c.logger.With(
		zap.String("session", session),
		zap.String("txHash", txHash),
		zap.Uint32("domain", uint32(domain)))

	logger.Info("waiting for attestation",
		zap.Uint64("maxAttempts", c.policy.MaxAttempts),
		zap.Duration("interval", c.policy.Interval))

	attempt := 0
	att, err := retry.Do(ctx, c.policy, func(ctx context.Context) (*corridor.Attestation, error) {
		attempt++
		a, err := c.Fetch(ctx, domain, txHash)
		if errors.Is(err, ErrAttestationPending) {
			logger.Debug("attestation still pending", zap.Int("attempt", attempt))
			return nil, err
		}
		if err != nil {
			// Service/transport errors are worth retrying too; the bound
			// still applies.
			logger.Warn("attestation poll failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, err
		}
		return a, nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			attestationTimeouts.Inc()
			return nil, fmt.Errorf("%w after %d attempts (tx %s)", ErrAttestationTimeout, attempt, txHash)
		}
		return nil, err
	}

	logger.Info("attestation complete",
		zap.Int("attempts", attempt),
		zap.Int("messageLen", len(att.Message)),
		zap.Int("attestationLen", len(att.Attestation)))
	return att, nil
}
