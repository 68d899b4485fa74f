package attest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/solyield/corridor/pkg/corridor"
	"github.com/solyield/corridor/pkg/retry"
)

const completeV2 = `{"messages":[{
	"message":"0xdeadbeef",
	"attestation":"0xfeedface",
	"status":"complete",
	"eventNonce":"0x0000000000000000000000000000000000000000000000000000000000000007",
	"cctpVersion":"2"
}]}`

func testClient(t *testing.T, url string, attempts uint64) *Client {
	t.Helper()
	return NewClient(url, retry.Policy{MaxAttempts: attempts, Interval: time.Millisecond}, zaptest.NewLogger(t))
}

func TestAwaitEventuallyComplete(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/messages/6", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("transactionHash"))
		switch calls.Add(1) {
		case 1:
			http.NotFound(w, r)
		case 2:
			fmt.Fprint(w, `{"messages":[{"status":"pending_confirmations"}]}`)
		default:
			fmt.Fprint(w, completeV2)
		}
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 10)
	att, err := c.Await(context.Background(), corridor.DomainBase, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, att.Message)
	assert.Equal(t, []byte{0xfe, 0xed, 0xfa, 0xce}, att.Attestation)
	assert.Equal(t, corridor.NonceFromUint64(7), att.EventNonce)
	assert.EqualValues(t, 3, calls.Load())
}

func TestAwaitTimesOutAndIsRepollable(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 40 {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, completeV2)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 40)
	_, err := c.Await(context.Background(), corridor.DomainBase, "0xabc")
	assert.ErrorIs(t, err, ErrAttestationTimeout)
	assert.EqualValues(t, 40, calls.Load())

	// A fresh Await against the same tx hash succeeds once the service
	// catches up.
	att, err := c.Await(context.Background(), corridor.DomainBase, "0xabc")
	require.NoError(t, err)
	assert.NotEmpty(t, att.Message)
}

func TestFetchV1Shape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"attestation":"0x0102","message":"0x0304","status":"complete"}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1)
	att, err := c.Fetch(context.Background(), corridor.DomainBase, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x04}, att.Message)
	assert.Equal(t, []byte{0x01, 0x02}, att.Attestation)
}

func TestFetchPendingStatuses(t *testing.T) {
	for _, body := range []string{
		`{"messages":[{"status":"pending_confirmations"}]}`,
		`{"status":"pending"}`,
		`{}`,
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		c := testClient(t, srv.URL, 1)
		_, err := c.Fetch(context.Background(), corridor.DomainBase, "0xabc")
		assert.ErrorIs(t, err, ErrAttestationPending, "body %s", body)
		srv.Close()
	}
}

func TestFetchCompleteButEmptyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"messages":[{"status":"complete","message":"","attestation":""}]}`)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, 1)
	_, err := c.Fetch(context.Background(), corridor.DomainBase, "0xabc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAttestationPending)
}

func TestParseEventNonceDecimal(t *testing.T) {
	n, err := parseEventNonce("12345")
	require.NoError(t, err)
	assert.Equal(t, corridor.NonceFromUint64(12345), n)

	_, err = parseEventNonce("not-a-nonce")
	assert.Error(t, err)
}
