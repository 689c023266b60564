// Package audit is C11: the HTTP client that commits diff rules and
// snapshot payloads to the external audit/commit service. Retry policy
// mirrors rpc.Helper's bounded exponential backoff (same
// github.com/cenkalti/backoff/v4 construction) applied to network-level
// failures only; a 2xx response whose JSON body carries a top-level
// "message" field is an application-level rejection (spec §4.11/§7's
// AuditReject) and is surfaced without retry.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"

	"github.com/pairsnap/reserve-indexer/types"
)

// Client posts diff rules and snapshot payloads to the audit service.
type Client struct {
	baseURL string
	http    *http.Client
	log     log.Logger

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New builds a Client with one pooled *http.Client per worker process
// (spec §5's shared-resource policy), timing out per the configured
// connection-init/archival HTTP timeouts.
func New(baseURL string, connTimeout, reqTimeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: reqTimeout,
			Transport: &http.Transport{
				DialContext: (&dialer{timeout: connTimeout}).dialContext,
			},
		},
		log:         log.New("component", "audit"),
		maxAttempts: 3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    2 * time.Second,
	}
}

// dialer exists only so the connection-init timeout from spec §6's
// HTTPTimeouts configuration surface reaches the transport's DialContext.
type dialer struct {
	timeout time.Duration
}

func (d *dialer) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	dl := net.Dialer{Timeout: d.timeout}
	return dl.DialContext(ctx, network, addr)
}

func (c *Client) backoffPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxInterval = c.maxDelay
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(c.maxAttempts-1))
}

// SetDiffRule posts the diff-rule stream descriptor for pair.
func (c *Client) SetDiffRule(ctx context.Context, pair, stream string, rule interface{}) error {
	path := fmt.Sprintf("/%s/%s/diffRules", pair, stream)
	return c.post(ctx, path, rule)
}

// CommitPayload posts a built snapshot (ReservesSnapshot or
// TradeVolumeSnapshot) for pair/stream.
func (c *Client) CommitPayload(ctx context.Context, pair, stream string, payload interface{}) error {
	path := fmt.Sprintf("/%s/%s/payload", pair, stream)
	return c.post(ctx, path, payload)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return types.NewValidation("marshal audit payload", err)
	}

	var rejectErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(types.NewValidation("build audit request", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return types.NewTransport("audit post "+path, err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return types.NewTransport("read audit response "+path, err)
		}

		if msg, ok := messageField(respBody); ok {
			rejectErr = types.NewAuditReject(msg)
			return backoff.Permanent(rejectErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return types.NewTransport(fmt.Sprintf("audit post %s: status %d", path, resp.StatusCode), nil)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.backoffPolicy(), ctx)); err != nil {
		if rejectErr != nil {
			return rejectErr
		}
		return err
	}
	return nil
}

// messageField reports whether body decodes as a JSON object carrying a
// top-level "message" key — spec §4.11/§6's signal for an
// application-level (non-retryable) rejection.
func messageField(body []byte) (string, bool) {
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", false
	}
	msg, ok := decoded["message"]
	if !ok {
		return "", false
	}
	s, _ := msg.(string)
	return s, true
}
