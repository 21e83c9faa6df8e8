// ABOUTME: HTTP client issuing sub-queries against provider endpoints.
// ABOUTME: Retries on 429 with context-aware backoff; decodes provider item lists.

package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/nlweb/nlweb-gateway/internal/registry"
	"github.com/nlweb/nlweb-gateway/internal/schema"
)

// RetryBaseDelay controls the base duration for exponential backoff on
// HTTP 429 responses. Tests override this to avoid real sleeps.
var RetryBaseDelay = 250 * time.Millisecond

const defaultMaxRetries = 3

// maxResponseBytes caps how much of a provider response body is read.
const maxResponseBytes = 4 << 20

// subQuery is the wire request a provider endpoint receives.
type subQuery struct {
	Version       string            `json:"version"`
	Query         string            `json:"query"`
	Constraints   map[string]string `json:"constraints,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
}

// subResponse is the wire response a provider endpoint returns. A provider
// that could only produce a truncated item set signals it via partial.
type subResponse struct {
	Items   []schema.ResultItem `json:"items"`
	Partial bool                `json:"partial,omitempty"`
}

// Client queries provider endpoints over HTTP.
type Client struct {
	http       *http.Client
	maxRetries int
	logger     *slog.Logger
}

// New creates a provider client. The http.Client carries no timeout of its
// own; per-call deadlines come from the dispatcher's contexts.
func New(logger *slog.Logger) *Client {
	return &Client{
		http:       &http.Client{},
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
}

// Query POSTs the sub-query to the provider endpoint and decodes its item
// list. Every returned item is stamped with the source provider id. A
// non-2xx status or malformed body is a connection-level error; context
// expiry surfaces as the context's error for the dispatcher to classify.
func (c *Client) Query(ctx context.Context, p registry.Provider, req *schema.AskRequest) ([]schema.ResultItem, bool, error) {
	body, err := json.Marshal(subQuery{
		Version:       schema.ProtocolVersion,
		Query:         req.Query,
		Constraints:   req.Constraints,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("encoding sub-query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("building request for %s: %w", p.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.doWithRetry(ctx, httpReq, body)
	if err != nil {
		return nil, false, unwrapCtxErr(ctx, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("provider %s returned status %d", p.ID, resp.StatusCode)
	}

	var sub subResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&sub); err != nil {
		return nil, false, fmt.Errorf("decoding response from %s: %w", p.ID, err)
	}

	for i := range sub.Items {
		sub.Items[i].SourceProvider = p.ID
	}
	return sub.Items, sub.Partial, nil
}

// doWithRetry executes the request and retries on HTTP 429 with
// exponential backoff: base, 2x, 4x. The body is re-attached on each
// attempt. If the context expires during a backoff wait, ctx.Err() is
// returned. After exhausting retries the last 429 response is returned so
// the caller reports the status.
func (c *Client) doWithRetry(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		attemptReq.Body = io.NopCloser(bytes.NewReader(body))

		resp, err := c.http.Do(attemptReq)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusTooManyRequests || attempt >= c.maxRetries {
			return resp, nil
		}

		// Drain and close the body before retrying.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		backoff := time.Duration(math.Pow(2, float64(attempt))) * RetryBaseDelay
		c.logger.Debug("provider rate limited, retrying",
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// unwrapCtxErr surfaces the context's own error when the transport failure
// was caused by deadline expiry or cancellation, so callers can classify
// timeouts with errors.Is.
func unwrapCtxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
