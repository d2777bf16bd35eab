// Package ingest provides the adapters healthsync uses to pull samples from
// configured sources: HTTP APIs (bearer or OAuth2 client credentials) and
// exported files.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/healthsync"
)

// SamplesResponse is the body returned by GET {base}/samples.
type SamplesResponse struct {
	Samples []healthsync.Sample `json:"samples"`
}

// CountResponse is the body returned by GET {base}/samples/count.
type CountResponse struct {
	Count int `json:"count"`
}

// HTTPAdapter fetches samples from a source's HTTP API. It implements
// healthsync.Adapter and healthsync.Estimator and is safe for concurrent use.
type HTTPAdapter struct {
	sourceID   string
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPAdapter creates an adapter for the API at baseURL. token is sent as a
// bearer token when non-empty.
func NewHTTPAdapter(sourceID, baseURL, token string) *HTTPAdapter {
	return &HTTPAdapter{
		sourceID: sourceID,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		token:    token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// WithHTTPClient sets a custom http.Client (OAuth2 transports, tests).
func (a *HTTPAdapter) WithHTTPClient(client *http.Client) *HTTPAdapter {
	a.httpClient = client
	return a
}

// SourceID returns the source this adapter serves.
func (a *HTTPAdapter) SourceID() string {
	return a.sourceID
}

// FetchSamples returns samples for category captured after since.
func (a *HTTPAdapter) FetchSamples(ctx context.Context, category healthsync.Category, since time.Time) ([]healthsync.Sample, error) {
	var resp SamplesResponse
	if err := a.get(ctx, "/samples", category, since, &resp); err != nil {
		return nil, err
	}
	return resp.Samples, nil
}

// EstimateSamples asks the source how many samples a fetch would return.
func (a *HTTPAdapter) EstimateSamples(ctx context.Context, category healthsync.Category, since time.Time) (int, error) {
	var resp CountResponse
	if err := a.get(ctx, "/samples/count", category, since, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (a *HTTPAdapter) get(ctx context.Context, path string, category healthsync.Category, since time.Time, out any) error {
	q := url.Values{}
	q.Set("category", string(category))
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return a.fail(healthsync.AdapterUnreachable, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "healthsync/1.0")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return a.fail(healthsync.AdapterTimeout, 0, err)
		}
		return a.fail(healthsync.AdapterUnreachable, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return a.fail(kindForStatus(resp.StatusCode), resp.StatusCode, httpError(resp, body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return a.fail(healthsync.AdapterMalformed, resp.StatusCode, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func (a *HTTPAdapter) fail(kind healthsync.AdapterErrorKind, status int, err error) *healthsync.AdapterError {
	return &healthsync.AdapterError{SourceID: a.sourceID, Kind: kind, StatusCode: status, Err: err}
}

// kindForStatus maps a non-200 HTTP status to an adapter error kind.
func kindForStatus(status int) healthsync.AdapterErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return healthsync.AdapterUnauthorized
	case status == http.StatusTooManyRequests:
		return healthsync.AdapterRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return healthsync.AdapterTimeout
	case status >= 500:
		return healthsync.AdapterUnreachable
	default:
		return healthsync.AdapterMalformed
	}
}

func httpError(resp *http.Response, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			msg = strings.TrimSpace(fmt.Sprintf("%s (retry after %ds)", msg, secs))
		}
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, msg)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
