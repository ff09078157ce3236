package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/poweredbydonation/pbd_backend/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const maxErrorBody = 512

// httpClient is the shared JSON-over-HTTP plumbing behind every adapter.
type httpClient struct {
	platform models.Platform
	baseURL  string
	headers  map[string]string
	http     *http.Client
	limiter  *rate.Limiter
}

func newHTTPClient(platform models.Platform, baseURL string, timeout time.Duration, ratePerMin int, hc *http.Client) *httpClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMin)), 1)
	}
	return &httpClient{
		platform: platform,
		baseURL:  strings.TrimRight(baseURL, "/"),
		headers:  map[string]string{},
		http:     hc,
		limiter:  limiter,
	}
}

// getJSON decodes a 2xx body into dest. 404 yields ErrNotFound; anything
// else that is not 2xx, plus network and decode failures, is a *TransportError.
func (c *httpClient) getJSON(ctx context.Context, op string, path string, params url.Values, dest interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Platform: c.platform, Op: op, Err: err}
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Platform: c.platform, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Platform: c.platform, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Platform: c.platform, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return body, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, &TransportError{
			Platform:   c.platform,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), maxErrorBody),
		}
	}
	if dest != nil && len(body) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return body, &TransportError{Platform: c.platform, Op: op, StatusCode: resp.StatusCode, Err: err}
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// formatAmount drops the fraction for whole amounts (150, not 150.00).
func formatAmount(amount decimal.Decimal) string {
	if amount.Equal(amount.Truncate(0)) {
		return amount.StringFixed(0)
	}
	return amount.StringFixed(2)
}

// flexString accepts both JSON strings and numbers; processors are not
// consistent about id types between endpoints.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("expected string or number")
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

func validateURLInputs(organizationID string, amount decimal.Decimal, reference string) error {
	if strings.TrimSpace(organizationID) == "" {
		return errors.New("organization id is required")
	}
	if !amount.IsPositive() {
		return errors.New("amount must be greater than 0")
	}
	if !amount.Equal(amount.Truncate(2)) {
		return errors.New("amount must have at most 2 decimal places")
	}
	if strings.TrimSpace(reference) == "" {
		return errors.New("reference is required")
	}
	return nil
}
