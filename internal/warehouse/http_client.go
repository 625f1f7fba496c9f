package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"walkforward-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// JSON-RPC method names.
const (
	MethodTradingDates = "calendar.tradingDates"
	MethodTrain        = "model.train"
	MethodPredict      = "model.predict"
)

// HTTPClient implements Calendar, Trainer and Predictor over HTTP JSON-RPC 2.0.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// Compile-time interface checks.
var (
	_ Calendar  = (*HTTPClient)(nil)
	_ Trainer   = (*HTTPClient)(nil)
	_ Predictor = (*HTTPClient)(nil)
)

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.maxDelay = d
	}
}

// WithRateLimit caps outgoing requests, retries included. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new warehouse JSON-RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an application error returned by the warehouse. It is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("warehouse rpc error %d: %s", e.Code, e.Message)
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *HTTPClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}
		if rpcResp.Error != nil {
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}

	return fmt.Errorf("%s: max retries exceeded: %w", method, lastErr)
}

type tradingDatesParams struct {
	Symbol string `json:"symbol"`
	From   string `json:"from"`
	Limit  int    `json:"limit"`
}

// TradingDates calls calendar.tradingDates.
func (c *HTTPClient) TradingDates(ctx context.Context, symbol string, from time.Time, limit int) ([]time.Time, error) {
	var raw []string
	params := tradingDatesParams{Symbol: symbol, From: from.Format(domain.DateLayout), Limit: limit}
	if err := c.call(ctx, MethodTradingDates, params, &raw); err != nil {
		return nil, err
	}

	dates := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		d, err := domain.ParseDay(s)
		if err != nil {
			return nil, fmt.Errorf("parse trading date %q: %w", s, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

type trainParams struct {
	Symbol     string   `json:"symbol"`
	Cutoff     string   `json:"cutoff"`
	FeatureSet string   `json:"feature_set"`
	Features   []string `json:"features"`
	WindowDays int      `json:"window_days,omitempty"`
}

type trainResult struct {
	Handle string `json:"handle"`
}

// Train calls model.train.
func (c *HTTPClient) Train(ctx context.Context, req TrainRequest) (string, error) {
	params := trainParams{
		Symbol:     req.Symbol,
		Cutoff:     req.Cutoff.Format(domain.DateLayout),
		FeatureSet: req.FeatureSet,
		Features:   req.Features,
		WindowDays: req.WindowDays,
	}

	var result trainResult
	if err := c.call(ctx, MethodTrain, params, &result); err != nil {
		return "", err
	}
	if result.Handle == "" {
		return "", fmt.Errorf("train %s: empty model handle", req.Symbol)
	}
	return result.Handle, nil
}

type predictParams struct {
	Handle   string   `json:"handle"`
	Symbol   string   `json:"symbol"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Features []string `json:"features"`
}

type predictRow struct {
	Date           string   `json:"date"`
	ObservedClose  float64  `json:"observed_close"`
	NextClose      *float64 `json:"next_close"`
	PredictedLabel string   `json:"predicted_label"`
	Probabilities  struct {
		Up   float64 `json:"up"`
		Down float64 `json:"down"`
	} `json:"probabilities"`
}

// Predict calls model.predict once for the whole range.
func (c *HTTPClient) Predict(ctx context.Context, req PredictRequest) ([]RawPrediction, error) {
	params := predictParams{
		Handle:   req.Handle,
		Symbol:   req.Symbol,
		Start:    req.Start.Format(domain.DateLayout),
		End:      req.End.Format(domain.DateLayout),
		Features: req.Features,
	}

	var rows []predictRow
	if err := c.call(ctx, MethodPredict, params, &rows); err != nil {
		return nil, err
	}

	out := make([]RawPrediction, 0, len(rows))
	for _, r := range rows {
		d, err := domain.ParseDay(r.Date)
		if err != nil {
			return nil, fmt.Errorf("parse prediction date %q: %w", r.Date, err)
		}
		label, err := parseLabel(r.PredictedLabel, r.Probabilities.Up, r.Probabilities.Down)
		if err != nil {
			return nil, err
		}
		out = append(out, RawPrediction{
			Date:            d,
			ObservedClose:   r.ObservedClose,
			NextClose:       r.NextClose,
			PredictedLabel:  label,
			ProbabilityUp:   r.Probabilities.Up,
			ProbabilityDown: r.Probabilities.Down,
		})
	}
	return out, nil
}

// parseLabel accepts up/down or 1/0. An empty label falls back to the larger probability.
func parseLabel(label string, pUp, pDown float64) (domain.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "up", "1":
		return domain.DirectionUp, nil
	case "down", "0":
		return domain.DirectionDown, nil
	case "":
		if pUp >= pDown {
			return domain.DirectionUp, nil
		}
		return domain.DirectionDown, nil
	default:
		return "", fmt.Errorf("unknown predicted label %q", label)
	}
}
