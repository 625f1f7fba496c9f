package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"walkforward-lab/internal/domain"
)

// rpcServer decodes each request and answers with handler's result.
func rpcServer(t *testing.T, handler func(req rpcRequest, params json.RawMessage) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw struct {
			rpcRequest
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, rpcErr := handler(raw.rpcRequest, raw.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": raw.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_TradingDates(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest, params json.RawMessage) (interface{}, *RPCError) {
		if req.Method != MethodTradingDates {
			t.Errorf("expected method %s, got %s", MethodTradingDates, req.Method)
		}
		var p tradingDatesParams
		json.Unmarshal(params, &p)
		if p.Symbol != "AAPL" || p.From != "2024-01-01" || p.Limit != 3 {
			t.Errorf("unexpected params: %+v", p)
		}
		return []string{"2024-01-02", "2024-01-03", "2024-01-04"}, nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	dates, err := client.TradingDates(context.Background(), "AAPL", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	if err != nil {
		t.Fatalf("TradingDates: %v", err)
	}
	if len(dates) != 3 {
		t.Fatalf("expected 3 dates, got %d", len(dates))
	}
	if dates[0].Format(domain.DateLayout) != "2024-01-02" {
		t.Errorf("unexpected first date %s", dates[0])
	}
}

func TestHTTPClient_Train(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest, params json.RawMessage) (interface{}, *RPCError) {
		var p trainParams
		json.Unmarshal(params, &p)
		if p.Cutoff != "2023-12-31" {
			t.Errorf("expected cutoff 2023-12-31, got %s", p.Cutoff)
		}
		if len(p.Features) != 2 || p.WindowDays != 365 {
			t.Errorf("unexpected params: %+v", p)
		}
		return map[string]string{"handle": "models.aapl_20231231"}, nil
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)
	handle, err := client.Train(context.Background(), TrainRequest{
		Symbol:     "AAPL",
		Cutoff:     time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		FeatureSet: "essential_8",
		Features:   []string{"rsi_14", "macd"},
		WindowDays: 365,
	})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if handle != "models.aapl_20231231" {
		t.Errorf("unexpected handle %q", handle)
	}
}

func TestHTTPClient_Train_EmptyHandle(t *testing.T) {
	server := rpcServer(t, func(rpcRequest, json.RawMessage) (interface{}, *RPCError) {
		return map[string]string{}, nil
	})
	defer server.Close()

	_, err := NewHTTPClient(server.URL).Train(context.Background(), TrainRequest{Symbol: "AAPL"})
	if err == nil {
		t.Fatal("expected error for empty handle")
	}
}

func TestHTTPClient_Predict(t *testing.T) {
	server := rpcServer(t, func(req rpcRequest, params json.RawMessage) (interface{}, *RPCError) {
		if req.Method != MethodPredict {
			t.Errorf("expected method %s, got %s", MethodPredict, req.Method)
		}
		return []map[string]interface{}{
			{
				"date": "2024-01-02", "observed_close": 100.0, "next_close": 101.0,
				"predicted_label": "up", "probabilities": map[string]float64{"up": 0.7, "down": 0.3},
			},
			{
				"date": "2024-01-03", "observed_close": 101.0, "next_close": nil,
				"predicted_label": "0", "probabilities": map[string]float64{"up": 0.4, "down": 0.6},
			},
		}, nil
	})
	defer server.Close()

	rows, err := NewHTTPClient(server.URL).Predict(context.Background(), PredictRequest{
		Handle: "h", Symbol: "AAPL",
		Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].NextClose == nil || *rows[0].NextClose != 101.0 {
		t.Errorf("expected next close 101, got %v", rows[0].NextClose)
	}
	if rows[0].PredictedLabel != domain.DirectionUp {
		t.Errorf("expected up, got %s", rows[0].PredictedLabel)
	}
	if rows[1].NextClose != nil {
		t.Errorf("expected nil next close, got %v", *rows[1].NextClose)
	}
	if rows[1].PredictedLabel != domain.DirectionDown {
		t.Errorf("expected down, got %s", rows[1].PredictedLabel)
	}
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := rpcServer(t, func(rpcRequest, json.RawMessage) (interface{}, *RPCError) {
		calls.Add(1)
		return nil, &RPCError{Code: -32000, Message: "no data before cutoff"}
	})
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.Train(context.Background(), TrainRequest{Symbol: "AAPL"})

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %v", err)
	}
	if rpcErr.Code != -32000 {
		t.Errorf("expected code -32000, got %d", rpcErr.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": map[string]string{"handle": "ok"},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(2*time.Millisecond))
	handle, err := client.Train(context.Background(), TrainRequest{Symbol: "AAPL"})
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if handle != "ok" {
		t.Errorf("unexpected handle %q", handle)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	_, err := client.TradingDates(context.Background(), "AAPL", time.Now(), 5)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls.Load())
	}
}

func TestHTTPClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	if _, err := client.Train(context.Background(), TrainRequest{Symbol: "AAPL"}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestHTTPClient_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.Train(ctx, TrainRequest{Symbol: "AAPL"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestHTTPClient_RateLimit(t *testing.T) {
	server := rpcServer(t, func(rpcRequest, json.RawMessage) (interface{}, *RPCError) {
		return []string{}, nil
	})
	defer server.Close()

	// 20 rps with burst 1: the third call waits at least ~100ms in total.
	client := NewHTTPClient(server.URL, WithRateLimit(20, 1))
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := client.TradingDates(context.Background(), "AAPL", time.Now(), 1); err != nil {
			t.Fatalf("TradingDates: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("expected rate limiting, calls took %s", elapsed)
	}
}

func TestParseLabel(t *testing.T) {
	tests := []struct {
		label   string
		pUp     float64
		want    domain.Direction
		wantErr bool
	}{
		{"up", 0.2, domain.DirectionUp, false},
		{"DOWN", 0.9, domain.DirectionDown, false},
		{"1", 0, domain.DirectionUp, false},
		{"", 0.6, domain.DirectionUp, false},
		{"", 0.4, domain.DirectionDown, false},
		{"sideways", 0.5, "", true},
	}
	for _, tt := range tests {
		got, err := parseLabel(tt.label, tt.pUp, 1-tt.pUp)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLabel(%q): err = %v", tt.label, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLabel(%q) = %s, want %s", tt.label, got, tt.want)
		}
	}
}
