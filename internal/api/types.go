package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"walkforward-lab/internal/domain"
)

// Request defaults applied by CreateRunRequest.Bind.
const (
	DefaultWalkForwardDays     = 252
	DefaultRetrainFrequency    = "weekly"
	DefaultFeaturesMode        = domain.FeatureSetDefault16
	DefaultConfidenceThreshold = 0.5
)

// CreateRunRequest is the body of POST /api/v1/runs.
type CreateRunRequest struct {
	Symbols             []string `json:"symbols" validate:"required,min=1,dive,required,max=16"`
	TestStart           string   `json:"test_start" validate:"required,datetime=2006-01-02"`
	WalkForwardDays     *int     `json:"walk_forward_days" validate:"omitempty,min=1,max=5000"`
	RetrainFrequency    string   `json:"retrain_frequency" validate:"oneof=daily weekly monthly quarterly"`
	FeaturesMode        string   `json:"features_mode" validate:"oneof=essential_8 default_16 advanced"`
	ConfidenceThreshold *float64 `json:"confidence_threshold" validate:"omitempty,min=0,max=1"`
}

// Bind implements render.Binder. It normalizes symbols and fills defaults.
func (req *CreateRunRequest) Bind(_ *http.Request) error {
	for i, s := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if req.WalkForwardDays == nil {
		days := DefaultWalkForwardDays
		req.WalkForwardDays = &days
	}
	if req.RetrainFrequency == "" {
		req.RetrainFrequency = DefaultRetrainFrequency
	}
	req.RetrainFrequency = strings.ToLower(req.RetrainFrequency)
	if req.FeaturesMode == "" {
		req.FeaturesMode = DefaultFeaturesMode
	}
	if req.ConfidenceThreshold == nil {
		threshold := DefaultConfidenceThreshold
		req.ConfidenceThreshold = &threshold
	}
	return nil
}

// Config converts a bound and validated request into a run config.
func (req *CreateRunRequest) Config() (domain.RunConfig, error) {
	start, err := domain.ParseDay(req.TestStart)
	if err != nil {
		return domain.RunConfig{}, fmt.Errorf("invalid test_start: %w", err)
	}
	cadence, err := domain.ParseCadence(req.RetrainFrequency)
	if err != nil {
		return domain.RunConfig{}, err
	}
	return domain.RunConfig{
		Symbols:             append([]string(nil), req.Symbols...),
		TestStart:           start,
		HorizonDays:         *req.WalkForwardDays,
		Cadence:             cadence,
		FeatureSet:          req.FeaturesMode,
		ConfidenceThreshold: *req.ConfidenceThreshold,
	}, nil
}

// RunAccepted acknowledges submit, cancel and resume requests.
type RunAccepted struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

// RunStatusResponse is the polling view of a run.
type RunStatusResponse struct {
	RunID           string   `json:"run_id"`
	Status          string   `json:"status"`
	ProgressPct     float64  `json:"progress_pct"`
	CurrentDay      int      `json:"current_day"`
	Attempt         int      `json:"attempt"`
	OverallAccuracy *float64 `json:"overall_accuracy,omitempty"`
	TotalReturn     *float64 `json:"total_return,omitempty"`
	ErrorMessage    string   `json:"error_message,omitempty"`
}

func newRunStatusResponse(v domain.RunStatusView) RunStatusResponse {
	return RunStatusResponse{
		RunID:           v.RunID,
		Status:          string(v.Status),
		ProgressPct:     v.ProgressPct,
		CurrentDay:      v.CurrentDay,
		Attempt:         v.Attempt,
		OverallAccuracy: v.OverallAccuracy,
		TotalReturn:     v.TotalReturn,
		ErrorMessage:    v.ErrorMessage,
	}
}

// RunSummary is one entry of GET /api/v1/runs.
type RunSummary struct {
	RunStatusResponse
	Symbols             []string         `json:"symbols"`
	TestStart           string           `json:"test_start"`
	WalkForwardDays     int              `json:"walk_forward_days"`
	RetrainFrequency    string           `json:"retrain_frequency"`
	FeaturesMode        string           `json:"features_mode"`
	ConfidenceThreshold float64          `json:"confidence_threshold"`
	CreatedAt           time.Time        `json:"created_at"`
	StartedAt           *time.Time       `json:"started_at,omitempty"`
	CompletedAt         *time.Time       `json:"completed_at,omitempty"`
	Metrics             *MetricsResponse `json:"metrics,omitempty"`
}

// MetricsResponse is the aggregated outcome of a completed run.
type MetricsResponse struct {
	OverallAccuracy        float64        `json:"overall_accuracy"`
	UpAccuracy             float64        `json:"up_accuracy"`
	DownAccuracy           float64        `json:"down_accuracy"`
	HighConfidenceAccuracy float64        `json:"high_confidence_accuracy"`
	TotalReturn            float64        `json:"total_return"`
	FinalEquity            float64        `json:"final_equity"`
	MaxDrawdown            float64        `json:"max_drawdown"`
	TotalPredictions       int            `json:"total_predictions"`
	CorrectPredictions     int            `json:"correct_predictions"`
	SymbolPredictions      map[string]int `json:"symbol_predictions,omitempty"`
}

// NewRunSummary converts a run into its list entry form.
func NewRunSummary(run *domain.Run) RunSummary {
	s := RunSummary{
		RunStatusResponse:   newRunStatusResponse(run.StatusView()),
		Symbols:             run.Config.Symbols,
		TestStart:           run.Config.TestStart.Format(domain.DateLayout),
		WalkForwardDays:     run.Config.HorizonDays,
		RetrainFrequency:    run.Config.Cadence.String(),
		FeaturesMode:        run.Config.FeatureSet,
		ConfidenceThreshold: run.Config.ConfidenceThreshold,
		CreatedAt:           run.CreatedAt,
		StartedAt:           run.StartedAt,
		CompletedAt:         run.CompletedAt,
	}
	if m := run.Metrics; m != nil {
		s.Metrics = &MetricsResponse{
			OverallAccuracy:        m.OverallAccuracy,
			UpAccuracy:             m.UpAccuracy,
			DownAccuracy:           m.DownAccuracy,
			HighConfidenceAccuracy: m.HighConfidenceAccuracy,
			TotalReturn:            m.TotalReturn,
			FinalEquity:            m.FinalEquity,
			MaxDrawdown:            m.MaxDrawdown,
			TotalPredictions:       m.TotalPredictions,
			CorrectPredictions:     m.CorrectPredictions,
			SymbolPredictions:      m.SymbolPredictions,
		}
	}
	return s
}

// PredictionResponse is one stored prediction.
type PredictionResponse struct {
	Symbol             string  `json:"symbol"`
	PredictionDate     string  `json:"prediction_date"`
	ObservedClose      float64 `json:"observed_close"`
	NextClose          float64 `json:"next_close"`
	PredictedDirection string  `json:"predicted_direction"`
	ProbabilityUp      float64 `json:"probability_up"`
	Confidence         float64 `json:"confidence"`
	ActualDirection    string  `json:"actual_direction"`
	IsCorrect          bool    `json:"is_correct"`
	DayReturn          float64 `json:"day_return"`
	CumulativeReturn   float64 `json:"cumulative_return"`
	ModelHandle        string  `json:"model_handle"`
}

func newPredictionResponse(r *domain.PredictionRecord) PredictionResponse {
	return PredictionResponse{
		Symbol:             r.Symbol,
		PredictionDate:     r.PredictionDate.Format(domain.DateLayout),
		ObservedClose:      r.ObservedClose,
		NextClose:          r.NextClose,
		PredictedDirection: string(r.PredictedDirection),
		ProbabilityUp:      r.ProbabilityUp,
		Confidence:         r.Confidence,
		ActualDirection:    string(r.ActualDirection),
		IsCorrect:          r.IsCorrect,
		DayReturn:          r.DayReturn,
		CumulativeReturn:   r.CumulativeReturn,
		ModelHandle:        r.ModelHandle,
	}
}

// EquityPointResponse is one equity curve point.
type EquityPointResponse struct {
	TradeDate        string  `json:"trade_date"`
	DayNumber        int     `json:"day_number"`
	EquityValue      float64 `json:"equity_value"`
	DayReturn        float64 `json:"day_return"`
	CumulativeReturn float64 `json:"cumulative_return"`
	RollingAccuracy  float64 `json:"rolling_accuracy"`
	TradeCount       int     `json:"trade_count"`
}

func newEquityPointResponse(p *domain.EquityCurvePoint) EquityPointResponse {
	return EquityPointResponse{
		TradeDate:        p.TradeDate.Format(domain.DateLayout),
		DayNumber:        p.DayNumber,
		EquityValue:      p.EquityValue,
		DayReturn:        p.DayReturn,
		CumulativeReturn: p.CumulativeReturn,
		RollingAccuracy:  p.RollingAccuracy,
		TradeCount:       p.TradeCount,
	}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
