package api

import (
	"net/http"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/service"
	"github.com/shopspring/decimal"
)

type navPointRequest struct {
	Date             string              `json:"date"`
	NavPerUnit       decimal.Decimal     `json:"navPerUnit"`
	AccumulatedNav   decimal.Decimal     `json:"accumulatedNav"`
	DailyReturn      decimal.NullDecimal `json:"dailyReturn"`
	DividendPerShare decimal.NullDecimal `json:"dividendPerShare"`
}

type benchmarkCloseRequest struct {
	Date  string          `json:"date"`
	Close decimal.Decimal `json:"close"`
}

type settingsRequest struct {
	RiskFreeRate decimal.Decimal `json:"riskFreeRate"`
	BenchmarkID  *int64          `json:"benchmarkId"`
}

// handleIngestNavs handles POST /api/v1/holdings/{holding_id}/navs
func (s *Server) handleIngestNavs(w http.ResponseWriter, r *http.Request) {
	holdingID, err := pathInt64(r, "holding_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req struct {
		Points []navPointRequest `json:"points"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	points := make([]*models.NavPoint, 0, len(req.Points))
	for _, p := range req.Points {
		day, err := parseDayField("date", p.Date)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		points = append(points, &models.NavPoint{
			HoldingID:        holdingID,
			Date:             day,
			NavPerUnit:       p.NavPerUnit,
			AccumulatedNav:   p.AccumulatedNav,
			DailyReturn:      p.DailyReturn,
			DividendPerShare: p.DividendPerShare,
		})
	}

	stored, err := s.services.Navs.Ingest(r.Context(), holdingID, points)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"holdingId": holdingID,
		"stored":    stored,
		"skipped":   len(points) - stored,
	})
}

// handleIngestBenchmark handles POST /api/v1/benchmarks/{benchmark_id}/closes
func (s *Server) handleIngestBenchmark(w http.ResponseWriter, r *http.Request) {
	benchmarkID, err := pathInt64(r, "benchmark_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req struct {
		Closes []benchmarkCloseRequest `json:"closes"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	closes := make([]service.BenchmarkClose, 0, len(req.Closes))
	for _, c := range req.Closes {
		day, err := parseDayField("date", c.Date)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		closes = append(closes, service.BenchmarkClose{Date: day, Close: c.Close})
	}

	stored, err := s.services.Benchmarks.Ingest(r.Context(), benchmarkID, closes)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"benchmarkId": benchmarkID,
		"stored":      stored,
	})
}

// handleGetSettings handles GET /api/v1/users/{user_id}/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	settings, err := s.services.Settings.Get(r.Context(), userID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}

// handlePutSettings handles PUT /api/v1/users/{user_id}/settings. Stored
// analytics keep their old values until the user is rebuilt.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req settingsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.RiskFreeRate.IsNegative() || req.RiskFreeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		respondServiceError(w, r, apperrors.NewValidationError("riskFreeRate", "must be in [0, 1)"))
		return
	}
	if req.BenchmarkID != nil && *req.BenchmarkID <= 0 {
		respondServiceError(w, r, apperrors.NewValidationError("benchmarkId", "must be positive"))
		return
	}

	settings := &models.UserSettings{
		UserID:       userID,
		RiskFreeRate: req.RiskFreeRate,
		BenchmarkID:  req.BenchmarkID,
	}
	if err := s.services.Settings.Upsert(r.Context(), settings); err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, settings)
}
