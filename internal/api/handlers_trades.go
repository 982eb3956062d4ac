package api

import (
	"net/http"
	"time"

	apperrors "github.com/fund-analytics/internal/errors"
	"github.com/fund-analytics/internal/models"
	"github.com/fund-analytics/internal/service"
	"github.com/fund-analytics/internal/types"
	"github.com/shopspring/decimal"
)

type tradeRequest struct {
	HoldingID    int64              `json:"holdingId"`
	HoldingCode  string             `json:"holdingCode"`
	Type         types.TradeType    `json:"type"`
	DividendKind types.DividendKind `json:"dividendKind"`
	Date         string             `json:"date"`
	NavPerUnit   decimal.Decimal    `json:"navPerUnit"`
	Shares       decimal.Decimal    `json:"shares"`
	Amount       decimal.Decimal    `json:"amount"`
	Fee          decimal.Decimal    `json:"fee"`
	CashAmount   decimal.Decimal    `json:"cashAmount"`
}

type tradeUpdateRequest struct {
	Date       *string          `json:"date"`
	NavPerUnit *decimal.Decimal `json:"navPerUnit"`
	Shares     *decimal.Decimal `json:"shares"`
	Amount     *decimal.Decimal `json:"amount"`
	Fee        *decimal.Decimal `json:"fee"`
	CashAmount *decimal.Decimal `json:"cashAmount"`
}

func parseDayField(field, raw string) (time.Time, error) {
	d, err := types.ParseDay(raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError(field, "must be YYYY-MM-DD")
	}
	return d, nil
}

// handleRecordTrade handles POST /api/v1/users/{user_id}/trades
func (s *Server) handleRecordTrade(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req tradeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	day, err := parseDayField("date", req.Date)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	trade := &models.Trade{
		UserID:       userID,
		HoldingID:    req.HoldingID,
		Type:         req.Type,
		DividendKind: req.DividendKind,
		Date:         day,
		NavPerUnit:   req.NavPerUnit,
		Shares:       req.Shares,
		Amount:       req.Amount,
		Fee:          req.Fee,
		CashAmount:   req.CashAmount,
	}
	holding := &models.Holding{ID: req.HoldingID, Code: req.HoldingCode}

	recorded, err := s.services.Trades.Record(r.Context(), holding, trade)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, recorded)
}

// handleEditTrade handles PATCH /api/v1/users/{user_id}/trades/{trade_id}
func (s *Server) handleEditTrade(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	tradeID, err := pathInt64(r, "trade_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	var req tradeUpdateRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	update := service.TradeUpdate{
		NavPerUnit: req.NavPerUnit,
		Shares:     req.Shares,
		Amount:     req.Amount,
		Fee:        req.Fee,
		CashAmount: req.CashAmount,
	}
	if req.Date != nil {
		day, err := parseDayField("date", *req.Date)
		if err != nil {
			respondServiceError(w, r, err)
			return
		}
		update.Date = &day
	}

	trade, err := s.services.Trades.Edit(r.Context(), userID, tradeID, update)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, trade)
}

// handleDeleteTrade handles DELETE /api/v1/users/{user_id}/trades/{trade_id}
func (s *Server) handleDeleteTrade(w http.ResponseWriter, r *http.Request) {
	userID, err := pathInt64(r, "user_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	tradeID, err := pathInt64(r, "trade_id")
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	if err := s.services.Trades.Delete(r.Context(), userID, tradeID); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
