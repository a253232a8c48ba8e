package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

// WriteError maps domain errors to status codes. Anything unrecognised is a
// 500 and is logged.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		campaignNotFound *appErrors.ErrCampaignNotFound
		companyNotFound  *appErrors.ErrCompanyNotFound
		busy             *appErrors.ErrCompanyBusy
		notEligible      *appErrors.ErrCompanyNotEligible
		quotaErr         *appErrors.ErrQuotaExceeded
		invalid          *appErrors.ErrInvalidInput
	)
	switch {
	case errors.As(err, &campaignNotFound), errors.As(err, &companyNotFound):
		WriteJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.As(err, &busy), errors.As(err, &notEligible):
		WriteJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.As(err, &quotaErr):
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":          err.Error(),
			"tier":           quotaErr.Tier,
			"dailyUsed":      quotaErr.Used,
			"dailyLimit":     quotaErr.Limit,
			"dailyRemaining": quotaErr.Remaining,
		})
	case errors.As(err, &invalid):
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error(), "field": invalid.Field})
	default:
		zap.L().Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

// BadRequest reports a malformed request.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}
