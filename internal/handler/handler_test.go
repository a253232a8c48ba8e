package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/service"
)

func TestCallerFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/campaigns/usage", nil)
	r.Header.Set(HeaderCallerID, "user-1")
	r.Header.Set(HeaderTier, "Premium")
	assert.Equal(t, service.Caller{ID: "user-1", Tier: "Premium"}, CallerFrom(r))

	r = httptest.NewRequest(http.MethodGet, "/campaigns/usage?session_id=abc", nil)
	r.Header.Set(HeaderTier, "enterprise")
	assert.Equal(t, service.Caller{ID: "guest:abc", Tier: "guest"}, CallerFrom(r), "guests cannot claim a tier")

	r = httptest.NewRequest(http.MethodGet, "/campaigns/usage", nil)
	r.Header.Set(HeaderSession, "s-9")
	assert.Equal(t, "guest:s-9", CallerFrom(r).ID)

	r = httptest.NewRequest(http.MethodGet, "/campaigns/usage", nil)
	r.RemoteAddr = "203.0.113.7:5555"
	assert.Equal(t, "guest:203.0.113.7", CallerFrom(r).ID)
}

func TestWriteError_StatusCodes(t *testing.T) {
	for _, tc := range []struct {
		err  error
		code int
	}{
		{appErrors.NewCampaignNotFound(1), http.StatusNotFound},
		{appErrors.NewCompanyNotFound(2), http.StatusNotFound},
		{appErrors.NewCompanyBusy(2), http.StatusConflict},
		{appErrors.NewCompanyNotEligible(2, "completed"), http.StatusConflict},
		{appErrors.NewQuotaExceeded("free", 50, 50), http.StatusTooManyRequests},
		{appErrors.NewInvalidInput("status", "unknown"), http.StatusBadRequest},
		{errors.New("disk full"), http.StatusInternalServerError},
	} {
		w := httptest.NewRecorder()
		WriteError(w, httptest.NewRequest(http.MethodPost, "/x", nil), tc.err)
		assert.Equal(t, tc.code, w.Code, tc.err.Error())
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	}
}

func TestWriteError_QuotaBody(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodPost, "/x", nil), appErrors.NewQuotaExceeded("guest", 5, 5))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 5, body["dailyUsed"])
	assert.EqualValues(t, 5, body["dailyLimit"])
	assert.EqualValues(t, 0, body["dailyRemaining"])
	assert.Equal(t, "guest", body["tier"])
}

func TestWriteError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, httptest.NewRequest(http.MethodPost, "/x", nil), errors.New("pq: password authentication failed"))
	assert.NotContains(t, w.Body.String(), "password")
}
