// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/outreach-engine/internal/handler"
	"github.com/unclebandit/outreach-engine/internal/monitor"
	"github.com/unclebandit/outreach-engine/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Monitor         *monitor.WSHandler
}

func intParam(r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	return id, err == nil && id > 0
}

// decodeOptional decodes a JSON body that may be absent.
func decodeOptional(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ProcessCompany runs one company synchronously.
func (c *CampaignController) ProcessCompany(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	companyID, ok := intParam(r, "companyID")
	if !ok {
		handler.BadRequest(w, "invalid company id")
		return
	}

	out, err := c.CampaignService.RunSingle(r.Context(), campaignID, companyID, handler.CallerFrom(r))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, out)
}

// ProcessBatch runs a batch and waits for it, or queues it with ?async=true.
func (c *CampaignController) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	var body service.BatchRequest
	if err := decodeOptional(r, &body); err != nil {
		handler.BadRequest(w, "invalid body")
		return
	}
	caller := handler.CallerFrom(r)

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		runID, err := c.CampaignService.EnqueueBatch(r.Context(), campaignID, body, caller)
		if err != nil {
			handler.WriteError(w, r, err)
			return
		}
		handler.WriteJSON(w, http.StatusAccepted, map[string]any{"runId": runID, "status": "queued"})
		return
	}

	result, err := c.CampaignService.RunBatch(r.Context(), campaignID, body, caller)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) Stop(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	stopped, err := c.CampaignService.Stop(r.Context(), campaignID)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"campaignId": campaignID, "stopped": stopped})
}

func (c *CampaignController) ResetStuck(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	var body struct {
		OlderThanMinutes int `json:"olderThanMinutes"`
	}
	if err := decodeOptional(r, &body); err != nil || body.OlderThanMinutes < 0 {
		handler.BadRequest(w, "invalid body")
		return
	}

	ids, err := c.CampaignService.ResetStuck(r.Context(), campaignID, time.Duration(body.OlderThanMinutes)*time.Minute)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"reset": len(ids), "companyIds": ids})
}

func (c *CampaignController) RetryFailed(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	result, err := c.CampaignService.RetryFailed(r.Context(), campaignID, handler.CallerFrom(r))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, result)
}

func (c *CampaignController) Usage(w http.ResponseWriter, r *http.Request) {
	usage, err := c.CampaignService.Usage(r.Context(), handler.CallerFrom(r))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, usage)
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	details, err := c.CampaignService.GetCampaignDetails(r.Context(), id)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, details)
}

// ListCompanies serves result polling for dashboards.
func (c *CampaignController) ListCompanies(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	companies, pagination, err := c.CampaignService.ListCompanies(r.Context(), id, page, pageSize, status)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       companies,
		"pagination": pagination,
	})
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	companyID, ok := intParam(r, "companyID")
	if !ok {
		handler.BadRequest(w, "invalid company id")
		return
	}
	var body struct {
		OverrideTemplate *string `json:"overrideTemplate"`
	}
	if err := decodeOptional(r, &body); err != nil {
		handler.BadRequest(w, "invalid body")
		return
	}

	rendered, err := c.CampaignService.RenderPreview(r.Context(), campaignID, companyID, body.OverrideTemplate)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"renderedMessage": rendered,
		"usedTemplate":    body.OverrideTemplate,
		"companyId":       companyID,
	})
}

// MonitorCompany upgrades to a WebSocket carrying the company's live events.
func (c *CampaignController) MonitorCompany(w http.ResponseWriter, r *http.Request) {
	campaignID, ok := intParam(r, "id")
	if !ok {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	companyID, ok := intParam(r, "companyID")
	if !ok {
		handler.BadRequest(w, "invalid company id")
		return
	}
	c.Monitor.Serve(w, r, campaignID, companyID)
}
