// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/leadnurture/internal/errors"
	"github.com/unclebandit/leadnurture/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
	Log             *zap.Logger
}

func (c *CampaignController) logError(r *http.Request, err error) {
	if c.Log == nil || StatusFor(err) < http.StatusInternalServerError {
		return
	}
	c.Log.Error("❌ request failed", zap.String("path", r.URL.Path), zap.Error(err))
}

// StartCampaign registers a lead and starts its welcome campaign.
func (c *CampaignController) StartCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.LeadInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, appErrors.NewValidation("body", err.Error()))
		return
	}

	res, err := c.CampaignService.StartCampaign(r.Context(), body)
	if err != nil {
		c.logError(r, err)
		WriteError(w, err)
		return
	}

	writeOK(w, http.StatusCreated, map[string]any{
		"lead_id":     res.LeadID,
		"campaign_id": res.CampaignID,
	})
}

// StartLeadCampaign starts another template for an existing lead.
func (c *CampaignController) StartLeadCampaign(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "id")

	var body struct {
		Template string `json:"template"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, appErrors.NewValidation("body", err.Error()))
		return
	}

	res, err := c.CampaignService.StartCampaignForLead(r.Context(), leadID, body.Template)
	if err != nil {
		c.logError(r, err)
		WriteError(w, err)
		return
	}

	writeOK(w, http.StatusCreated, map[string]any{
		"lead_id":     res.LeadID,
		"campaign_id": res.CampaignID,
	})
}

func (c *CampaignController) GetLead(w http.ResponseWriter, r *http.Request) {
	status, err := c.CampaignService.GetLeadStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.logError(r, err)
		WriteError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"lead": status})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	status, err := c.CampaignService.GetCampaignStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.logError(r, err)
		WriteError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"campaign": status})
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := c.CampaignService.PauseCampaign(r.Context(), id); err != nil {
		c.logError(r, err)
		WriteError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Campaign " + id + " paused"})
}

func (c *CampaignController) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := c.CampaignService.ResumeCampaign(r.Context(), id); err != nil {
		c.logError(r, err)
		WriteError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Campaign " + id + " resumed"})
}
