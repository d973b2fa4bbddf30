package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/convoreach/backend/internal/apperrors"
	"github.com/convoreach/backend/internal/model"
	"github.com/convoreach/backend/internal/repository"
	"github.com/convoreach/backend/internal/service"
)

// CampaignController translates JSON requests into manager/repository calls.
// It carries no dispatch logic of its own.
type CampaignController struct {
	Manager   *service.Manager
	Campaigns repository.CampaignRepositoryInterface
	Customers repository.CustomerRepositoryInterface
	Log       zerolog.Logger
}

func (c *CampaignController) Routes(r chi.Router) {
	r.Post("/campaigns", c.CreateCampaign)
	r.Get("/campaigns", c.ListCampaigns)
	r.Get("/campaigns/{id}", c.GetCampaign)
	r.Post("/campaigns/{id}/run", c.RunCampaign)
	r.Post("/campaigns/{id}/schedule", c.ScheduleCampaign)
	r.Post("/campaigns/{id}/cancel", c.CancelCampaign)
	r.Get("/campaigns/{id}/stats", c.GetStats)
	r.Get("/campaigns/{id}/logs", c.GetLogs)
	r.Post("/campaigns/{id}/preview", c.PersonalizedPreview)
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountID   int      `json:"account_id"`
		Name        string   `json:"name"`
		Message     string   `json:"message"`
		TargetTags  []string `json:"target_tags"`
		ScheduledAt *string  `json:"scheduled_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Message == "" {
		http.Error(w, "name and message are required", http.StatusBadRequest)
		return
	}

	campaign := &model.Campaign{
		AccountID:  body.AccountID,
		Name:       body.Name,
		Message:    body.Message,
		TargetTags: body.TargetTags,
		Kind:       model.KindManual,
		Status:     model.StatusDraft,
	}
	if err := c.Campaigns.Create(campaign); err != nil {
		c.writeError(w, err)
		return
	}

	if body.ScheduledAt != nil {
		when, err := time.Parse(time.RFC3339, *body.ScheduledAt)
		if err != nil {
			http.Error(w, "scheduled_at must be RFC3339", http.StatusBadRequest)
			return
		}
		if err := c.Manager.ScheduleAt(campaign.ID, when); err != nil {
			c.writeError(w, err)
			return
		}
		campaign, err = c.Campaigns.GetByID(campaign.ID)
		if err != nil {
			c.writeError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	campaigns, total, err := c.Campaigns.List((page-1)*pageSize, pageSize, status)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": campaigns,
		"pagination": map[string]int{
			"page":        page,
			"page_size":   pageSize,
			"total_count": total,
			"total_pages": (total + pageSize - 1) / pageSize,
		},
	})
}

func (c *CampaignController) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	campaign, err := c.Campaigns.GetByID(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	stats, err := c.Manager.Stats(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign": campaign,
		"stats":    stats,
	})
}

func (c *CampaignController) RunCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	if err := c.Manager.RunNow(id); err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": id,
		"status":      model.StatusPending,
	})
}

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	var body struct {
		RunAt string `json:"run_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	when, err := time.Parse(time.RFC3339, body.RunAt)
	if err != nil {
		http.Error(w, "run_at must be RFC3339", http.StatusBadRequest)
		return
	}
	if err := c.Manager.ScheduleAt(id, when); err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": id,
		"status":      model.StatusPending,
		"run_at":      when,
	})
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	if err := c.Manager.Cancel(id); err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign_id": id,
		"status":      model.StatusCanceled,
	})
}

func (c *CampaignController) GetStats(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	stats, err := c.Manager.Stats(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (c *CampaignController) GetLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	logs, err := c.Manager.Logs(id, page, pageSize)
	if err != nil {
		c.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := c.campaignID(w, r)
	if !ok {
		return
	}
	var body struct {
		CustomerID int `json:"customer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign, err := c.Campaigns.GetByID(id)
	if err != nil {
		c.writeError(w, err)
		return
	}
	customer, err := c.Customers.GetByID(body.CustomerID)
	if err != nil {
		c.writeError(w, err)
		return
	}
	if customer == nil {
		http.Error(w, "customer not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"customer_id":      customer.ID,
		"rendered_message": service.Personalize(campaign.Message, customer),
	})
}

func (c *CampaignController) campaignID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (c *CampaignController) writeError(w http.ResponseWriter, err error) {
	var notFound *apperrors.CampaignNotFoundError
	var running *apperrors.CampaignAlreadyRunningError
	var done *apperrors.CampaignAlreadyDoneError
	var badSchedule *apperrors.InvalidScheduleError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &running), errors.As(err, &done):
		status = http.StatusConflict
	case errors.As(err, &badSchedule):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		c.Log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
