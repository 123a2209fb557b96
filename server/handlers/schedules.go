package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tender-barbarian/nua/jobs"
	"github.com/tender-barbarian/nua/repository/models"
)

type ruleResponse struct {
	ID      int          `json:"id"`
	Kind    models.Kind  `json:"kind"`
	Enabled bool         `json:"enabled"`
	JobName jobs.JobName `json:"job_name,omitempty"`
}

func newRuleResponse(r models.Rule) ruleResponse {
	return ruleResponse{ID: r.ID, Kind: r.Kind, Enabled: r.Enabled, JobName: r.JobName}
}

type ToggleReqBody struct {
	Enabled *bool `json:"enabled"`
}

func (h *CustomHandlers) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var s models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		h.WriteError(w, r, err, "invalid JSON body", http.StatusBadRequest)
		return
	}

	rule, err := h.service.CreateSchedule(r.Context(), &s)
	if err != nil {
		h.writeServiceError(w, r, err, "creating schedule")
		return
	}
	writeJSON(w, http.StatusCreated, newRuleResponse(rule))
}

func (h *CustomHandlers) CreateCronSchedule(w http.ResponseWriter, r *http.Request) {
	var c models.CronSchedule
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		h.WriteError(w, r, err, "invalid JSON body", http.StatusBadRequest)
		return
	}

	rule, err := h.service.CreateCronSchedule(r.Context(), &c)
	if err != nil {
		h.writeServiceError(w, r, err, "creating cron schedule")
		return
	}
	writeJSON(w, http.StatusCreated, newRuleResponse(rule))
}

// ToggleSchedule returns the handler enabling or disabling one kind of
// schedule.
func (h *CustomHandlers) ToggleSchedule(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}

		var body ToggleReqBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.WriteError(w, r, err, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if body.Enabled == nil {
			h.WriteError(w, r, nil, "invalid params", http.StatusBadRequest)
			return
		}

		rule, err := h.service.ToggleSchedule(r.Context(), kind, id, *body.Enabled)
		if err != nil {
			h.writeServiceError(w, r, err, "toggling schedule")
			return
		}
		writeJSON(w, http.StatusOK, newRuleResponse(rule))
	}
}

func (h *CustomHandlers) DeleteSchedule(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := h.pathID(w, r)
		if !ok {
			return
		}

		if err := h.service.DeleteSchedule(r.Context(), kind, id); err != nil {
			h.writeServiceError(w, r, err, "deleting schedule")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
