package handlers

import (
	"encoding/json"
	"math"
	"net/http"
	"time"
)

type AccessReqBody struct {
	Allow *bool `json:"allow"`
}

type BonusReqBody struct {
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`
}

type bonusResponse struct {
	RemainingSeconds int64  `json:"remaining_seconds"`
	Remaining        string `json:"remaining"`
}

func newBonusResponse(d time.Duration) bonusResponse {
	return bonusResponse{
		RemainingSeconds: int64(math.Ceil(d.Seconds())),
		Remaining:        d.Round(time.Second).String(),
	}
}

func (h *CustomHandlers) SetDeviceAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var body AccessReqBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.WriteError(w, r, err, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Allow == nil {
		h.WriteError(w, r, nil, "invalid params", http.StatusBadRequest)
		return
	}

	if err := h.service.SetDeviceAccess(r.Context(), id, *body.Allow); err != nil {
		h.writeServiceError(w, r, err, "changing device access")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomHandlers) BlockAll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.BlockAll(r.Context()); err != nil {
		h.writeServiceError(w, r, err, "blocking all devices")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomHandlers) UnblockAll(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UnblockAll(r.Context()); err != nil {
		h.writeServiceError(w, r, err, "unblocking all devices")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomHandlers) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteDevice(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err, "deleting device")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomHandlers) GrantBonusTime(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var body BonusReqBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.WriteError(w, r, err, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if body.Hours < 0 || body.Minutes < 0 {
		h.WriteError(w, r, nil, "hours and minutes must not be negative", http.StatusBadRequest)
		return
	}

	d, err := h.service.GrantBonusTime(r.Context(), id, body.Hours*60+body.Minutes)
	if err != nil {
		h.writeServiceError(w, r, err, "granting bonus time")
		return
	}
	writeJSON(w, http.StatusOK, newBonusResponse(d))
}

func (h *CustomHandlers) GetBonusTime(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	d, ok := h.service.BonusRemaining(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, newBonusResponse(d))
}

// ListBonusTimes reports every open bonus window, keyed by device id.
func (h *CustomHandlers) ListBonusTimes(w http.ResponseWriter, r *http.Request) {
	out := make(map[int]bonusResponse)
	for id, d := range h.service.BonusTimes() {
		out[id] = newBonusResponse(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CustomHandlers) EndBonusTime(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.service.EndBonusTime(r.Context(), id, true); err != nil {
		h.writeServiceError(w, r, err, "ending bonus time")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CustomHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Reconcile(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err, "reconciling schedules")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
