package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/broker"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
)

type DispatchHandler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewDispatchHandler(d Dispatcher, logger *slog.Logger) *DispatchHandler {
	return &DispatchHandler{dispatcher: d, logger: logger}
}

type dispatchRequest struct {
	OrderID         string   `json:"order_id"`
	ExcludeRiderIDs []string `json:"exclude_rider_ids"`
}

type assignedResponse struct {
	Success           bool            `json:"success"`
	Action            broker.Action   `json:"action"`
	AssignedRiderID   string          `json:"assigned_rider_id"`
	Score             float64         `json:"score"`
	Factors           scoring.Factors `json:"factors"`
	DistanceKm        float64         `json:"distance_km"`
	PriorityExpiresAt time.Time       `json:"priority_expires_at"`
	CandidatesCount   int             `json:"candidates_count"`
	AttemptNumber     int             `json:"attempt_number"`
}

type broadcastResponse struct {
	Success  bool          `json:"success"`
	Action   broker.Action `json:"action"`
	Reason   string        `json:"reason"`
	RadiusKm float64       `json:"radius_km"`
}

// Dispatch runs one attempt for an order.
// POST /api/v1/dispatch
func (h *DispatchHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body", Details: err.Error()})
		return
	}
	if req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "order_id required"})
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order_id"})
		return
	}

	out, err := h.dispatcher.Dispatch(r.Context(), orderID, req.ExcludeRiderIDs)
	switch {
	case errors.Is(err, broker.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Order not found"})
		return
	case errors.Is(err, broker.ErrAssignmentLost):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "Assignment lost", Details: err.Error()})
		return
	case errors.Is(err, broker.ErrPickupUnresolved):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Pickup location unresolved"})
		return
	case err != nil:
		h.logger.Error("dispatch failed", "order_id", orderID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Dispatch failed", Details: err.Error()})
		return
	}

	if out.Action == broker.ActionBroadcast {
		writeJSON(w, http.StatusOK, broadcastResponse{
			Success:  true,
			Action:   out.Action,
			Reason:   out.Reason,
			RadiusKm: out.RadiusKm,
		})
		return
	}

	resp := assignedResponse{
		Success:         true,
		Action:          out.Action,
		AssignedRiderID: out.RiderID,
		Score:           out.Score,
		DistanceKm:      out.DistanceKm,
		CandidatesCount: out.CandidatesCount,
		AttemptNumber:   out.AttemptNumber,
	}
	if out.Factors != nil {
		resp.Factors = *out.Factors
	}
	if out.PriorityExpiresAt != nil {
		resp.PriorityExpiresAt = *out.PriorityExpiresAt
	}
	writeJSON(w, http.StatusOK, resp)
}
