package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/rider-dispatch/internal/broker"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/scoring"
	"github.com/MikeSquared-Agency/rider-dispatch/internal/store"
)

type ExplainHandler struct {
	store  store.Store
	scorer *scoring.Scorer
	pareto bool
}

func NewExplainHandler(s store.Store, sc *scoring.Scorer, paretoEnabled bool) *ExplainHandler {
	return &ExplainHandler{store: s, scorer: sc, pareto: paretoEnabled}
}

type dispatchLogResponse struct {
	OrderID        uuid.UUID                 `json:"order_id"`
	DispatchStatus store.DispatchStatus      `json:"dispatch_status"`
	Attempts       int                       `json:"dispatch_attempts"`
	Entries        []*store.DispatchLogEntry `json:"entries"`
	ParetoAttempt  int                       `json:"pareto_attempt,omitempty"`
	ParetoFrontier []scoring.Score           `json:"pareto_frontier,omitempty"`
}

// DispatchLog returns the dispatch history of an order.
// GET /api/v1/orders/{id}/dispatch-log?attempt=n
func (h *ExplainHandler) DispatchLog(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	attempt := 0
	if v := r.URL.Query().Get("attempt"); v != "" {
		attempt, err = strconv.Atoi(v)
		if err != nil || attempt < 1 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "attempt must be a positive integer"})
			return
		}
	}

	order, err := h.store.GetOrder(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if order == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Order not found"})
		return
	}

	entries, err := h.store.GetDispatchLog(r.Context(), id, attempt)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []*store.DispatchLogEntry{}
	}

	resp := dispatchLogResponse{
		OrderID:        order.ID,
		DispatchStatus: order.DispatchStatus,
		Attempts:       order.DispatchAttempts,
		Entries:        entries,
	}
	if h.pareto {
		resp.ParetoAttempt, resp.ParetoFrontier = h.frontier(entries, attempt)
	}
	writeJSON(w, http.StatusOK, resp)
}

// frontier re-scores one attempt's candidates, the latest when attempt is 0.
func (h *ExplainHandler) frontier(entries []*store.DispatchLogEntry, attempt int) (int, []scoring.Score) {
	if attempt == 0 {
		for _, e := range entries {
			if e.AttemptNumber > attempt {
				attempt = e.AttemptNumber
			}
		}
	}
	var scores []scoring.Score
	for _, e := range entries {
		if e.AttemptNumber != attempt {
			continue
		}
		if s, ok := broker.Rescore(h.scorer, e); ok {
			scores = append(scores, s)
		}
	}
	if len(scores) == 0 {
		return 0, nil
	}
	return attempt, scoring.Frontier(scores)
}
