package handler

import (
	"log/slog"
	"net/http"

	"github.com/loopfi/loopbot/internal/domain"
)

// OperationsHandler serves the persisted orchestration journal.
type OperationsHandler struct {
	store  domain.OperationStore
	logger *slog.Logger
}

// NewOperationsHandler creates an OperationsHandler.
func NewOperationsHandler(store domain.OperationStore, logger *slog.Logger) *OperationsHandler {
	return &OperationsHandler{
		store:  store,
		logger: logger.With(slog.String("handler", "operations")),
	}
}

// ListOperations returns journal entries for an owner, newest first.
// GET /api/operations?owner=0x...&limit=50
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner query parameter required: "+err.Error())
		return
	}

	recs, err := h.store.ListByOwner(r.Context(), owner, parseLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]operationJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toOperationJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operations": out,
		"count":      len(out),
	})
}

// GetOperation returns one journal entry by id.
// GET /api/operations/{id}
func (h *OperationsHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "operation id required")
		return
	}

	rec, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOperationJSON(rec))
}
