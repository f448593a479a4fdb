package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/trace"
)

// TraceService reads persisted trace records.
type TraceService interface {
	GetTrace(ctx context.Context, id uint) (*trace.Record, error)
}

// TraceHandler serves GET /v1/traces/{id}.
type TraceHandler struct {
	svc    TraceService
	logger *zap.Logger
}

// NewTraceHandler creates the trace read handler.
func NewTraceHandler(svc TraceService, logger *zap.Logger) *TraceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceHandler{svc: svc, logger: logger}
}

// HandleGet returns one trace record.
func (h *TraceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	rec, err := h.svc.GetTrace(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if rec == nil {
		WriteNotFound(w, "trace")
		return
	}
	WriteSuccess(w, rec)
}
