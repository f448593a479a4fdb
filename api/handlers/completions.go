package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/fallback"
	"github.com/promptgate/promptgate/llm/streaming"
)

// CompletionService executes prompt-addressed completions.
type CompletionService interface {
	ExecuteUnary(ctx context.Context, promptID uint, req *llm.ChatRequest) (*llm.ChatResponse, []fallback.Attempt, error)
	ExecuteStream(ctx context.Context, promptID uint, req *llm.ChatRequest, sink *streaming.Sink) (*llm.ChatResponse, []fallback.Attempt, error)
}

// ChatHandler serves POST /v1/prompts/{id}/completions.
type ChatHandler struct {
	svc    CompletionService
	logger *zap.Logger
}

// NewChatHandler creates the completion handler.
func NewChatHandler(svc CompletionService, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{svc: svc, logger: logger}
}

// HandleCompletion dispatches between the unary and streaming paths based
// on the request's stream flag.
func (h *ChatHandler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	promptID, ok := pathID(w, r, "id", h.logger)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req llm.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.Messages) == 0 {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "messages must not be empty"), h.logger)
		return
	}

	if req.Stream {
		h.handleStream(w, r, promptID, &req)
		return
	}
	h.handleUnary(w, r, promptID, &req)
}

func (h *ChatHandler) handleUnary(w http.ResponseWriter, r *http.Request, promptID uint, req *llm.ChatRequest) {
	resp, attempts, err := h.svc.ExecuteUnary(r.Context(), promptID, req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if n := len(attempts); n > 0 {
		w.Header().Set("X-Trace-Id", strconv.FormatUint(uint64(attempts[n-1].TraceID), 10))
	}
	// The unary completion body is the raw OpenAI wire shape, not the
	// envelope.
	WriteJSON(w, http.StatusOK, resp)
}

// handleStream forwards chunks as server-sent events. The first sink item
// decides the response shape: a failure before anything was forwarded still
// gets a plain JSON error instead of a broken event stream.
func (h *ChatHandler) handleStream(w http.ResponseWriter, r *http.Request, promptID uint, req *llm.ChatRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, llm.NewError(llm.ClassInvalidRequest, "streaming unsupported by connection"), h.logger)
		return
	}

	ctx := r.Context()
	sink := streaming.NewSink(0)
	stop := context.AfterFunc(ctx, sink.Close)
	defer stop()

	type outcome struct {
		resp *llm.ChatResponse
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, _, err := h.svc.ExecuteStream(ctx, promptID, req, sink)
		done <- outcome{resp: resp, err: err}
	}()

	first, open := <-sink.Chunks()
	if !open {
		out := <-done
		if out.err == nil {
			out.err = llm.NewError(llm.ClassEmptyResponse, "stream produced no chunks")
		}
		WriteError(w, out.err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.writeEvent(w, flusher, first)
	for chunk := range sink.Chunks() {
		h.writeEvent(w, flusher, chunk)
	}

	if out := <-done; out.err != nil {
		h.logger.Warn("stream terminated with error",
			zap.Uint("prompt_id", promptID),
			zap.Error(out.err))
	}
}

func (h *ChatHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, chunk llm.StreamChunk) {
	switch {
	case chunk.Err != nil:
		payload, _ := json.Marshal(map[string]*ErrorInfo{"error": {
			Class:   string(chunk.Err.Class),
			Message: chunk.Err.Message,
		}})
		fmt.Fprintf(w, "data: %s\n\n", payload)
	case chunk.IsSentinel():
		fmt.Fprint(w, "data: [DONE]\n\n")
	default:
		raw, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", raw)
	}
	flusher.Flush()
}
