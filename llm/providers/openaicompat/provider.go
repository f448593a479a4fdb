// Package openaicompat implements the shared adapter for every
// OpenAI-compatible chat-completions API. The openai, azure and openrouter
// packages construct it with kind-specific endpoints and header builders.
package openaicompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/internal/tlsutil"
	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/providers"
)

// Config holds the kind-specific pieces of an OpenAI-compatible adapter.
type Config struct {
	// Kind is the provider kind this adapter speaks.
	Kind llm.ProviderKind

	// APIKey is the upstream credential. Empty means the request fails
	// with an Auth error at call time.
	APIKey string

	// BaseURL is the upstream base URL, without a trailing slash.
	BaseURL string

	// EndpointPath is the chat-completions path. Defaults to
	// "/v1/chat/completions".
	EndpointPath string

	// BuildEndpoint overrides endpoint construction entirely (Azure needs
	// the deployment name and api-version in the URL). When set,
	// EndpointPath is ignored.
	BuildEndpoint func(baseURL, model string) string

	// BuildHeaders sets authentication headers on each request. When nil,
	// the default "Authorization: Bearer <key>" convention is used.
	BuildHeaders func(req *http.Request, apiKey string)

	// CollapseSystem merges leading system messages into a single system
	// slot before sending. Azure requires this.
	CollapseSystem bool

	// UnaryTimeout bounds a unary call. Defaults to 60s.
	UnaryTimeout time.Duration

	// StreamTimeout bounds stream establishment (first byte). Defaults to
	// 300s.
	StreamTimeout time.Duration
}

// Provider is the base adapter for OpenAI-compatible upstreams.
type Provider struct {
	cfg          Config
	client       *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

// New creates an adapter from cfg. A nil logger is replaced with a no-op.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.UnaryTimeout <= 0 {
		cfg.UnaryTimeout = 60 * time.Second
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = 300 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.UnaryTimeout),
		// The stream client carries no overall timeout; a client timeout
		// would sever long-lived streams. Establishment is bounded by a
		// per-call deadline instead.
		streamClient: tlsutil.SecureHTTPClient(0),
		logger:       logger.With(zap.String("provider", string(cfg.Kind))),
	}
}

// Kind returns the provider kind.
func (p *Provider) Kind() llm.ProviderKind { return p.cfg.Kind }

func (p *Provider) endpoint(model string) string {
	base := strings.TrimRight(p.cfg.BaseURL, "/")
	if p.cfg.BuildEndpoint != nil {
		return p.cfg.BuildEndpoint(base, model)
	}
	return base + p.cfg.EndpointPath
}

func (p *Provider) buildHeaders(req *http.Request) {
	if p.cfg.BuildHeaders != nil {
		p.cfg.BuildHeaders(req, p.cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// body is the outbound chat-completions payload. MaterializedRequest
// already carries the wire field names; stream flags are added here.
type body struct {
	*llm.MaterializedRequest
	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func (p *Provider) newRequest(ctx context.Context, req *llm.MaterializedRequest, stream bool) (*http.Request, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, &llm.Error{
			Class:      llm.ClassAuth,
			Message:    fmt.Sprintf("no credential configured for provider %s", p.cfg.Kind),
			HTTPStatus: http.StatusUnauthorized,
			Provider:   string(p.cfg.Kind),
		}
	}

	out := req
	if p.cfg.CollapseSystem {
		out = req.Clone()
		out.Messages = providers.CollapseSystemMessages(req.Messages)
	}

	b := body{MaterializedRequest: out, Stream: stream}
	if stream {
		b.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, &llm.Error{
			Class:    llm.ClassSerialization,
			Message:  "failed to encode request",
			Provider: string(p.cfg.Kind),
			Cause:    err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(req.Model), bytes.NewReader(payload))
	if err != nil {
		return nil, &llm.Error{
			Class:    llm.ClassInvalidRequest,
			Message:  "failed to build request",
			Provider: string(p.cfg.Kind),
			Cause:    err,
		}
	}
	p.buildHeaders(httpReq)
	return httpReq, nil
}

func (p *Provider) transportError(err error) *llm.Error {
	class := llm.ClassProviderUnavailable
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		class = llm.ClassTimeout
		status = http.StatusGatewayTimeout
	}
	return &llm.Error{
		Class:      class,
		Message:    err.Error(),
		HTTPStatus: status,
		Retryable:  true,
		Provider:   string(p.cfg.Kind),
	}
}

// Completion performs a unary chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.MaterializedRequest) (*llm.ChatResponse, error) {
	httpReq, err := p.newRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, string(p.cfg.Kind))
	}

	var out llm.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &llm.Error{
			Class:      llm.ClassSerialization,
			Message:    "failed to decode response",
			HTTPStatus: http.StatusBadGateway,
			Provider:   string(p.cfg.Kind),
			Cause:      err,
		}
	}
	if err := providers.NormalizeResponse(&out, string(p.cfg.Kind)); err != nil {
		return nil, err
	}
	out.ProviderKind = p.cfg.Kind

	p.logger.Debug("completion finished",
		zap.String("model", req.Model),
		zap.Duration("latency", time.Since(start)),
	)
	return &out, nil
}

// Stream performs a streaming chat completion via SSE. Establishment is
// bounded by StreamTimeout; once the stream is open the caller's ctx
// governs it.
func (p *Provider) Stream(ctx context.Context, req *llm.MaterializedRequest) (<-chan llm.StreamChunk, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := p.newRequest(streamCtx, req, true)
	if err != nil {
		cancel()
		return nil, err
	}

	// Bound establishment only: the deadline is disarmed once headers
	// arrive, so long-lived streams are governed by the caller's ctx.
	var timedOut atomic.Bool
	connectTimer := time.AfterFunc(p.cfg.StreamTimeout, func() {
		timedOut.Store(true)
		cancel()
	})
	resp, err := p.streamClient.Do(httpReq)
	connectTimer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, &llm.Error{
				Class:      llm.ClassTimeout,
				Message:    "stream establishment deadline exceeded",
				HTTPStatus: http.StatusGatewayTimeout,
				Retryable:  true,
				Provider:   string(p.cfg.Kind),
			}
		}
		return nil, p.transportError(err)
	}
	if resp.StatusCode >= 400 {
		defer cancel()
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, string(p.cfg.Kind))
	}

	return p.streamSSE(streamCtx, cancel, resp.Body), nil
}

// streamSSE parses the SSE stream into unified chunks. The producer closes
// the channel at [DONE] or after one Err chunk.
func (p *Provider) streamSSE(ctx context.Context, cancel context.CancelFunc, rc io.ReadCloser) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer cancel()
		defer rc.Close()
		defer close(ch)

		stop := context.AfterFunc(ctx, func() { rc.Close() })
		defer stop()

		reader := bufio.NewReader(rc)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					p.emit(ctx, ch, llm.StreamChunk{Err: p.transportError(err)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var chunk llm.StreamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				p.emit(ctx, ch, llm.StreamChunk{Err: &llm.Error{
					Class:      llm.ClassSerialization,
					Message:    "failed to decode stream chunk",
					HTTPStatus: http.StatusBadGateway,
					Provider:   string(p.cfg.Kind),
					Cause:      err,
				}})
				return
			}
			for i := range chunk.Choices {
				normalized, native := providers.NormalizeFinishReason(chunk.Choices[i].FinishReason)
				chunk.Choices[i].FinishReason = normalized
				if chunk.Choices[i].NativeFinishReason == "" {
					chunk.Choices[i].NativeFinishReason = native
				}
			}
			if !p.emit(ctx, ch, chunk) {
				return
			}
		}
	}()
	return ch
}

func (p *Provider) emit(ctx context.Context, ch chan<- llm.StreamChunk, chunk llm.StreamChunk) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- chunk:
		return true
	}
}
