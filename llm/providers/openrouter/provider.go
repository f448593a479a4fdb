// Package openrouter adapts the OpenRouter aggregation API. OpenRouter is
// OpenAI-compatible but wants attribution headers and reports the routed
// model's native finish reason alongside the normalized one.
package openrouter

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/providers/openaicompat"
)

// DefaultBaseURL is the hosted OpenRouter endpoint.
const DefaultBaseURL = "https://openrouter.ai/api"

// Options tune the adapter beyond the credential convention.
type Options struct {
	BaseURL       string
	Referer       string
	Title         string
	UnaryTimeout  time.Duration
	StreamTimeout time.Duration
}

// New creates an OpenRouter adapter.
func New(creds llm.Credentials, opts Options, logger *zap.Logger) *openaicompat.Provider {
	key, _ := creds.APIKey(llm.KindOpenRouter)
	base := opts.BaseURL
	if base == "" {
		base, _ = creds.BaseURL(llm.KindOpenRouter)
	}
	if base == "" {
		base = DefaultBaseURL
	}
	referer := opts.Referer
	if referer == "" {
		referer = "https://github.com/promptgate/promptgate"
	}
	title := opts.Title
	if title == "" {
		title = "promptgate"
	}
	return openaicompat.New(openaicompat.Config{
		Kind:    llm.KindOpenRouter,
		APIKey:  key,
		BaseURL: base,
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("Authorization", "Bearer "+apiKey)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("HTTP-Referer", referer)
			req.Header.Set("X-Title", title)
		},
		UnaryTimeout:  opts.UnaryTimeout,
		StreamTimeout: opts.StreamTimeout,
	}, logger)
}
