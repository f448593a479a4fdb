// Package openai adapts OpenAI and OpenAI-compatible chat-completions
// upstreams. The base URL is configurable, so this adapter also serves
// self-hosted compatible endpoints.
package openai

import (
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/providers/openaicompat"
)

// DefaultBaseURL is the hosted OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com"

// Options tune the adapter beyond the credential convention.
type Options struct {
	BaseURL       string
	UnaryTimeout  time.Duration
	StreamTimeout time.Duration
}

// New creates an OpenAI adapter. The credential comes from creds; the base
// URL resolves in order: opts.BaseURL, the credential override, the default.
func New(creds llm.Credentials, opts Options, logger *zap.Logger) *openaicompat.Provider {
	key, _ := creds.APIKey(llm.KindOpenAI)
	base := opts.BaseURL
	if base == "" {
		base, _ = creds.BaseURL(llm.KindOpenAI)
	}
	if base == "" {
		base = DefaultBaseURL
	}
	return openaicompat.New(openaicompat.Config{
		Kind:          llm.KindOpenAI,
		APIKey:        key,
		BaseURL:       base,
		UnaryTimeout:  opts.UnaryTimeout,
		StreamTimeout: opts.StreamTimeout,
	}, logger)
}
