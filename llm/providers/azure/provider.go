// Package azure adapts the Azure OpenAI service. Azure differs from the
// hosted API in three ways: the credential travels in an "api-key" header,
// the deployment name is part of the URL, and only a single system slot is
// accepted.
package azure

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/providers/openaicompat"
)

// DefaultAPIVersion is the chat-completions api-version sent when none is
// configured.
const DefaultAPIVersion = "2024-10-21"

// Options tune the adapter beyond the credential convention.
type Options struct {
	BaseURL       string
	APIVersion    string
	UnaryTimeout  time.Duration
	StreamTimeout time.Duration
}

// New creates an Azure OpenAI adapter. The model name of the materialized
// request is used as the deployment name.
func New(creds llm.Credentials, opts Options, logger *zap.Logger) *openaicompat.Provider {
	key, _ := creds.APIKey(llm.KindAzure)
	base := opts.BaseURL
	if base == "" {
		base, _ = creds.BaseURL(llm.KindAzure)
	}
	version := opts.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	return openaicompat.New(openaicompat.Config{
		Kind:    llm.KindAzure,
		APIKey:  key,
		BaseURL: base,
		BuildEndpoint: func(baseURL, model string) string {
			return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", baseURL, model, version)
		},
		BuildHeaders: func(req *http.Request, apiKey string) {
			req.Header.Set("api-key", apiKey)
			req.Header.Set("Content-Type", "application/json")
		},
		CollapseSystem: true,
		UnaryTimeout:   opts.UnaryTimeout,
		StreamTimeout:  opts.StreamTimeout,
	}, logger)
}
