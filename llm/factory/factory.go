// Package factory dispatches provider kinds to adapter constructors. It is
// the single place that knows every concrete adapter; everything above it
// works against llm.Provider and llm.ProviderFactory.
package factory

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
	"github.com/promptgate/promptgate/llm/providers/azure"
	"github.com/promptgate/promptgate/llm/providers/openai"
	"github.com/promptgate/promptgate/llm/providers/openrouter"
)

// Options apply to every constructed adapter.
type Options struct {
	UnaryTimeout  time.Duration
	StreamTimeout time.Duration

	// AzureAPIVersion overrides the Azure chat-completions api-version.
	AzureAPIVersion string
}

// Factory builds and memoizes provider adapters per (kind, base URL) pair.
type Factory struct {
	creds  llm.Credentials
	opts   Options
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]llm.Provider
}

// New creates a Factory. A nil logger is replaced with a no-op.
func New(creds llm.Credentials, opts Options, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		creds:  creds,
		opts:   opts,
		logger: logger,
		cache:  make(map[string]llm.Provider),
	}
}

// Provider implements llm.ProviderFactory. baseURL overrides the adapter's
// default endpoint when non-empty.
func (f *Factory) Provider(kind llm.ProviderKind, baseURL string) (llm.Provider, error) {
	if !kind.Valid() {
		return nil, &llm.Error{
			Class:      llm.ClassInvalidRequest,
			Message:    fmt.Sprintf("unknown provider kind %q", kind),
			HTTPStatus: http.StatusBadRequest,
		}
	}

	key := string(kind) + "\x00" + baseURL
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[key]; ok {
		return p, nil
	}

	var p llm.Provider
	switch kind {
	case llm.KindOpenAI:
		p = openai.New(f.creds, openai.Options{
			BaseURL:       baseURL,
			UnaryTimeout:  f.opts.UnaryTimeout,
			StreamTimeout: f.opts.StreamTimeout,
		}, f.logger)
	case llm.KindAzure:
		p = azure.New(f.creds, azure.Options{
			BaseURL:       baseURL,
			APIVersion:    f.opts.AzureAPIVersion,
			UnaryTimeout:  f.opts.UnaryTimeout,
			StreamTimeout: f.opts.StreamTimeout,
		}, f.logger)
	case llm.KindOpenRouter:
		p = openrouter.New(f.creds, openrouter.Options{
			BaseURL:       baseURL,
			UnaryTimeout:  f.opts.UnaryTimeout,
			StreamTimeout: f.opts.StreamTimeout,
		}, f.logger)
	}
	f.cache[key] = p
	return p, nil
}
