package llm

import "context"

// ProviderKind identifies one upstream API family. The set is closed; the
// fallback executor stays polymorphic over ProviderKind via a dispatcher
// instead of inheritance.
type ProviderKind string

const (
	KindOpenAI     ProviderKind = "openai"
	KindAzure      ProviderKind = "azure_openai"
	KindOpenRouter ProviderKind = "openrouter"
)

// Kinds returns every supported provider kind.
func Kinds() []ProviderKind {
	return []ProviderKind{KindOpenAI, KindAzure, KindOpenRouter}
}

// Valid reports whether k names a supported provider kind.
func (k ProviderKind) Valid() bool {
	switch k {
	case KindOpenAI, KindAzure, KindOpenRouter:
		return true
	}
	return false
}

// Provider adapts one upstream API to the unified request/response types.
//
// Adapters translate messages, map finish reasons and error bodies, and
// nothing more: they never retry and never write trace records. Both of
// those belong to the fallback executor.
type Provider interface {
	// Kind returns the provider kind this adapter speaks.
	Kind() ProviderKind

	// Completion performs a unary chat completion.
	Completion(ctx context.Context, req *MaterializedRequest) (*ChatResponse, error)

	// Stream performs a streaming chat completion. The returned channel is
	// finite and non-restartable; the producer closes it at end of stream
	// or after emitting one chunk with Err set.
	Stream(ctx context.Context, req *MaterializedRequest) (<-chan StreamChunk, error)
}

// ProviderFactory resolves a provider kind (plus an optional per-request
// base URL override) to an adapter instance.
type ProviderFactory interface {
	Provider(kind ProviderKind, baseURL string) (Provider, error)
}

// ProviderFactoryFunc adapts a function to the ProviderFactory interface.
type ProviderFactoryFunc func(kind ProviderKind, baseURL string) (Provider, error)

// Provider implements ProviderFactory.
func (f ProviderFactoryFunc) Provider(kind ProviderKind, baseURL string) (Provider, error) {
	return f(kind, baseURL)
}
