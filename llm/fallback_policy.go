package llm

// FallbackTarget is one (provider kind, model, overrides, catch-set) tuple
// consulted when the primary or an earlier target fails with a matching
// error class.
type FallbackTarget struct {
	Provider    ProviderKind `json:"provider"`
	Model       string       `json:"model"`
	BaseURL     string       `json:"base_url,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float32     `json:"temperature,omitempty"`

	// Catch is the non-empty set of error classes this target handles.
	// ClassAll matches any class.
	Catch []ErrorClass `json:"catch"`
}

// Catches reports whether the target handles the given error class.
func (t FallbackTarget) Catches(class ErrorClass) bool {
	for _, c := range t.Catch {
		if c == ClassAll || c == class {
			return true
		}
	}
	return false
}

// FallbackPolicy is a property of the caller's request, not of the stored
// prompt version.
type FallbackPolicy struct {
	Enabled          bool             `json:"enabled"`
	RetriesPerTarget int              `json:"retries_per_target,omitempty"`
	Targets          []FallbackTarget `json:"targets,omitempty"`
}

// Active reports whether the policy has any targets to consult.
func (p *FallbackPolicy) Active() bool {
	return p != nil && p.Enabled && len(p.Targets) > 0
}

// Retries returns the per-target retry budget, zero when the policy is nil.
func (p *FallbackPolicy) Retries() int {
	if p == nil || p.RetriesPerTarget < 0 {
		return 0
	}
	return p.RetriesPerTarget
}

// Apply constructs the materialized request for a fallback target: a shallow
// copy of m with provider kind, base URL, model and sampling overrides
// applied, and the fallback policy cleared to prevent recursion.
func (t FallbackTarget) Apply(m *MaterializedRequest) *MaterializedRequest {
	next := m.Clone()
	next.Provider = t.Provider
	next.Model = t.Model
	if t.BaseURL != "" {
		next.BaseURL = t.BaseURL
	}
	if t.MaxTokens > 0 {
		next.MaxTokens = t.MaxTokens
	}
	if t.Temperature != nil {
		next.Temperature = *t.Temperature
	}
	next.FallbackPolicy = nil
	return next
}
