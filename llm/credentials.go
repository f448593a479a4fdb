package llm

import (
	"encoding/json"
	"os"
	"strings"
)

// Environment variable names per provider kind.
var credentialEnv = map[ProviderKind]string{
	KindOpenAI:     "OPENAI_API_KEY",
	KindAzure:      "AZURE_OPENAI_API_KEY",
	KindOpenRouter: "OPENROUTER_API_KEY",
}

var baseURLEnv = map[ProviderKind]string{
	KindOpenAI:     "OPENAI_BASE_URL",
	KindAzure:      "AZURE_OPENAI_BASE_URL",
	KindOpenRouter: "OPENROUTER_BASE_URL",
}

// Credentials holds the per-kind upstream credentials and base-URL
// overrides. It is constructed once at startup and passed to adapters;
// adapters never read the environment themselves.
type Credentials struct {
	keys     map[ProviderKind]string
	baseURLs map[ProviderKind]string
}

// CredentialsFromEnv reads one credential variable and one optional
// base-URL override per provider kind. A missing credential is not an
// error here; it surfaces as an Auth error at request time.
func CredentialsFromEnv() Credentials {
	c := Credentials{
		keys:     make(map[ProviderKind]string),
		baseURLs: make(map[ProviderKind]string),
	}
	for kind, name := range credentialEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			c.keys[kind] = v
		}
	}
	for kind, name := range baseURLEnv {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			c.baseURLs[kind] = v
		}
	}
	return c
}

// NewCredentials builds a Credentials value from explicit maps. Used by
// tests and by deployments that do not use the environment convention.
func NewCredentials(keys, baseURLs map[ProviderKind]string) Credentials {
	c := Credentials{
		keys:     make(map[ProviderKind]string, len(keys)),
		baseURLs: make(map[ProviderKind]string, len(baseURLs)),
	}
	for k, v := range keys {
		c.keys[k] = v
	}
	for k, v := range baseURLs {
		c.baseURLs[k] = v
	}
	return c
}

// APIKey returns the credential for the given kind.
func (c Credentials) APIKey(kind ProviderKind) (string, bool) {
	v, ok := c.keys[kind]
	return v, ok
}

// BaseURL returns the base-URL override for the given kind, if any.
func (c Credentials) BaseURL(kind ProviderKind) (string, bool) {
	v, ok := c.baseURLs[kind]
	return v, ok
}

// String masks every credential.
func (c Credentials) String() string {
	if len(c.keys) == 0 {
		return "Credentials{}"
	}
	kinds := make([]string, 0, len(c.keys))
	for k := range c.keys {
		kinds = append(kinds, string(k))
	}
	return "Credentials{" + strings.Join(kinds, ",") + ":***}"
}

// MarshalJSON masks every credential.
func (c Credentials) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(c.keys))
	for k := range c.keys {
		out[string(k)] = "***"
	}
	return json.Marshal(out)
}
