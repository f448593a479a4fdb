package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/llm"
)

func TestAzureEndpointAndHeaders(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`)
	}))
	defer server.Close()

	creds := llm.NewCredentials(map[llm.ProviderKind]string{llm.KindAzure: "azure-key"}, nil)
	p := New(creds, Options{BaseURL: server.URL, APIVersion: "2024-10-21"}, nil)

	req := &llm.MaterializedRequest{
		Model:    "gpt-4o-deployment",
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	}
	resp, err := p.Completion(context.Background(), req)
	require.NoError(t, err)

	// The model name doubles as the deployment name in the URL.
	assert.Equal(t, "/openai/deployments/gpt-4o-deployment/chat/completions", gotPath)
	assert.Equal(t, "api-version=2024-10-21", gotQuery)
	// Azure authenticates via api-key, never a bearer token.
	assert.Equal(t, "azure-key", gotKey)
	assert.Empty(t, gotAuth)
	assert.Equal(t, llm.KindAzure, resp.ProviderKind)
}

func TestAzureDefaultAPIVersion(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`)
	}))
	defer server.Close()

	creds := llm.NewCredentials(map[llm.ProviderKind]string{llm.KindAzure: "azure-key"}, nil)
	p := New(creds, Options{BaseURL: server.URL}, nil)

	_, err := p.Completion(context.Background(), &llm.MaterializedRequest{
		Model:    "dep",
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
	assert.Equal(t, "api-version="+DefaultAPIVersion, gotQuery)
}

func TestAzureBaseURLFromCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`)
	}))
	defer server.Close()

	creds := llm.NewCredentials(
		map[llm.ProviderKind]string{llm.KindAzure: "azure-key"},
		map[llm.ProviderKind]string{llm.KindAzure: server.URL},
	)
	p := New(creds, Options{}, nil)

	_, err := p.Completion(context.Background(), &llm.MaterializedRequest{
		Model:    "dep",
		Messages: []llm.Message{llm.NewUserMessage("hi")},
	})
	require.NoError(t, err)
}
