package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptgate/promptgate/llm"
)

func testProvider(serverURL string) *Provider {
	return New(Config{
		Kind:    llm.KindOpenAI,
		APIKey:  "test-key",
		BaseURL: serverURL,
	}, nil)
}

func testRequest() *llm.MaterializedRequest {
	return &llm.MaterializedRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			llm.NewSystemMessage("You are terse."),
			llm.NewUserMessage("hi"),
		},
		MaxTokens: 64,
	}
}

func TestCompletionSuccess(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}
		}`)
	}))
	defer server.Close()

	resp, err := testProvider(server.URL).Completion(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	// Routing fields never reach the wire.
	assert.NotContains(t, gotBody, "base_url")
	assert.NotContains(t, gotBody, "fallback_policy")
	assert.NotContains(t, gotBody, "stream")

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	assert.Equal(t, llm.KindOpenAI, resp.ProviderKind)
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestCompletionMissingAPIKeyFailsWithoutCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	p := New(Config{Kind: llm.KindOpenAI, BaseURL: server.URL}, nil)
	_, err := p.Completion(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, llm.ClassAuth, llm.ClassOf(err))
	assert.Equal(t, int32(0), calls.Load())
}

func TestCompletionErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		class  llm.ErrorClass
	}{
		{http.StatusUnauthorized, `{"error": {"message": "bad key"}}`, llm.ClassAuth},
		{http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`, llm.ClassRateLimit},
		{http.StatusBadRequest, `{"error": {"message": "unknown field"}}`, llm.ClassInvalidRequest},
		{http.StatusInternalServerError, "upstream exploded", llm.ClassProviderUnavailable},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer server.Close()

			_, err := testProvider(server.URL).Completion(context.Background(), testRequest())
			require.Error(t, err)
			assert.Equal(t, tc.class, llm.ClassOf(err))
		})
	}
}

func TestCompletionEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": "chatcmpl-1", "choices": []}`)
	}))
	defer server.Close()

	_, err := testProvider(server.URL).Completion(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, llm.ClassEmptyResponse, llm.ClassOf(err))
}

func TestCompletionMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id": `)
	}))
	defer server.Close()

	_, err := testProvider(server.URL).Completion(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, llm.ClassSerialization, llm.ClassOf(err))
}

func TestStreamSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"hel", "lo"} {
			fmt.Fprintf(w, "data: {\"id\":\"chatcmpl-s\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"id\":\"chatcmpl-s\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	ch, err := testProvider(server.URL).Stream(context.Background(), testRequest())
	require.NoError(t, err)

	var chunks []llm.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "hel", chunks[0].Choices[0].Delta.Content)
	assert.Equal(t, "lo", chunks[1].Choices[0].Delta.Content)
	assert.Equal(t, llm.FinishStop, chunks[2].Choices[0].FinishReason)
	for _, c := range chunks {
		assert.Nil(t, c.Err)
	}
}

func TestStreamNormalizesFinishReasons(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"end_turn\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	ch, err := testProvider(server.URL).Stream(context.Background(), testRequest())
	require.NoError(t, err)

	chunk := <-ch
	assert.Equal(t, llm.FinishStop, chunk.Choices[0].FinishReason)
	assert.Equal(t, "end_turn", chunk.Choices[0].NativeFinishReason)
	_, open := <-ch
	assert.False(t, open)
}

func TestStreamHTTPErrorBeforeBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "slow down"}}`)
	}))
	defer server.Close()

	_, err := testProvider(server.URL).Stream(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, llm.ClassRateLimit, llm.ClassOf(err))
}

func TestStreamMalformedChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {not json}\n\n")
	}))
	defer server.Close()

	ch, err := testProvider(server.URL).Stream(context.Background(), testRequest())
	require.NoError(t, err)

	chunk := <-ch
	require.NotNil(t, chunk.Err)
	assert.Equal(t, llm.ClassSerialization, chunk.Err.Class)
	_, open := <-ch
	assert.False(t, open)
}

func TestStreamConsumerCancellation(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := testProvider(server.URL).Stream(ctx, testRequest())
	require.NoError(t, err)

	<-ch
	cancel()

	// The producer notices cancellation and closes the channel without
	// emitting a transport error chunk.
	for chunk := range ch {
		assert.Nil(t, chunk.Err)
	}
}

func TestCollapseSystemOnWire(t *testing.T) {
	var gotMessages []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		gotMessages = body.Messages
		fmt.Fprint(w, `{"choices": [{"index": 0, "message": {"role": "assistant", "content": "ok"}, "finish_reason": "stop"}]}`)
	}))
	defer server.Close()

	p := New(Config{
		Kind:           llm.KindAzure,
		APIKey:         "test-key",
		BaseURL:        server.URL,
		CollapseSystem: true,
	}, nil)

	req := &llm.MaterializedRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			llm.NewSystemMessage("a"),
			llm.NewSystemMessage("b"),
			llm.NewUserMessage("hi"),
		},
	}
	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, gotMessages, 2)
	assert.Equal(t, "system", gotMessages[0]["role"])
	assert.Equal(t, "a\n\nb", gotMessages[0]["content"])
	// The caller's request is not mutated by the collapse.
	assert.Len(t, req.Messages, 3)
}
