package streaming

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/promptgate/promptgate/llm"
)

// Result is what Forward observed: the synthetic final response assembled
// from the chunks and how many chunks reached the sink.
type Result struct {
	// Response accumulates delta contents in arrival order, the first
	// seen upstream id, the last seen usage and the last finish reason.
	// It is non-nil whenever at least one chunk was decoded, including
	// on mid-stream failure (partial accumulation for the trace record).
	Response *llm.ChatResponse

	// Forwarded counts the content chunks delivered to the sink,
	// excluding the terminal sentinel and any error chunk.
	Forwarded int
}

// Multiplexer forwards one adapter stream to one caller sink.
type Multiplexer struct {
	logger *zap.Logger
}

// NewMultiplexer creates a Multiplexer. A nil logger is replaced with a
// no-op.
func NewMultiplexer(logger *zap.Logger) *Multiplexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multiplexer{logger: logger}
}

// Forward drains upstream into sink. On clean end-of-stream it emits
// exactly one terminal sentinel chunk (content "[DONE]", finish reason
// "stop") as the last sink item and returns the accumulated final
// response.
//
// A chunk with Err set before anything was forwarded makes the attempt
// invisible to the sink: Forward returns the error without touching it,
// so the executor can fall back. Once content has been forwarded the
// error chunk is delivered and the stream is over; no fallback applies.
// Forward never calls sink.Finish; the owner of the sink does, once no
// further attempt can produce chunks.
//
// Forward stops reading as soon as the consumer closes the sink or ctx
// is cancelled, even while upstream is silent, so the caller can cancel
// the adapter's connection.
func (m *Multiplexer) Forward(ctx context.Context, upstream <-chan llm.StreamChunk, sink *Sink) (Result, error) {
	var (
		res Result
		acc accumulator
	)

	for {
		var (
			chunk llm.StreamChunk
			open  bool
		)
		select {
		case <-sink.Done():
			res.Response = acc.response()
			return res, ErrSinkClosed
		case <-ctx.Done():
			res.Response = acc.response()
			return res, ctx.Err()
		case chunk, open = <-upstream:
		}
		if !open {
			break
		}

		if chunk.Err != nil {
			if res.Forwarded == 0 {
				res.Response = acc.response()
				return res, chunk.Err
			}
			errChunk := chunk
			if err := sink.Send(ctx, errChunk); err != nil {
				m.logger.Debug("sink gone before error chunk", zap.Error(err))
			}
			res.Response = acc.response()
			return res, chunk.Err
		}

		acc.observe(&chunk)
		if err := sink.Send(ctx, chunk); err != nil {
			// Consumer abandoned the stream: stop reading so the
			// adapter closes its connection, and surface cancellation.
			res.Response = acc.response()
			return res, err
		}
		res.Forwarded++
	}

	// Clean end of stream: terminal sentinel, then the final response.
	final := acc.response()
	if final == nil {
		return res, llm.NewError(llm.ClassEmptyResponse, "stream ended without any chunks")
	}
	sentinel := llm.StreamChunk{
		ID:      final.ID,
		Object:  "chat.completion.chunk",
		Created: final.Created,
		Model:   final.Model,
		Choices: []llm.Choice{{
			Index:        0,
			Delta:        &llm.Message{Role: llm.RoleAssistant, Content: llm.SentinelContent},
			FinishReason: llm.FinishStop,
		}},
	}
	if err := sink.Send(ctx, sentinel); err != nil {
		res.Response = final
		return res, err
	}

	res.Response = final
	return res, nil
}

// accumulator assembles the synthetic final response deterministically:
// deltas concatenate in the order received, the last seen usage wins, the
// first seen upstream id wins.
type accumulator struct {
	id           string
	model        string
	created      int64
	content      string
	role         llm.Role
	toolCalls    []llm.ToolCall
	finishReason string
	nativeFinish string
	usage        *llm.Usage
	seen         bool
}

func (a *accumulator) observe(chunk *llm.StreamChunk) {
	a.seen = true
	if a.id == "" {
		a.id = chunk.ID
	}
	if chunk.Model != "" {
		a.model = chunk.Model
	}
	if a.created == 0 {
		a.created = chunk.Created
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
	for i := range chunk.Choices {
		c := &chunk.Choices[i]
		if c.Index != 0 {
			continue
		}
		if c.Delta != nil {
			if c.Delta.Role != "" {
				a.role = c.Delta.Role
			}
			a.content += c.Delta.Content
			a.toolCalls = append(a.toolCalls, c.Delta.ToolCalls...)
		}
		if c.FinishReason != "" {
			a.finishReason = c.FinishReason
		}
		if c.NativeFinishReason != "" {
			a.nativeFinish = c.NativeFinishReason
		}
	}
}

func (a *accumulator) response() *llm.ChatResponse {
	if !a.seen {
		return nil
	}
	role := a.role
	if role == "" {
		role = llm.RoleAssistant
	}
	finish := a.finishReason
	if finish == "" {
		finish = llm.FinishStop
	}
	created := a.created
	if created == 0 {
		created = time.Now().Unix()
	}
	return &llm.ChatResponse{
		ID:      a.id,
		Object:  "chat.completion",
		Created: created,
		Model:   a.model,
		Choices: []llm.Choice{{
			Index: 0,
			Message: &llm.Message{
				Role:      role,
				Content:   a.content,
				ToolCalls: a.toolCalls,
			},
			FinishReason:       finish,
			NativeFinishReason: a.nativeFinish,
		}},
		Usage: a.usage,
	}
}
