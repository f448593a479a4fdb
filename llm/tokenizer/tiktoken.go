// Package tokenizer estimates token counts for trace records when the
// upstream response carries no usage block.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/promptgate/promptgate/llm"
)

// modelEncodings maps model-name prefixes to tiktoken encodings.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4.1":       "o200k_base",
	"o1":            "o200k_base",
	"o3":            "o200k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// perMessageOverhead approximates the chat-format framing tokens the
// OpenAI message encoding adds around each message.
const perMessageOverhead = 4

// Estimator counts tokens with a lazily initialized tiktoken encoding.
// Safe for concurrent use.
type Estimator struct {
	model string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewEstimator creates an estimator for the given model name. Unknown
// models fall back to cl100k_base.
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

func (e *Estimator) init() {
	e.once.Do(func() {
		encoding := defaultEncoding
		for prefix, enc := range modelEncodings {
			if strings.HasPrefix(e.model, prefix) {
				encoding = enc
				break
			}
		}
		e.enc, e.initErr = tiktoken.GetEncoding(encoding)
	})
}

// CountText returns the token count of a plain string.
func (e *Estimator) CountText(text string) (int, error) {
	e.init()
	if e.initErr != nil {
		return 0, e.initErr
	}
	return len(e.enc.Encode(text, nil, nil)), nil
}

// CountMessages approximates the prompt-token count of a message list,
// including per-message framing overhead.
func (e *Estimator) CountMessages(msgs []llm.Message) (int, error) {
	e.init()
	if e.initErr != nil {
		return 0, e.initErr
	}
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += len(e.enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(e.enc.Encode(tc.Function.Name, nil, nil))
			total += len(e.enc.Encode(tc.Function.Arguments, nil, nil))
		}
	}
	return total, nil
}
