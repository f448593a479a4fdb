package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/promptgate/promptgate/llm"
)

// Render substitutes {{ name }} placeholders in tmpl with values from ctx.
// Missing variables render as the empty string. String values render bare;
// any other JSON value renders as its JSON encoding. An unterminated
// placeholder fails with a Template error.
//
// text/template is deliberately not used here: it renders missing keys as
// "<no value>" and its option set cannot produce the lenient empty-string
// behavior templates rely on.
func Render(tmpl string, ctx map[string]any) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	rest := tmpl
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		rest = rest[open+2:]

		closing := strings.Index(rest, "}}")
		if closing < 0 {
			return "", llm.NewError(llm.ClassTemplate, "unterminated placeholder in template")
		}
		name := strings.TrimSpace(rest[:closing])
		rest = rest[closing+2:]

		if name == "" {
			continue
		}
		val, ok := ctx[name]
		if !ok || val == nil {
			continue
		}
		b.WriteString(renderValue(val))
	}
}

func renderValue(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case json.RawMessage:
		return string(v)
	case float64, int, int64, bool:
		return fmt.Sprint(v)
	default:
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(enc)
	}
}
