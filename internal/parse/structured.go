package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/your-org/scanforge/internal/plan"
	"github.com/your-org/scanforge/internal/state"
)

// Structured first validates the output as JSON (a whole document or one
// object per line). When valid, pattern rules run against flattened
// "path: value" field lines; when invalid, it degrades to plain pattern
// extraction over the raw text. Degradation is never a hard failure.
type Structured struct {
	pattern *Pattern
}

// NewStructured builds the validated-structured strategy.
func NewStructured(rules []*plan.Pattern) *Structured {
	return &Structured{pattern: NewPattern(rules)}
}

func (s *Structured) Extract(ctx context.Context, task string, stdout []string) ([]state.Finding, error) {
	fields, ok := decode(stdout)
	if !ok {
		return s.pattern.Extract(ctx, task, stdout)
	}
	return s.pattern.Extract(ctx, task, fields)
}

// decode accepts either a single JSON document spanning the whole output or
// JSON-lines, returning flattened field lines. ok is false when neither
// form parses.
func decode(stdout []string) ([]string, bool) {
	joined := strings.TrimSpace(strings.Join(stdout, "\n"))
	if joined == "" {
		return nil, false
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(joined), &doc); err == nil {
		return flatten("", doc), true
	}

	// JSON-lines: every non-empty line must parse on its own.
	var fields []string
	any := false
	for _, line := range stdout {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var obj interface{}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			return nil, false
		}
		any = true
		fields = append(fields, flatten("", obj)...)
	}
	return fields, any
}

// flatten renders a decoded document as sorted "path: value" lines so the
// per-line pattern rules can address nested fields.
func flatten(prefix string, v interface{}) []string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, flatten(join(prefix, k), val[k])...)
		}
		return out
	case []interface{}:
		var out []string
		for i, item := range val {
			out = append(out, flatten(fmt.Sprintf("%s[%d]", prefix, i), item)...)
		}
		return out
	default:
		return []string{fmt.Sprintf("%s: %v", prefix, val)}
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
