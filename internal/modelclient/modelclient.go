// Package modelclient defines the structured-completion contract
// AnalysisEngine depends on (spec.md §4.7) plus OpenAI and Anthropic
// adapters implementing it.
package modelclient

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/aphchrisc/policypulse/internal/legislation"
)

// Client is the contract consumed by AnalysisEngine. A single
// implementation is injected per process; PolicyPulse never fans a single
// analysis out across multiple model providers.
type Client interface {
	// SupportsVision reports whether StructuredCompletionWithPdf is safe to
	// call. AnalysisEngine treats this as a static capability flag fixed at
	// construction, per spec.md §9's "vision supported" guidance.
	SupportsVision() bool

	// StructuredCompletion asks the model to analyze text and return JSON
	// matching schema. prompt carries the bill metadata (title, number) the
	// template needs.
	StructuredCompletion(ctx context.Context, prompt string, text string, schema map[string]any) (legislation.StructuredAnalysis, error)

	// StructuredCompletionWithPdf is the vision-capable variant: pdfBytes is
	// attached as a base64 document part instead of inlined text.
	StructuredCompletionWithPdf(ctx context.Context, prompt string, pdfBytes []byte, schema map[string]any) (legislation.StructuredAnalysis, error)
}

// ensureStrictJSONSchema recursively forces additionalProperties:false on
// every object schema node, matching manifold's internal/llm/openai
// ensureStrictJSONSchema helper (both OpenAI structured outputs and
// Anthropic's tool-based JSON mode require this for strict validation).
func ensureStrictJSONSchema(in any) any {
	switch v := in.(type) {
	case map[string]any:
		if v["type"] == "object" || v["properties"] != nil || v["required"] != nil {
			v["additionalProperties"] = false
			if _, hasType := v["type"]; !hasType && v["properties"] != nil {
				v["type"] = "object"
			}
		}
		if props, ok := v["properties"].(map[string]any); ok {
			for k, child := range props {
				props[k] = ensureStrictJSONSchema(child)
			}
		}
		if items, ok := v["items"]; ok {
			v["items"] = ensureStrictJSONSchema(items)
		}
		return v
	case []any:
		for i, child := range v {
			v[i] = ensureStrictJSONSchema(child)
		}
		return v
	default:
		return in
	}
}

var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")
	braceSpanPattern   = regexp.MustCompile(`(?s)\{.*\}`)
)

// RecoverJSON attempts, in order: direct unmarshal, unmarshal of the
// content inside a fenced ```json code block, and unmarshal of the widest
// `{...}` span in the text. This is the "recovery attempts in order" ladder
// named in spec.md §8's boundary behaviors; when all three fail, the
// adapters in this package return an *legislation.ApiError.
func RecoverJSON(raw string) (legislation.StructuredAnalysis, bool) {
	var out legislation.StructuredAnalysis

	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, true
	}

	if m := fencedJSONPattern.FindStringSubmatch(raw); m != nil {
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, true
		}
	}

	if m := braceSpanPattern.FindString(raw); m != "" {
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, true
		}
	}

	return legislation.StructuredAnalysis{}, false
}

// IsInsufficientText reports whether the model's summary carries the
// sentinel marker instructed in the prompt template (spec.md §4.10 step 5b).
func IsInsufficientText(a legislation.StructuredAnalysis) bool {
	return strings.Contains(a.Summary, legislation.InsufficientTextMarker)
}

// BuildPrompt composes the instruction prefix sent ahead of the bill text
// or PDF attachment, carrying the bill's identifying metadata so the model
// can reference it in key points and the summary.
func BuildPrompt(title, billNumber string) string {
	var b strings.Builder
	b.WriteString("Analyze the following legislative bill text for public health, local government, ")
	b.WriteString("economic, environmental, education, and infrastructure impacts. ")
	b.WriteString("Bill: ")
	b.WriteString(billNumber)
	b.WriteString(" - ")
	b.WriteString(title)
	b.WriteString(". Respond with JSON matching the provided schema. ")
	b.WriteString("If the provided text is too short or sparse to support analysis, ")
	b.WriteString("set summary to \"")
	b.WriteString(legislation.InsufficientTextMarker)
	b.WriteString("\" and leave other fields at their zero values.")
	return b.String()
}
