package modelclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aphchrisc/policypulse/internal/legislation"
	"github.com/aphchrisc/policypulse/internal/logging"
)

// AnthropicClient implements Client against the Messages API, asking for
// JSON via the system prompt and schema description rather than a native
// structured-output mode (Anthropic's JSON enforcement is instruction-based
// at the time this was written). Grounded on manifold's
// internal/llm/anthropic.Client for the SDK construction/message shape,
// trimmed out of its multi-turn streaming/thinking-block handling since
// PolicyPulse only ever makes single-shot calls.
type AnthropicClient struct {
	sdk    anthropic.Client
	model  string
	vision bool
	log    logging.Logger
}

// NewAnthropicClient builds an AnthropicClient. vision must be true only
// for models that accept PDF document blocks.
func NewAnthropicClient(apiKey, model string, vision bool, log logging.Logger) *AnthropicClient {
	if log == nil {
		log = logging.Noop{}
	}
	return &AnthropicClient{
		sdk:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		vision: vision,
		log:    log,
	}
}

func (c *AnthropicClient) SupportsVision() bool { return c.vision }

func (c *AnthropicClient) StructuredCompletion(ctx context.Context, prompt, text string, schema map[string]any) (legislation.StructuredAnalysis, error) {
	sys := prompt + "\n\nRespond with ONLY a single JSON object matching this schema, no prose: " + schemaHint(schema)
	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: sys}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return legislation.StructuredAnalysis{}, c.wrapErr(err)
	}
	return c.extract(msg)
}

func (c *AnthropicClient) StructuredCompletionWithPdf(ctx context.Context, prompt string, pdfBytes []byte, schema map[string]any) (legislation.StructuredAnalysis, error) {
	if !c.vision {
		return legislation.StructuredAnalysis{}, &legislation.ContentProcessingError{Reason: "model does not support PDF input"}
	}
	sys := prompt + "\n\nRespond with ONLY a single JSON object matching this schema, no prose: " + schemaHint(schema)
	b64 := base64.StdEncoding.EncodeToString(pdfBytes)

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: sys}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{
					Data:      b64,
					MediaType: "application/pdf",
				}),
			),
		},
	})
	if err != nil {
		return legislation.StructuredAnalysis{}, c.wrapErr(err)
	}
	return c.extract(msg)
}

func (c *AnthropicClient) wrapErr(err error) error {
	c.log.Error("anthropic_structured_completion_error", map[string]any{"model": c.model, "error": err.Error()})
	return &legislation.ApiError{Source: "anthropic", StatusCode: statusCodeFromAnthropic(err), Message: err.Error(), Err: err}
}

// statusCodeFromAnthropic mirrors statusCodeFromOpenAI for the Anthropic
// SDK's error type, so ApiError.Retryable can classify 429/5xx as transient.
func statusCodeFromAnthropic(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func (c *AnthropicClient) extract(msg *anthropic.Message) (legislation.StructuredAnalysis, error) {
	var content string
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			content += text
		}
	}
	analysis, ok := RecoverJSON(content)
	if !ok {
		return legislation.StructuredAnalysis{}, &legislation.ApiError{Source: "anthropic", Message: fmt.Sprintf("unrecoverable JSON: %.200s", content)}
	}
	return analysis, nil
}

// schemaHint renders just the top-level property names of schema into a
// short instruction-friendly string; the full schema map isn't sent since
// Anthropic's Messages API doesn't validate against one server-side.
func schemaHint(schema map[string]any) string {
	s, ok := schema["schema"].(map[string]any)
	if !ok {
		return "{}"
	}
	props, ok := s["properties"].(map[string]any)
	if !ok {
		return "{}"
	}
	out := "{"
	first := true
	for k := range props {
		if !first {
			out += ", "
		}
		out += `"` + k + `": ...`
		first = false
	}
	return out + "}"
}
