package modelclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/aphchrisc/policypulse/internal/legislation"
	"github.com/aphchrisc/policypulse/internal/logging"
)

// OpenAIClient implements Client against the Chat Completions API with
// strict JSON-schema structured outputs, grounded on manifold's
// internal/llm/openai.Client.Chat (sdk.ChatCompletionNewParams construction,
// ensureStrictJSONSchema usage) but trimmed to the single-shot,
// non-streaming, non-tool-calling shape this domain needs.
type OpenAIClient struct {
	sdk     sdk.Client
	model   string
	vision  bool
	log     logging.Logger
}

// NewOpenAIClient builds an OpenAIClient. model is the chat-completions
// model name (e.g. "gpt-4o"); vision must be true only for models that
// accept PDF/image input parts.
func NewOpenAIClient(apiKey, model string, vision bool, log logging.Logger) *OpenAIClient {
	if log == nil {
		log = logging.Noop{}
	}
	return &OpenAIClient{
		sdk:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		vision: vision,
		log:    log,
	}
}

func (c *OpenAIClient) SupportsVision() bool { return c.vision }

func (c *OpenAIClient) StructuredCompletion(ctx context.Context, prompt, text string, schema map[string]any) (legislation.StructuredAnalysis, error) {
	params := c.baseParams(schema)
	params.Messages = []sdk.ChatCompletionMessageParamUnion{
		sdk.SystemMessage(prompt),
		sdk.UserMessage(text),
	}
	return c.complete(ctx, params)
}

func (c *OpenAIClient) StructuredCompletionWithPdf(ctx context.Context, prompt string, pdfBytes []byte, schema map[string]any) (legislation.StructuredAnalysis, error) {
	if !c.vision {
		return legislation.StructuredAnalysis{}, &legislation.ContentProcessingError{Reason: "model does not support PDF input"}
	}
	dataURL := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdfBytes)

	params := c.baseParams(schema)
	params.Messages = []sdk.ChatCompletionMessageParamUnion{
		sdk.SystemMessage(prompt),
		sdk.UserMessage([]sdk.ChatCompletionContentPartUnionParam{
			{
				OfFile: &sdk.ChatCompletionContentPartFileParam{
					File: sdk.ChatCompletionContentPartFileFileParam{
						FileData: sdk.String(dataURL),
						Filename: sdk.String("bill.pdf"),
					},
				},
			},
		}),
	}
	return c.complete(ctx, params)
}

func (c *OpenAIClient) baseParams(schema map[string]any) sdk.ChatCompletionNewParams {
	strict := ensureStrictJSONSchema(schema)
	return sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(c.model),
		ResponseFormat: sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "bill_impact_analysis",
					Schema: strict,
					Strict: sdk.Bool(true),
				},
			},
		},
	}
}

func (c *OpenAIClient) complete(ctx context.Context, params sdk.ChatCompletionNewParams) (legislation.StructuredAnalysis, error) {
	comp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		c.log.Error("openai_structured_completion_error", map[string]any{"model": c.model, "error": err.Error()})
		return legislation.StructuredAnalysis{}, &legislation.ApiError{Source: "openai", StatusCode: statusCodeFromOpenAI(err), Message: err.Error(), Err: err}
	}
	if len(comp.Choices) == 0 {
		return legislation.StructuredAnalysis{}, &legislation.ApiError{Source: "openai", Message: "empty choices"}
	}
	content := comp.Choices[0].Message.Content
	analysis, ok := RecoverJSON(content)
	if !ok {
		return legislation.StructuredAnalysis{}, &legislation.ApiError{Source: "openai", Message: fmt.Sprintf("unrecoverable JSON: %.200s", content)}
	}
	return analysis, nil
}

// statusCodeFromOpenAI extracts the HTTP status from the SDK's error type so
// ApiError.Retryable can classify 429/5xx as transient, matching spec.md
// §4.7's "distinguish rate-limit vs transient vs fatal". Errors the SDK
// didn't attach a status to (e.g. network failures before a response) are
// reported as 0, which ApiError.Retryable treats as terminal.
func statusCodeFromOpenAI(err error) int {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
