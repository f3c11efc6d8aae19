package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"claims-backend/internal/claims"
	"claims-backend/internal/llm"
	"claims-backend/internal/shared/telemetry"
)

// Options configures the OpenAI extractor.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxChars   int
	KnownTypes []string
}

// Client implements llm.Extractor using OpenAI Chat Completions in JSON mode.
type Client struct {
	api        *goopenai.Client
	model      string
	maxChars   int
	knownTypes []string
}

// NewClient constructs a new OpenAI extractor.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = goopenai.GPT4oMini
	}
	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{
		api:        goopenai.NewClientWithConfig(cfg),
		model:      model,
		maxChars:   opts.MaxChars,
		knownTypes: opts.KnownTypes,
	}, nil
}

type extractionPayload struct {
	Fields        claims.Fields         `json:"fields"`
	ReportType    string                `json:"reportType"`
	GapCandidates []claims.GapCandidate `json:"gapCandidates"`
	Confidence    *float64              `json:"confidence"`
}

func (c *Client) Extract(ctx context.Context, input llm.ExtractInput) (llm.Extraction, error) {
	if strings.TrimSpace(input.Text) == "" {
		return llm.Extraction{}, fmt.Errorf("%w: empty document text", llm.ErrUnparseable)
	}
	req := goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: BuildMessages(input, c.knownTypes, c.maxChars),
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0,
	}
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return llm.Extraction{}, classifyAPIError(err)
	}
	telemetry.Info("llm.response", map[string]any{
		"model":             c.model,
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	})
	if len(resp.Choices) == 0 {
		return llm.Extraction{}, fmt.Errorf("openai response missing choices")
	}
	return parseExtraction(resp.Choices[0].Message.Content)
}

func parseExtraction(content string) (llm.Extraction, error) {
	body := llm.StripCodeFence(content)
	if body == "" {
		return llm.Extraction{}, fmt.Errorf("%w: empty model output", llm.ErrUnparseable)
	}
	var payload extractionPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return llm.Extraction{}, fmt.Errorf("%w: %v", llm.ErrUnparseable, err)
	}
	ext := llm.Extraction{
		Fields:        trimFields(payload.Fields),
		GapCandidates: payload.GapCandidates,
		Confidence:    0.9,
	}
	if payload.ReportType != "" {
		ext.ReportType = claims.ParseReportType(payload.ReportType)
	}
	if payload.Confidence != nil {
		ext.Confidence = *payload.Confidence
	}
	return ext, nil
}

func trimFields(f claims.Fields) claims.Fields {
	return claims.Fields{
		ClaimNumber:     strings.TrimSpace(f.ClaimNumber),
		PropertyAddress: strings.TrimSpace(f.PropertyAddress),
		TechnicianName:  strings.TrimSpace(f.TechnicianName),
		DateOfLoss:      strings.TrimSpace(f.DateOfLoss),
		InspectionDate:  strings.TrimSpace(f.InspectionDate),
		InsurerName:     strings.TrimSpace(f.InsurerName),
	}
}

// classifyAPIError marks request-shaped rejections as unparseable so they are
// not retried. Everything else stays retryable.
func classifyAPIError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: openai rejected input: %v", llm.ErrUnparseable, err)
		}
	}
	return fmt.Errorf("openai request: %w", err)
}

var _ llm.Extractor = (*Client)(nil)
