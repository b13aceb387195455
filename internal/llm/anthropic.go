package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ashureev/persona-companion/internal/domain"
)

// DefaultAnthropicModel is used when LLM_MODEL is unset.
const DefaultAnthropicModel = string(anthropic.ModelClaude3_7SonnetLatest)

// defaultAnthropicMaxTokens applies when a request leaves MaxTokens unset;
// the Messages API requires one.
const defaultAnthropicMaxTokens = 1024

const jsonOnlyInstruction = "Respond with a single JSON object and nothing else."

// Anthropic talks to the Anthropic Messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic creates an Anthropic completer. Empty baseURL and model fall back to defaults.
func NewAnthropic(apiKey, baseURL, model string, opts ...option.RequestOption) *Anthropic {
	all := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0), // one attempt, callers fall back on failure
	}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	all = append(all, opts...)

	if model == "" {
		model = DefaultAnthropicModel
	}
	return &Anthropic{
		client: anthropic.NewClient(all...),
		model:  model,
	}
}

// Provider implements Completer.
func (a *Anthropic) Provider() string { return "anthropic" }

// Complete implements Completer.
func (a *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, t := range req.Messages {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\n" + jsonOnlyInstruction)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyCompletion)
	}
	return text.String(), nil
}
