package answer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// noConfidenceMarker is what the model is instructed to reply when it cannot
// answer from the election knowledge base. The client maps it to an
// engine-signaled escalation instead of sending it to the participant.
const noConfidenceMarker = "NO_CONFIANZA"

// DefaultSystemPrompt instructs the model to answer only about the
// cooperative's election process.
const DefaultSystemPrompt = "Eres el asistente de la cooperativa para su proceso de elección de delegados. " +
	"Responde en español, de forma breve y cordial, únicamente sobre el proceso electoral " +
	"(calendario, inscripción, votación, candidatos y resultados). " +
	"Si no puedes responder con seguridad, responde exactamente " + noConfidenceMarker + "."

// chatService is the minimal completion surface, extracted for testing.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the OpenAI-backed engine.
type Opts struct {
	APIKey       string
	Model        string
	SystemPrompt string
}

// Option defines a configuration option for the OpenAI-backed engine.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key (overrides $OPENAI_API_KEY).
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = prompt }
}

// Client is an OpenAI-backed answer engine.
type Client struct {
	chat         chatService
	model        string
	systemPrompt string
}

// Compile-time checks: Client implements Engine, and the SDK's completion
// service satisfies chatService through its pointer receiver.
var (
	_ Engine      = (*Client)(nil)
	_ chatService = (*openai.ChatCompletionService)(nil)
)

// NewClient initializes an answer engine, applying any provided options.
// The API key falls back to the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("Answer engine client created", "model", cfg.Model)
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model, systemPrompt: cfg.SystemPrompt}, nil
}

// Answer generates a reply for the participant's question.
func (c *Client) Answer(ctx context.Context, participantID, text string) (Reply, error) {
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(text),
		},
	})
	if err != nil {
		slog.Error("Answer engine request failed", "error", err, "participantID", participantID)
		return Reply{}, fmt.Errorf("answer request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, fmt.Errorf("no choices returned")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return Reply{}, nil
	}
	if strings.Contains(content, noConfidenceMarker) {
		slog.Info("Answer engine signaled low confidence", "participantID", participantID)
		return Reply{Escalate: &Escalation{Reason: "low_confidence", Priority: "medium"}}, nil
	}

	slog.Debug("Answer engine produced reply", "participantID", participantID, "length", len(content))
	return Reply{Text: content}, nil
}
