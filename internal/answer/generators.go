package answer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"docqa/internal/summarizer"
)

const systemPrompt = "You are a helpful assistant that answers questions using only the provided context passages. " +
	"If the context does not contain the answer, say that the documents do not cover it. Be concise."

// OpenAIConfig configures an OpenAI-compatible chat completion generator.
type OpenAIConfig struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// OpenAIGenerator answers with a chat completion model. Any server speaking
// the OpenAI chat completions API works through BaseURL.
type OpenAIGenerator struct {
	client      *goopenai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIGenerator creates a chat completion generator.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT4oMini
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	oc := goopenai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &OpenAIGenerator{
		client:      goopenai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name identifies the generator and its model.
func (g *OpenAIGenerator) Name() string { return "openai:" + g.model }

// Generate asks the model to answer question from contexts.
func (g *OpenAIGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: userPrompt(question, contexts)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func userPrompt(question string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(c))
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:")
	return b.String()
}

// ExtractiveGenerator answers offline by quoting the context sentences that
// best match the question.
type ExtractiveGenerator struct {
	summarizer   *summarizer.FrequencySummarizer
	maxSentences int
}

// NewExtractiveGenerator creates an extractive generator returning at most maxSentences sentences.
func NewExtractiveGenerator(s *summarizer.FrequencySummarizer, maxSentences int) *ExtractiveGenerator {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &ExtractiveGenerator{summarizer: s, maxSentences: maxSentences}
}

func (g *ExtractiveGenerator) Name() string { return "extractive" }

func (g *ExtractiveGenerator) Generate(ctx context.Context, question string, contexts []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bodies := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if strings.HasPrefix(c, documentHeader) {
			if _, rest, ok := strings.Cut(c, "\n"); ok {
				c = rest
			} else {
				continue
			}
		}
		bodies = append(bodies, strings.TrimSpace(c))
	}
	return g.summarizer.Focus(strings.Join(bodies, "\n"), question, g.maxSentences), nil
}
