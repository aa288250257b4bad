package gemini

import (
	"context"
	"fmt"
	"iter"
	"time"

	"chat-gateway-be/pkg/llm"

	"google.golang.org/genai"
)

// ModelAlias is the generic name clients send when they do not care which
// hosted model answers.
const ModelAlias = "gemini"

// ContentGenerator is the subset of *genai.Models used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

type GeminiProvider struct {
	generator ContentGenerator
	ModelName string
}

// Ensure GeminiProvider implements Backend
var _ llm.Backend = &GeminiProvider{}

func NewGeminiProvider(ctx context.Context, apiKey, modelName string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return NewGeminiProviderWithGenerator(client.Models, modelName), nil
}

func NewGeminiProviderWithGenerator(generator ContentGenerator, modelName string) *GeminiProvider {
	return &GeminiProvider{
		generator: generator,
		ModelName: modelName,
	}
}

func (g *GeminiProvider) Kind() llm.Kind {
	return llm.KindCloud
}

func (g *GeminiProvider) Model(requested string) string {
	if requested == "" || requested == ModelAlias {
		return g.ModelName
	}
	return requested
}

func (g *GeminiProvider) Complete(ctx context.Context, req *llm.Request) llm.Outcome {
	model := g.Model(req.Model)
	out := llm.Outcome{Kind: llm.KindCloud, Model: model}

	start := time.Now()
	resp, err := g.generator.GenerateContent(ctx, model, buildContents(req), buildConfig(req))
	out.Latency = time.Since(start)
	if err != nil {
		out.Err = err
		return out
	}

	out.Text = resp.Text()
	return out
}

func (g *GeminiProvider) Stream(ctx context.Context, req *llm.Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for resp, err := range g.generator.GenerateContentStream(ctx, g.Model(req.Model), buildContents(req), buildConfig(req)) {
			if err != nil {
				yield("", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

func buildContents(req *llm.Request) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	if req.Media != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Media.Data, req.Media.MimeType))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// buildConfig maps Params onto a per-call config. The system instruction is
// attached here so the shared client never carries one.
func buildConfig(req *llm.Request) *genai.GenerateContentConfig {
	p := req.Params
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.Temperature)),
		TopP:            genai.Ptr(float32(p.TopP)),
		TopK:            genai.Ptr(float32(p.TopK)),
		MaxOutputTokens: int32(p.MaxTokens),
	}
	if p.FrequencyPenalty != 0 {
		cfg.FrequencyPenalty = genai.Ptr(float32(p.FrequencyPenalty))
	}
	if p.PresencePenalty != 0 {
		cfg.PresencePenalty = genai.Ptr(float32(p.PresencePenalty))
	}
	if p.Stop != "" {
		cfg.StopSequences = []string{p.Stop}
	}
	if p.Seed != nil {
		cfg.Seed = genai.Ptr(int32(*p.Seed))
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	return cfg
}
