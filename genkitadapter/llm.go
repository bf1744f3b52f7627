// Package genkitadapter adapts a Genkit model into the collab.LLM contract
// the RAQE core consumes, the same way antfly-genkit wraps an ai.Model
// behind genkit.GenerateData for structured output. It is a collaborator
// implementation, not part of the core: the core only ever sees collab.LLM.
package genkitadapter

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/antflydb/raqe/collab"
)

// LLM wraps a genkit instance and a resolved model behind collab.LLM.
type LLM struct {
	g     *genkit.Genkit
	model ai.Model
}

// New builds an LLM collaborator from a configured genkit instance and
// model, mirroring antfly-genkit's GenerateQueries signature.
func New(g *genkit.Genkit, model ai.Model) *LLM {
	return &LLM{g: g, model: model}
}

// Complete implements collab.LLM.Complete via genkit.Generate.
func (l *LLM) Complete(ctx context.Context, prompt, system string, opts collab.CompletionOptions) (string, error) {
	genOpts := []ai.GenerateOption{
		ai.WithModel(l.model),
		ai.WithPrompt("%s", prompt),
		ai.WithConfig(map[string]any{"temperature": opts.Temperature, "max_tokens": opts.MaxTokens}),
	}
	if system != "" {
		genOpts = append(genOpts, ai.WithSystem(system))
	}

	resp, err := genkit.Generate(ctx, l.g, genOpts...)
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}

// CompleteJSON implements collab.LLM.CompleteJSON via genkit.GenerateData,
// the structured-output helper antfly-genkit's query generator uses for its
// own QueryPlan type. schema is accepted for interface-compatibility with
// callers that want to pass a JSON schema description; genkit derives the
// schema from out's Go type instead, which is the pattern the teacher uses.
func (l *LLM) CompleteJSON(ctx context.Context, prompt string, schema any, out any) error {
	switch target := out.(type) {
	case *map[string]any:
		data, _, err := genkit.GenerateData[map[string]any](ctx, l.g, ai.WithModel(l.model), ai.WithPrompt("%s", prompt))
		if err != nil {
			return fmt.Errorf("genkit generate data: %w", err)
		}
		*target = *data
		return nil
	default:
		return fmt.Errorf("genkitadapter: unsupported CompleteJSON output type %T", out)
	}
}

// Stream implements collab.LLM.Stream via genkit's streaming generate
// option.
func (l *LLM) Stream(ctx context.Context, messages []string, onToken func(collab.StreamToken)) error {
	prompt := ""
	for _, m := range messages {
		prompt += m + "\n"
	}
	_, err := genkit.Generate(ctx, l.g,
		ai.WithModel(l.model),
		ai.WithPrompt("%s", prompt),
		ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			onToken(collab.StreamToken{Text: chunk.Text()})
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("genkit stream: %w", err)
	}
	onToken(collab.StreamToken{Done: true})
	return nil
}
