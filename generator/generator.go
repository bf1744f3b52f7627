// Package generator implements the Query Generator & Validator:
// it turns a question and a ContextBundle into a validated, sanitized query,
// shortcutting to a template when one matches and otherwise collaborating
// with an LLM under a bounded validate/retry loop.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
	"github.com/antflydb/raqe/retriever"
)

// Options tunes GenerateQuery, mirroring the query_generation config
// section.
type Options struct {
	AllowWrite    bool
	MaxRetries    int
	Temperature   float64
	Explain       bool
	MaxComplexity int
	DefaultRowCap int
}

// DefaultOptions matches the built-in defaults.
func DefaultOptions() Options {
	return Options{AllowWrite: false, MaxRetries: 3, Temperature: 0.1, Explain: true, MaxComplexity: 100, DefaultRowCap: 100}
}

// Metadata is QueryArtifact.Metadata.
type Metadata struct {
	TemplateUsed string
	RetryCount   int
}

// QueryArtifact is GenerateQuery's result. Params carries
// captured values a template bound as placeholders; they are handed to the
// executor structurally, never spliced into QueryText.
type QueryArtifact struct {
	QueryText   string
	Params      map[string]any
	Explanation string
	Confidence  float64
	Warnings    []string
	Metadata    Metadata
}

// Generator collaborates with an LLM to produce query artifacts.
type Generator struct {
	llm    collab.LLM
	logger *zap.Logger
}

// New builds a Generator.
func New(llm collab.LLM, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{llm: llm, logger: logger}
}

// GenerateQuery runs the full generation pipeline: template
// detection, prompt assembly, LLM collaboration, validation, bounded retry,
// and optional explanation.
func (g *Generator) GenerateQuery(ctx context.Context, question string, bundle retriever.ContextBundle, opts Options) (QueryArtifact, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return QueryArtifact{}, errs.New(errs.InvalidInput, "question must not be empty")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.DefaultRowCap <= 0 {
		opts.DefaultRowCap = 100
	}
	if opts.MaxComplexity <= 0 {
		opts.MaxComplexity = 100
	}

	schemaIdentifiers := schemaIdentifierSet(bundle.GraphSchema)
	artifact := QueryArtifact{}

	if queryText, params, name, ok := matchTemplate(question, bundle.GraphSchema.Labels, opts.DefaultRowCap); ok {
		queryText = Sanitize(queryText, opts.DefaultRowCap)
		report, err := Validate(queryText, schemaIdentifiers, opts)
		if err == nil {
			artifact.QueryText = queryText
			artifact.Params = params
			artifact.Confidence = 0.9
			artifact.Warnings = report.Warnings
			artifact.Metadata = Metadata{TemplateUsed: name}
			if opts.Explain {
				artifact.Explanation = g.explain(ctx, question, queryText)
			}
			return artifact, nil
		}
		g.logger.Warn("template query failed validation, falling back to LLM", zap.String("template", name), zap.Error(err))
	}

	prompt := assemblePrompt(question, bundle, opts)
	queryText, retries, warnings, err := g.generateWithRetry(ctx, prompt, question, schemaIdentifiers, opts)
	if err != nil {
		return QueryArtifact{}, err
	}

	artifact.QueryText = queryText
	artifact.Warnings = warnings
	artifact.Confidence = confidenceFor(0.7, retries, len(warnings))
	artifact.Metadata = Metadata{RetryCount: retries}
	if opts.Explain {
		artifact.Explanation = g.explain(ctx, question, queryText)
	}
	return artifact, nil
}

func (g *Generator) generateWithRetry(ctx context.Context, basePrompt, question string, schemaIdentifiers map[string]bool, opts Options) (string, int, []string, error) {
	prompt := basePrompt
	var lastErr error
	var lastQuery string

	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		queryText, err := g.callLLM(ctx, prompt, opts)
		if err != nil {
			return "", attempt, nil, errs.Wrap(errs.QueryGeneration, "llm query generation failed", err)
		}
		queryText = Sanitize(queryText, opts.DefaultRowCap)

		report, verr := Validate(queryText, schemaIdentifiers, opts)
		if verr == nil {
			return queryText, attempt, report.Warnings, nil
		}

		lastErr = verr
		lastQuery = queryText
		prompt = fmt.Sprintf("%s\n\nThe previous attempt produced:\n%s\n\nThat attempt was rejected: %s\nProduce a corrected query.", basePrompt, lastQuery, verr.Error())
	}

	if errs.Is(lastErr, errs.UnsafeQuery) {
		return "", opts.MaxRetries, nil, lastErr
	}
	return "", opts.MaxRetries, nil, errs.Wrap(errs.QueryGeneration, "query generation exhausted retries", lastErr)
}

func (g *Generator) callLLM(ctx context.Context, prompt string, opts Options) (string, error) {
	var out map[string]any
	if err := g.llm.CompleteJSON(ctx, prompt, nil, &out); err != nil {
		return "", err
	}
	queryText, _ := out["query_text"].(string)
	if strings.TrimSpace(queryText) == "" {
		return "", fmt.Errorf("llm response missing query_text")
	}
	return queryText, nil
}

func (g *Generator) explain(ctx context.Context, question, queryText string) string {
	prompt := fmt.Sprintf("In one or two plain-language sentences, explain what this query does in answer to: %q\n\nQuery:\n%s", question, queryText)
	explanation, err := g.llm.Complete(ctx, prompt, "", collab.CompletionOptions{Temperature: 0.2, MaxTokens: 200})
	if err != nil {
		g.logger.Warn("explanation generation failed", zap.Error(err))
		return ""
	}
	return explanation
}

func confidenceFor(base float64, retries, warnings int) float64 {
	c := base - 0.1*float64(retries) - 0.05*float64(warnings)
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// renderRow serializes a row for a prompt as compact JSON, so the LLM sees
// quoting and types exactly as the store reports them.
func renderRow(row collab.Row) string {
	encoded, err := sonic.MarshalString(map[string]any(row))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(row))
	}
	return encoded
}

// scopeWantsDistinct reports whether spec (or any nested child) is a
// relationship traversal marked distinct.
func scopeWantsDistinct(spec discovery.ScopeSpec) bool {
	switch s := spec.(type) {
	case discovery.RelationshipTraversal:
		return s.Distinct
	case discovery.MultiCondition:
		for _, child := range s.Children {
			if scopeWantsDistinct(child) {
				return true
			}
		}
	}
	return false
}

func schemaIdentifierSet(schema collab.GraphSchema) map[string]bool {
	set := map[string]bool{}
	for _, l := range schema.Labels {
		set[l] = true
	}
	for _, r := range schema.Relationships {
		set[r] = true
	}
	for _, p := range schema.Properties {
		set[p] = true
	}
	return set
}

// assemblePrompt builds one of two prompt shapes: a semantic
// branch when the bundle carries at least one detected scope, and a plain
// branch otherwise.
func assemblePrompt(question string, bundle retriever.ContextBundle, opts Options) string {
	var b strings.Builder
	b.WriteString("You translate a natural-language question into a single read query over a graph database.\n")
	b.WriteString("Respond with a JSON object of the shape {\"query_text\": \"...\"}.\n\n")
	b.WriteString("QUESTION: " + question + "\n\n")

	b.WriteString("SCHEMA:\n")
	b.WriteString("labels: " + strings.Join(bundle.GraphSchema.Labels, ", ") + "\n")
	b.WriteString("relationships: " + strings.Join(bundle.GraphSchema.Relationships, ", ") + "\n")
	b.WriteString("properties: " + strings.Join(bundle.GraphSchema.Properties, ", ") + "\n\n")

	if len(bundle.EntityMetadata.DetectedScopes) > 0 {
		b.WriteString("DETECTED BUSINESS SCOPES:\n")
		needsDistinct := false
		for name, scope := range bundle.EntityMetadata.DetectedScopes {
			b.WriteString("- " + name + " (entity " + scope.Entity + "): " + scope.Concept + "\n")
			for _, rule := range scope.Rules {
				b.WriteString("  rule: " + rule + "\n")
			}
			for _, ex := range scope.Examples {
				b.WriteString("  example: " + ex + "\n")
			}
			if rendered, err := RenderScopeFilter(scope.Spec); err == nil {
				b.WriteString(fmt.Sprintf("  filter shape: %v\n", rendered))
			}
			if scopeWantsDistinct(scope.Spec) {
				needsDistinct = true
				b.WriteString("  note: results for this scope must be DISTINCT.\n")
			}
		}
		if needsDistinct {
			b.WriteString("\nUse DISTINCT in the projection: a detected scope traverses relationships that can match the same entity more than once.\n")
		}
		b.WriteString("\n" + renderPatternLibrary() + "\n")
	} else {
		b.WriteString("SIMILAR PAST QUERIES:\n")
		for _, s := range bundle.Similar {
			b.WriteString("- Q: " + s.Question + "\n  query: " + s.Query + "\n")
		}
		b.WriteString("\n")
	}

	for label, rows := range bundle.ExamplesByLabel {
		b.WriteString(fmt.Sprintf("EXAMPLE ROWS FOR %s (%d):\n", label, len(rows)))
		for _, row := range rows {
			b.WriteString("  " + renderRow(row) + "\n")
		}
	}

	b.WriteString("\nRULES:\n")
	b.WriteString(fmt.Sprintf("- Always include a row-cap clause, default limit %d.\n", opts.DefaultRowCap))
	if !opts.AllowWrite {
		b.WriteString("- This is a read-only query. Never use delete, remove, drop, create, merge, set, or detach.\n")
	}
	b.WriteString("- Only reference labels, relationships, and properties listed in SCHEMA.\n")

	return b.String()
}
