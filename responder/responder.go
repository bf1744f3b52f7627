// Package responder implements the Response Generator:
// LLM narration over an executed result, plus the deterministic insight and
// visualization-suggestion helpers in insights.go.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/executor"
)

// Options tunes GenerateResponse, mirroring the response_generation
// config section.
type Options struct {
	SampleRows     int
	Format         string
	Style          string
	IncludeDetails bool
}

// DefaultOptions matches the built-in defaults.
func DefaultOptions() Options {
	return Options{SampleRows: 10, Format: "text", Style: "concise", IncludeDetails: false}
}

// Response is GenerateResponse's output.
type Response struct {
	Answer         string
	Insights       Insights
	Visualizations []Visualization
}

// Responder narrates an executed result via an LLM collaborator.
type Responder struct {
	llm    collab.LLM
	logger *zap.Logger
}

// New builds a Responder.
func New(llm collab.LLM, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{llm: llm, logger: logger}
}

// GenerateResponse narrates result in answer to question, computing
// deterministic insights and visualization suggestions alongside the LLM's
// prose. An empty result and an execution error each take their
// own dedicated branch rather than falling through to a generic narration
// prompt.
func (r *Responder) GenerateResponse(ctx context.Context, question string, result executor.Result, execErr error, opts Options) (Response, error) {
	opts = opts.normalized()

	if execErr != nil {
		return Response{Answer: explainFailure(execErr, opts), Insights: Insights{}, Visualizations: nil}, nil
	}

	insights := ExtractInsights(result.Rows)
	visualizations := SuggestVisualizations(result.Rows, insights)

	if len(result.Rows) == 0 && len(result.Nodes) == 0 {
		return Response{
			Answer:         r.explainEmptyResult(ctx, question),
			Insights:       insights,
			Visualizations: visualizations,
		}, nil
	}

	prompt := r.assemblePrompt(question, result, insights, opts)
	answer, err := r.llm.Complete(ctx, prompt, systemPromptFor(opts.Style), collab.CompletionOptions{Temperature: 0.3, MaxTokens: 500})
	if err != nil {
		r.logger.Warn("response narration failed, falling back to a templated summary", zap.Error(err))
		answer = fallbackSummary(question, result, insights)
	}

	return Response{Answer: answer, Insights: insights, Visualizations: visualizations}, nil
}

func (o Options) normalized() Options {
	if o.SampleRows <= 0 {
		o.SampleRows = 10
	}
	if o.Format == "" {
		o.Format = "text"
	}
	if o.Style == "" {
		o.Style = "concise"
	}
	return o
}

func systemPromptFor(style string) string {
	switch style {
	case "technical":
		return "You answer questions about graph query results precisely and technically, citing exact figures and column names."
	case "detailed":
		return "You answer questions about graph query results thoroughly, covering notable rows and patterns."
	default:
		return "You answer questions about graph query results in one or two plain-language sentences."
	}
}

func (r *Responder) assemblePrompt(question string, result executor.Result, insights Insights, opts Options) string {
	var b strings.Builder
	b.WriteString("QUESTION: " + question + "\n\n")
	b.WriteString(fmt.Sprintf("RESULT: %d rows, columns: %s\n", len(result.Rows), strings.Join(result.Columns, ", ")))

	sample := result.Rows
	if len(sample) > opts.SampleRows {
		sample = sample[:opts.SampleRows]
	}
	b.WriteString("SAMPLE ROWS:\n")
	for _, row := range sample {
		b.WriteString("  " + renderRow(row) + "\n")
	}
	if omitted := len(result.Rows) - len(sample); omitted > 0 {
		b.WriteString(fmt.Sprintf("  ... and %d more row(s) not shown.\n", omitted))
	}

	if len(insights.NumericSummaries) > 0 {
		b.WriteString("NUMERIC SUMMARIES:\n")
		for col, s := range insights.NumericSummaries {
			b.WriteString(fmt.Sprintf("  %s: mean=%.2f min=%.2f max=%.2f outliers=%d\n", col, s.Mean, s.Min, s.Max, s.OutlierCount))
		}
	}
	if insights.DateRange != nil {
		b.WriteString(fmt.Sprintf("DATE RANGE (%s): %s to %s\n", insights.DateRange.Column, insights.DateRange.From, insights.DateRange.To))
	}

	b.WriteString("\nAnswer the question using the result above. Do not invent data not present in the rows.\n")
	if opts.IncludeDetails {
		b.WriteString("Include relevant row-level detail in the answer.\n")
	}
	return b.String()
}

// explainEmptyResult asks the LLM for a "no results found" answer with
// possible reasons and alternative phrasings, falling back to a fixed
// sentence when the LLM is unavailable or returns nothing usable.
func (r *Responder) explainEmptyResult(ctx context.Context, question string) string {
	prompt := fmt.Sprintf("The question %q returned no results from the database. In one or two sentences, tell the user no results were found, suggest a likely reason, and offer an alternative way to phrase the question. Start the answer with \"No results\".", question)
	answer, err := r.llm.Complete(ctx, prompt, systemPromptFor("concise"), collab.CompletionOptions{Temperature: 0.3, MaxTokens: 200})
	if err != nil || strings.TrimSpace(answer) == "" {
		if err != nil {
			r.logger.Warn("empty-result narration failed, using the fixed fallback", zap.Error(err))
		}
		return fmt.Sprintf("No results were found for %q. The data may not contain what was asked about, or the question may need rephrasing.", question)
	}
	return answer
}

// renderRow serializes a row for a prompt as compact JSON, matching the
// quoting and types the store reported.
func renderRow(row collab.Row) string {
	encoded, err := sonic.MarshalString(map[string]any(row))
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(row))
	}
	return encoded
}

func fallbackSummary(question string, result executor.Result, insights Insights) string {
	return fmt.Sprintf("Found %d result(s) for %q across columns: %s.", len(result.Rows), question, strings.Join(result.Columns, ", "))
}

// explainFailure produces a user-friendly message for an execution error,
// classifying by keyword and suppressing the
// underlying technical detail unless opts.IncludeDetails is set.
func explainFailure(err error, opts Options) string {
	lower := strings.ToLower(err.Error())
	var summary string
	switch {
	case strings.Contains(lower, "timeout"):
		summary = "The query took too long to run."
	case strings.Contains(lower, "syntax"):
		summary = "There was an issue with the generated query."
	default:
		summary = "An internal issue occurred while answering your question."
	}
	summary += " You could try rephrasing the question or narrowing its scope."
	if opts.IncludeDetails {
		summary += " Details: " + err.Error()
	}
	return summary
}
