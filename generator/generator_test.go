package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
	"github.com/antflydb/raqe/retriever"
)

type fakeLLM struct {
	jsonResponses []map[string]any
	call          int
	textResponse  string
}

func (f *fakeLLM) Complete(ctx context.Context, prompt, system string, opts collab.CompletionOptions) (string, error) {
	return f.textResponse, nil
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, prompt string, schema any, out any) error {
	target := out.(*map[string]any)
	resp := f.jsonResponses[f.call]
	if f.call < len(f.jsonResponses)-1 {
		f.call++
	}
	*target = resp
	return nil
}

func (f *fakeLLM) Stream(ctx context.Context, messages []string, onToken func(collab.StreamToken)) error {
	onToken(collab.StreamToken{Done: true})
	return nil
}

func bundleWithLabels(labels ...string) retriever.ContextBundle {
	return retriever.ContextBundle{
		GraphSchema:     collab.GraphSchema{Labels: labels, Properties: []string{"id", "name", "active"}},
		ExamplesByLabel: map[string][]collab.Row{},
		EntityMetadata: retriever.EntityMetadata{
			EntityConfigs:  map[string]*discovery.NodeableConfig{},
			DetectedScopes: map[string]retriever.DetectedScope{},
		},
	}
}

func TestGenerateQueryUsesTemplateShortcut(t *testing.T) {
	llm := &fakeLLM{}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person", "Team")

	artifact, err := g.GenerateQuery(context.Background(), "list all persons", bundle, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "list_all", artifact.Metadata.TemplateUsed)
	assert.Contains(t, artifact.QueryText, "MATCH (n:Person)")
	assert.Contains(t, artifact.QueryText, "LIMIT")
	assert.Equal(t, 0.9, artifact.Confidence)
	assert.Equal(t, 0, llm.call)
}

func TestGenerateQueryFallsBackToLLMWhenNoTemplateMatches(t *testing.T) {
	llm := &fakeLLM{jsonResponses: []map[string]any{
		{"query_text": "MATCH (n:Person) WHERE n.active = $value RETURN n LIMIT 100"},
	}}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person")

	artifact, err := g.GenerateQuery(context.Background(), "who are the active volunteers on staff", bundle, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, artifact.Metadata.TemplateUsed)
	assert.Contains(t, artifact.QueryText, "MATCH (n:Person)")
	assert.Equal(t, 0.7, artifact.Confidence)
}

func TestGenerateQueryUsesSemanticBranchWhenScopeDetected(t *testing.T) {
	llm := &fakeLLM{jsonResponses: []map[string]any{
		{"query_text": "MATCH (n:Person)-[:HAS_ROLE]->(r:PersonTeam) WHERE r.role_type = $value RETURN n LIMIT 100"},
	}}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person")
	bundle.GraphSchema.Labels = append(bundle.GraphSchema.Labels, "PersonTeam")
	bundle.GraphSchema.Relationships = []string{"HAS_ROLE"}
	bundle.GraphSchema.Properties = append(bundle.GraphSchema.Properties, "role_type")
	bundle.EntityMetadata.DetectedScopes["volunteers"] = retriever.DetectedScope{
		Entity:  "Person",
		Concept: "active volunteer roster",
		Rules:   []string{"role_type must equal volunteer"},
		Spec: discovery.PropertyFilter{
			Property: "role_type", Operator: discovery.OpEquals, Value: "volunteer",
		},
	}

	artifact, err := g.GenerateQuery(context.Background(), "show me the volunteers", bundle, DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, artifact.QueryText, "HAS_ROLE")
}

func TestGenerateQueryRejectsWriteKeywordsWithoutAllowWrite(t *testing.T) {
	llm := &fakeLLM{jsonResponses: []map[string]any{
		{"query_text": "MATCH (n:Person) DELETE n"},
		{"query_text": "MATCH (n:Person) DELETE n"},
		{"query_text": "MATCH (n:Person) DELETE n"},
		{"query_text": "MATCH (n:Person) DELETE n"},
	}}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person")
	opts := DefaultOptions()
	opts.MaxRetries = 1

	_, err := g.GenerateQuery(context.Background(), "clean up old people", bundle, opts)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.UnsafeQuery))
}

func TestTemplateCapturesValueAsStructuralParam(t *testing.T) {
	llm := &fakeLLM{}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person")

	artifact, err := g.GenerateQuery(context.Background(), "find persons where name = Ada", bundle, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "find_by_property", artifact.Metadata.TemplateUsed)
	assert.Contains(t, artifact.QueryText, "$value")
	assert.NotContains(t, artifact.QueryText, "Ada")
	assert.Equal(t, "Ada", artifact.Params["value"])
}

func TestGenerateQueryRejectsOverComplexQuery(t *testing.T) {
	llm := &fakeLLM{jsonResponses: []map[string]any{
		{"query_text": "MATCH (a)-[*1..]-(b), (c:Person) RETURN a, b, c"},
	}}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person")
	opts := DefaultOptions()
	opts.MaxRetries = 0
	opts.MaxComplexity = 10

	_, err := g.GenerateQuery(context.Background(), "find everything connected to everything", bundle, opts)
	require.Error(t, err)
}

func TestGenerateQueryInjectsRowCapWhenMissing(t *testing.T) {
	llm := &fakeLLM{jsonResponses: []map[string]any{
		{"query_text": "MATCH (n:Person) RETURN n"},
	}}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person")

	artifact, err := g.GenerateQuery(context.Background(), "find people who joined recently", bundle, DefaultOptions())
	require.NoError(t, err)
	assert.Contains(t, artifact.QueryText, "LIMIT 100")
}

func TestGenerateQueryEmptyQuestionIsInvalidInput(t *testing.T) {
	llm := &fakeLLM{}
	g := New(llm, nil)
	bundle := bundleWithLabels("Person")

	_, err := g.GenerateQuery(context.Background(), "   ", bundle, DefaultOptions())
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedReadQuery(t *testing.T) {
	report, err := Validate("MATCH (n:Person) WHERE n.active = $value RETURN n LIMIT 10", map[string]bool{"Person": true, "active": true}, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Warnings)
}

func TestSanitizeLeavesExistingLimitAlone(t *testing.T) {
	q := Sanitize("MATCH (n:Person) RETURN n LIMIT 5", 100)
	assert.Equal(t, "MATCH (n:Person) RETURN n LIMIT 5", q)
}

func TestComplexityScorePenalizesUnboundedPaths(t *testing.T) {
	score := ComplexityScore("MATCH (a)-[*..]-(b) RETURN a, b LIMIT 10")
	assert.GreaterOrEqual(t, score, 40)
}
