package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/config"
	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
)

type fakeGraph struct {
	nodes  map[string]map[string]any
	schema collab.GraphSchema
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{nodes: map[string]map[string]any{}, schema: collab.GraphSchema{
		Labels: []string{"Person"}, Properties: []string{"id", "name", "bio"},
	}}
}

func (g *fakeGraph) Query(ctx context.Context, text string, params map[string]any) ([]collab.Row, error) {
	var rows []collab.Row
	for _, n := range g.nodes {
		rows = append(rows, collab.Row(n))
	}
	return rows, nil
}
func (g *fakeGraph) GetSchema(ctx context.Context) (collab.GraphSchema, error) { return g.schema, nil }
func (g *fakeGraph) CreateNode(ctx context.Context, label, id string, properties map[string]any) error {
	g.nodes[label+"/"+id] = properties
	return nil
}
func (g *fakeGraph) UpdateNode(ctx context.Context, label, id string, properties map[string]any) error {
	g.nodes[label+"/"+id] = properties
	return nil
}
func (g *fakeGraph) DeleteNode(ctx context.Context, label, id string) error {
	delete(g.nodes, label+"/"+id)
	return nil
}
func (g *fakeGraph) CreateEdge(ctx context.Context, edgeType, fromLabel, fromID, toLabel, toID string, properties map[string]any) error {
	return nil
}
func (g *fakeGraph) DeleteEdge(ctx context.Context, edgeType, fromID, toID string) error { return nil }

type fakeVector struct{ points map[string][]float32 }

func (v *fakeVector) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	if v.points == nil {
		v.points = map[string][]float32{}
	}
	v.points[id] = vector
	return nil
}
func (v *fakeVector) Search(ctx context.Context, collection string, vector []float32, k int, filter map[string]any, threshold float64) ([]collab.SimilarityMatch, error) {
	return nil, nil
}
func (v *fakeVector) Delete(ctx context.Context, collection, id string) error {
	delete(v.points, id)
	return nil
}
func (v *fakeVector) CreateCollection(ctx context.Context, collection string, dim int) error {
	return nil
}
func (v *fakeVector) Exists(ctx context.Context, collection string) (bool, error) { return true, nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (fakeEmbedder) Dimensions() int { return 2 }

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, prompt, system string, opts collab.CompletionOptions) (string, error) {
	return "There is 1 person on staff.", nil
}
func (fakeLLM) CompleteJSON(ctx context.Context, prompt string, schema any, out any) error {
	target := out.(*map[string]any)
	*target = map[string]any{"query_text": "MATCH (n:Person) RETURN n LIMIT 100"}
	return nil
}
func (fakeLLM) Stream(ctx context.Context, messages []string, onToken func(collab.StreamToken)) error {
	onToken(collab.StreamToken{Done: true})
	return nil
}

func personConfig() *discovery.NodeableConfig {
	return &discovery.NodeableConfig{
		Label:      "Person",
		Properties: []string{"id", "name", "bio"},
		Semantics:  discovery.Semantics{Aliases: []string{"person", "people"}, Scopes: map[string]discovery.ScopeSpec{}},
		AutoSync:   discovery.DefaultAutoSyncFlags(),
	}
}

func newTestEngine() *Engine {
	graph := newFakeGraph()
	deps := Dependencies{
		Graph:         graph,
		Vector:        &fakeVector{},
		Embedder:      fakeEmbedder{},
		LLM:           fakeLLM{},
		DescriptorFor: func(label string) (discovery.EntityDescriptor, bool) { return discovery.EntityDescriptor{}, false },
		LegacyConfigs: map[string]*discovery.NodeableConfig{"Person": personConfig()},
	}
	return NewEngine(deps, config.Default(), nil, nil)
}

func TestEngineIngestThenGetExampleEntities(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	report, err := e.Ingest(ctx, "Person", map[string]any{"id": "1", "name": "Ada", "bio": "mathematician"})
	require.NoError(t, err)
	assert.True(t, report.GraphStored)

	examples, err := e.GetExampleEntities(ctx, []string{"Person"}, 10)
	require.NoError(t, err)
	assert.Len(t, examples["Person"], 1)
}

func TestEngineGetExampleEntitiesRejectsUnsafeLabel(t *testing.T) {
	e := newTestEngine()
	_, err := e.GetExampleEntities(context.Background(), []string{`Team"; DROP //`}, 10)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InjectionDefense))
}

func TestEngineGetEntityMetadataDetectsEntities(t *testing.T) {
	e := newTestEngine()
	meta, err := e.GetEntityMetadata(context.Background(), "how many people are there?")
	require.NoError(t, err)
	assert.Contains(t, meta.DetectedEntities, "Person")
}

func TestEngineRemoveDeletesEntity(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	_, err := e.Ingest(ctx, "Person", map[string]any{"id": "1", "name": "Ada", "bio": "mathematician"})
	require.NoError(t, err)

	removed, err := e.Remove(ctx, "Person", "1")
	require.NoError(t, err)
	assert.True(t, removed)
}

func TestEngineGenerateQueryUsesTemplate(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	bundle, err := e.RetrieveContext(ctx, "list all persons")
	require.NoError(t, err)

	artifact, err := e.GenerateQuery(ctx, "list all persons", bundle)
	require.NoError(t, err)
	assert.Equal(t, "list_all", artifact.Metadata.TemplateUsed)
}

func TestEngineExecuteQueryRejectsWriteInReadOnlyMode(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.ExecuteQuery(ctx, "MATCH (n:Person) DELETE n", nil)
	require.Error(t, err)
}

func TestEngineAnswerQuestionEndToEnd(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	_, err := e.Ingest(ctx, "Person", map[string]any{"id": "1", "name": "Ada", "bio": "mathematician"})
	require.NoError(t, err)

	out, err := e.AnswerQuestion(ctx, "list all persons")
	require.NoError(t, err)
	assert.NotEmpty(t, out.Response.Answer)
	assert.Equal(t, "list_all", out.Artifact.Metadata.TemplateUsed)
}

func TestEngineValidateAndSanitizeQuery(t *testing.T) {
	e := newTestEngine()
	sanitized := e.SanitizeQuery("MATCH (n:Person) RETURN n")
	assert.Contains(t, sanitized, "LIMIT")

	report, err := e.ValidateQuery(sanitized, map[string]bool{"Person": true})
	require.NoError(t, err)
	assert.True(t, report.Valid)
}
