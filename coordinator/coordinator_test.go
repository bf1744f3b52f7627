package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
	"github.com/antflydb/raqe/resilience"
)

type fakeGraph struct {
	nodes          map[string]map[string]any
	edges          map[string]bool
	failCreateNode bool
	failDeleteNode bool
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{nodes: map[string]map[string]any{}, edges: map[string]bool{}}
}

func key(label, id string) string { return label + ":" + id }

func (g *fakeGraph) Query(context.Context, string, map[string]any) ([]collab.Row, error) { return nil, nil }
func (g *fakeGraph) GetSchema(context.Context) (collab.GraphSchema, error)                { return collab.GraphSchema{}, nil }
func (g *fakeGraph) CreateNode(ctx context.Context, label, id string, props map[string]any) error {
	if g.failCreateNode {
		return errors.New("graph down")
	}
	g.nodes[key(label, id)] = props
	return nil
}
func (g *fakeGraph) UpdateNode(ctx context.Context, label, id string, props map[string]any) error {
	g.nodes[key(label, id)] = props
	return nil
}
func (g *fakeGraph) DeleteNode(ctx context.Context, label, id string) error {
	if g.failDeleteNode {
		return errors.New("delete refused")
	}
	delete(g.nodes, key(label, id))
	return nil
}
func (g *fakeGraph) CreateEdge(ctx context.Context, edgeType, fromLabel, fromID, toLabel, toID string, props map[string]any) error {
	g.edges[edgeType+fromID+toID] = true
	return nil
}
func (g *fakeGraph) DeleteEdge(ctx context.Context, edgeType, fromID, toID string) error {
	delete(g.edges, edgeType+fromID+toID)
	return nil
}

type fakeVector struct {
	points map[string][]float32
	failUpsert bool
}

func newFakeVector() *fakeVector { return &fakeVector{points: map[string][]float32{}} }

func (v *fakeVector) Upsert(ctx context.Context, collection, id string, vec []float32, payload map[string]any) error {
	if v.failUpsert {
		return errors.New("vector down")
	}
	v.points[id] = vec
	return nil
}
func (v *fakeVector) Search(context.Context, string, []float32, int, map[string]any, float64) ([]collab.SimilarityMatch, error) {
	return nil, nil
}
func (v *fakeVector) Delete(ctx context.Context, collection, id string) error {
	delete(v.points, id)
	return nil
}
func (v *fakeVector) CreateCollection(context.Context, string, int) error { return nil }
func (v *fakeVector) Exists(context.Context, string) (bool, error)       { return true, nil }

type fakeEmbedder struct{ fail bool }

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedder down")
	}
	return []float32{1, 2, 3}, nil
}
func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}
func (e *fakeEmbedder) Dimensions() int { return 3 }

func personConfig() *discovery.NodeableConfig {
	return &discovery.NodeableConfig{
		Label:      "Person",
		Properties: []string{"id", "name", "bio"},
		Vector:     discovery.VectorShape{Collection: "people", EmbedFields: []string{"bio"}, Metadata: []string{"id"}},
		AutoSync:   discovery.DefaultAutoSyncFlags(),
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1}
}

func TestIngestWritesGraphAndVector(t *testing.T) {
	g, v := newFakeGraph(), newFakeVector()
	c := New(g, v, &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)

	report, err := c.Ingest(context.Background(), map[string]any{"id": "p1", "name": "Ann", "bio": "loves go"}, personConfig())
	require.NoError(t, err)
	assert.True(t, report.GraphStored)
	assert.True(t, report.VectorStored)
	assert.Contains(t, g.nodes, "Person:p1")
	assert.Contains(t, v.points, "p1")
}

func TestIngestCompensatesGraphOnVectorFailure(t *testing.T) {
	g, v := newFakeGraph(), newFakeVector()
	v.failUpsert = true
	c := New(g, v, &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)

	_, err := c.Ingest(context.Background(), map[string]any{"id": "p1", "name": "Ann", "bio": "loves go"}, personConfig())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.VectorWrite))
	assert.NotContains(t, g.nodes, "Person:p1")
}

func TestIngestMissingIDGeneratesOne(t *testing.T) {
	c := New(newFakeGraph(), newFakeVector(), &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)
	report, err := c.Ingest(context.Background(), map[string]any{"name": "Ann"}, personConfig())
	require.NoError(t, err)
	assert.True(t, report.GraphStored)
	assert.NotEmpty(t, report.ID)
}

func TestIngestRaisesDataConsistencyWhenCompensationAlsoFails(t *testing.T) {
	g, v := newFakeGraph(), newFakeVector()
	v.failUpsert = true
	g.failDeleteNode = true
	c := New(g, v, &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)

	_, err := c.Ingest(context.Background(), map[string]any{"id": "p1", "bio": "loves go"}, personConfig())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DataConsistency))
}

func TestIngestAcceptsUUIDStyleID(t *testing.T) {
	g := newFakeGraph()
	c := New(g, newFakeVector(), &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)
	report, err := c.Ingest(context.Background(), map[string]any{"id": "550e8400-e29b-41d4-a716-446655440000", "name": "Ann"}, personConfig())
	require.NoError(t, err)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", report.ID)
	assert.Contains(t, g.nodes, "Person:550e8400-e29b-41d4-a716-446655440000")
}

func TestIngestEmptyIDIsInvalidInput(t *testing.T) {
	c := New(newFakeGraph(), newFakeVector(), &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)
	_, err := c.Ingest(context.Background(), map[string]any{"id": "", "name": "Ann"}, personConfig())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.InvalidInput))
}

func TestRemoveDeletesVectorBeforeGraph(t *testing.T) {
	g, v := newFakeGraph(), newFakeVector()
	v.points["p1"] = []float32{1, 2, 3}
	g.nodes["Person:p1"] = map[string]any{"id": "p1"}
	c := New(g, v, &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)

	ok, err := c.Remove(context.Background(), "p1", "Person", personConfig())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotContains(t, v.points, "p1")
	assert.NotContains(t, g.nodes, "Person:p1")
}

func TestIngestBatchIsolatesPerEntityFailures(t *testing.T) {
	g, v := newFakeGraph(), newFakeVector()
	c := New(g, v, &fakeEmbedder{}, fastRetry(), resilience.RateLimitConfig{}, nil)

	entities := []map[string]any{
		{"id": "p1", "bio": "a"},
		{"id": "", "name": "invalid empty id"},
	}
	report := c.IngestBatch(context.Background(), entities, personConfig())
	require.Len(t, report.Outcomes, 2)
	assert.NoError(t, report.Outcomes[0].Error)
	assert.Error(t, report.Outcomes[1].Error)
}
