// Package collab declares the collaborator contracts the RAQE core consumes:
// the graph store, the vector store, the embedder, the LLM, and the
// auto-sync event source. The core never imports a concrete driver; hosts
// supply implementations of these interfaces.
package collab

import "context"

// Row is a single graph-store result row: a flat map from column/property
// name to scalar value.
type Row map[string]any

// GraphSchema is the normalized shape returned by GraphStore.GetSchema.
type GraphSchema struct {
	Labels        []string
	Relationships []string
	Properties    []string
}

// Node is a graph-store vertex.
type Node struct {
	ID         string
	Label      string
	Properties map[string]any
}

// Edge is a graph-store relationship instance.
type Edge struct {
	ID         string
	Type       string
	FromID     string
	ToID       string
	Properties map[string]any
}

// GraphStore is the structured-relationship collaborator. Implementations
// must treat text and params as strictly separate: params are bound
// structurally, never interpolated into text by the caller or the store.
type GraphStore interface {
	Query(ctx context.Context, text string, params map[string]any) ([]Row, error)
	GetSchema(ctx context.Context) (GraphSchema, error)
	CreateNode(ctx context.Context, label, id string, properties map[string]any) error
	UpdateNode(ctx context.Context, label, id string, properties map[string]any) error
	DeleteNode(ctx context.Context, label, id string) error
	CreateEdge(ctx context.Context, edgeType, fromLabel, fromID, toLabel, toID string, properties map[string]any) error
	DeleteEdge(ctx context.Context, edgeType, fromID, toID string) error
}

// SimilarityMatch is one hit from VectorStore.Search.
type SimilarityMatch struct {
	ID       string
	Score    float64
	Payload  map[string]any
	Vector   []float32
}

// VectorStore is the semantic-similarity collaborator.
type VectorStore interface {
	Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, k int, filter map[string]any, threshold float64) ([]SimilarityMatch, error)
	Delete(ctx context.Context, collection, id string) error
	CreateCollection(ctx context.Context, collection string, dim int) error
	Exists(ctx context.Context, collection string) (bool, error)
}

// Embedder turns text into fixed-dimensional vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// CompletionOptions tunes a single LLM call.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
}

// StreamToken is one chunk delivered to an LLM.Stream callback.
type StreamToken struct {
	Text string
	Done bool
}

// LLM is the generation collaborator consumed by the Generator and the
// Response Generator.
type LLM interface {
	Complete(ctx context.Context, prompt, system string, opts CompletionOptions) (string, error)
	CompleteJSON(ctx context.Context, prompt string, schema any, out any) error
	Stream(ctx context.Context, messages []string, onToken func(StreamToken)) error
}

// SyncOperation identifies the kind of mutation an auto-sync event carries.
type SyncOperation string

const (
	SyncCreate SyncOperation = "create"
	SyncUpdate SyncOperation = "update"
	SyncDelete SyncOperation = "delete"
)

// SyncEvent is delivered by an EventSource to the Coordinator's auto-sync
// hook.
type SyncEvent struct {
	Operation SyncOperation
	Label     string
	Entity    map[string]any
}

// EventSource feeds auto-sync events to a subscriber. Implementations decide
// delivery semantics (at-least-once is assumed by the core's idempotency
// requirement).
type EventSource interface {
	Subscribe(ctx context.Context, handle func(SyncEvent) error) error
}
