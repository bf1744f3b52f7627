// Package retriever implements the Semantic Context Retriever:
// given a question, it assembles a ContextBundle from independent sources,
// absorbing partial collaborator failure into the bundle's errors list
// rather than aborting.
package retriever

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
	"github.com/antflydb/raqe/resilience"
)

// SimilarRecord is one entry of ContextBundle.Similar.
type SimilarRecord struct {
	Question string
	Query    string
	Score    float64
	Metadata map[string]any
}

// DetectedScope is one entry of EntityMetadata.DetectedScopes.
type DetectedScope struct {
	Entity   string
	Spec     discovery.ScopeSpec
	Concept  string
	Rules    []string
	Examples []string
}

// EntityMetadata is ContextBundle.EntityMetadata.
type EntityMetadata struct {
	DetectedEntities []string
	EntityConfigs    map[string]*discovery.NodeableConfig
	DetectedScopes   map[string]DetectedScope
}

// ContextBundle is the Retriever's output, additively carrying
// RetrievalCoverage.
type ContextBundle struct {
	Question          string
	QuestionEmbedding []float32
	Similar           []SimilarRecord
	GraphSchema       collab.GraphSchema
	ExamplesByLabel   map[string][]collab.Row
	EntityMetadata    EntityMetadata
	RetrievalCoverage float64
	Errors            []string
}

// Options tunes RetrieveContext.
type Options struct {
	SimilarityK         int
	SimilarityThreshold float64
	ExamplesPerLabel    int
	HistoryCollection   string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{SimilarityK: 5, SimilarityThreshold: 0.7, ExamplesPerLabel: 3, HistoryCollection: "query_history"}
}

// Retriever assembles ContextBundles.
type Retriever struct {
	graph    collab.GraphStore
	vector   collab.VectorStore
	embedder collab.Embedder
	configs  func() map[string]*discovery.NodeableConfig
	logger   *zap.Logger

	embedBreaker  *resilience.CircuitBreaker
	vectorBreaker *resilience.CircuitBreaker
	graphBreaker  *resilience.CircuitBreaker
	retryCfg      resilience.RetryConfig
}

// New builds a Retriever. configs returns the live set of known entity
// configurations (by label) at call time.
func New(graph collab.GraphStore, vector collab.VectorStore, embedder collab.Embedder, configs func() map[string]*discovery.NodeableConfig, retryCfg resilience.RetryConfig, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		graph: graph, vector: vector, embedder: embedder, configs: configs, logger: logger,
		embedBreaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "embedder"}, logger),
		vectorBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "vector_store"}, logger),
		graphBreaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "graph_store"}, logger),
		retryCfg:      retryCfg,
	}
}

// RetrieveContext assembles the bundle: screen, embed, similarity search,
// schema fetch, example rows, entity detection, identifier validation.
func (r *Retriever) RetrieveContext(ctx context.Context, question string, opts Options) (ContextBundle, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return ContextBundle{}, errs.New(errs.InvalidInput, "question must not be empty")
	}

	bundle := ContextBundle{
		Question:        q,
		ExamplesByLabel: map[string][]collab.Row{},
		EntityMetadata: EntityMetadata{
			EntityConfigs:  map[string]*discovery.NodeableConfig{},
			DetectedScopes: map[string]DetectedScope{},
		},
	}

	if screen := ScreenQuestion(q); screen != "" {
		bundle.Errors = append(bundle.Errors, screen)
	}

	embedding, err := r.embed(ctx, q)
	if err != nil {
		bundle.Errors = append(bundle.Errors, "embedding failed: "+err.Error())
	} else {
		bundle.QuestionEmbedding = embedding
	}

	if embedding != nil {
		similar, err := r.searchSimilar(ctx, embedding, opts)
		if err != nil {
			bundle.Errors = append(bundle.Errors, "similarity search failed: "+err.Error())
		} else {
			bundle.Similar = similar
		}
	}

	schema, err := r.fetchSchema(ctx)
	if err != nil {
		bundle.Errors = append(bundle.Errors, "schema fetch failed: "+err.Error())
	} else {
		bundle.GraphSchema = sanitizeSchema(schema, &bundle.Errors)
	}

	for _, label := range bundle.GraphSchema.Labels {
		rows, err := r.exampleRows(ctx, label, opts.ExamplesPerLabel)
		if err != nil {
			bundle.Errors = append(bundle.Errors, "examples for "+label+" failed: "+err.Error())
			continue
		}
		bundle.ExamplesByLabel[label] = sanitizeRows(rows, &bundle.Errors)
	}

	bundle.EntityMetadata = detectEntityMetadata(q, r.configsSnapshot())
	bundle.RetrievalCoverage = retrievalCoverage(bundle)

	return bundle, nil
}

func (r *Retriever) configsSnapshot() map[string]*discovery.NodeableConfig {
	if r.configs == nil {
		return nil
	}
	return r.configs()
}

func (r *Retriever) embed(ctx context.Context, question string) ([]float32, error) {
	var out []float32
	err := resilience.Retry(ctx, r.retryCfg, func(ctx context.Context) error {
		return r.embedBreaker.Execute(ctx, func(ctx context.Context) error {
			v, err := r.embedder.Embed(ctx, question)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Retriever) searchSimilar(ctx context.Context, embedding []float32, opts Options) ([]SimilarRecord, error) {
	k := opts.SimilarityK
	if k <= 0 {
		k = 5
	}
	var matches []collab.SimilarityMatch
	err := resilience.Retry(ctx, r.retryCfg, func(ctx context.Context) error {
		return r.vectorBreaker.Execute(ctx, func(ctx context.Context) error {
			m, err := r.vector.Search(ctx, opts.HistoryCollection, embedding, k, nil, opts.SimilarityThreshold)
			if err != nil {
				return err
			}
			matches = m
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	records := make([]SimilarRecord, 0, len(matches))
	for _, m := range matches {
		question, _ := m.Payload["question"].(string)
		query, _ := m.Payload["query"].(string)
		records = append(records, SimilarRecord{Question: question, Query: query, Score: m.Score, Metadata: m.Payload})
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Score > records[j].Score })
	return records, nil
}

func (r *Retriever) fetchSchema(ctx context.Context) (collab.GraphSchema, error) {
	var schema collab.GraphSchema
	err := resilience.Retry(ctx, r.retryCfg, func(ctx context.Context) error {
		return r.graphBreaker.Execute(ctx, func(ctx context.Context) error {
			s, err := r.graph.GetSchema(ctx)
			if err != nil {
				return err
			}
			schema = s
			return nil
		})
	})
	return schema, err
}

func sanitizeSchema(schema collab.GraphSchema, warnings *[]string) collab.GraphSchema {
	out := collab.GraphSchema{}
	for _, l := range schema.Labels {
		if discovery.ValidIdentifier(l) {
			out.Labels = append(out.Labels, l)
		} else {
			*warnings = append(*warnings, "discarded unsafe label from schema")
		}
	}
	for _, rel := range schema.Relationships {
		if discovery.ValidIdentifier(rel) {
			out.Relationships = append(out.Relationships, rel)
		} else {
			*warnings = append(*warnings, "discarded unsafe relationship from schema")
		}
	}
	for _, p := range schema.Properties {
		if discovery.ValidIdentifier(p) {
			out.Properties = append(out.Properties, p)
		} else {
			*warnings = append(*warnings, "discarded unsafe property from schema")
		}
	}
	return out
}

// sanitizeRows drops example-row columns whose names fail identifier
// validation, since column names flow into downstream prompts the same way
// schema identifiers do.
func sanitizeRows(rows []collab.Row, warnings *[]string) []collab.Row {
	out := make([]collab.Row, 0, len(rows))
	for _, row := range rows {
		clean := collab.Row{}
		for col, v := range row {
			if !discovery.ValidIdentifier(col) {
				*warnings = append(*warnings, "discarded unsafe column name from example rows")
				continue
			}
			clean[col] = v
		}
		out = append(out, clean)
	}
	return out
}

func (r *Retriever) exampleRows(ctx context.Context, label string, perLabel int) ([]collab.Row, error) {
	if perLabel <= 0 {
		perLabel = 3
	}
	query := "example_rows"
	var rows []collab.Row
	err := resilience.Retry(ctx, r.retryCfg, func(ctx context.Context) error {
		return r.graphBreaker.Execute(ctx, func(ctx context.Context) error {
			res, err := r.graph.Query(ctx, query, map[string]any{"label": label, "limit": perLabel})
			if err != nil {
				return err
			}
			rows = res
			return nil
		})
	})
	return rows, err
}

func wholeWordMatch(question, term string) bool {
	if term == "" {
		return false
	}
	lowerQ := strings.ToLower(question)
	lowerT := strings.ToLower(term)
	idx := 0
	for {
		pos := strings.Index(lowerQ[idx:], lowerT)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(lowerT)
		beforeOK := start == 0 || !isWordChar(lowerQ[start-1])
		afterOK := end == len(lowerQ) || !isWordChar(lowerQ[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// DetectEntityMetadata scans question against configs the way
// RetrieveContext's step 6 does, for callers that want the entity/scope
// detection alone.
func DetectEntityMetadata(question string, configs map[string]*discovery.NodeableConfig) EntityMetadata {
	return detectEntityMetadata(question, configs)
}

func detectEntityMetadata(question string, configs map[string]*discovery.NodeableConfig) EntityMetadata {
	meta := EntityMetadata{EntityConfigs: map[string]*discovery.NodeableConfig{}, DetectedScopes: map[string]DetectedScope{}}
	detected := map[string]bool{}

	for label, cfg := range configs {
		matched := wholeWordMatch(question, label)
		for _, alias := range cfg.Semantics.Aliases {
			if wholeWordMatch(question, alias) {
				matched = true
			}
		}
		for name := range cfg.Semantics.Scopes {
			if wholeWordMatch(question, name) {
				matched = true
			}
		}
		if matched {
			detected[label] = true
			meta.EntityConfigs[label] = cfg
		}
		for name, spec := range cfg.Semantics.Scopes {
			if wholeWordMatch(question, name) {
				prose := discovery.ScopeProse(spec)
				meta.DetectedScopes[name] = DetectedScope{Entity: label, Spec: spec, Concept: prose.Concept, Rules: prose.BusinessRules, Examples: prose.Examples}
				detected[label] = true
				meta.EntityConfigs[label] = cfg
			}
		}
	}

	for label := range detected {
		meta.DetectedEntities = append(meta.DetectedEntities, label)
	}
	sort.Strings(meta.DetectedEntities)
	return meta
}

// retrievalCoverage implements the supplemented deterministic retrieval
// self-check: the fraction of detected entities that
// appear in at least one similar record's stored query text.
func retrievalCoverage(bundle ContextBundle) float64 {
	if len(bundle.EntityMetadata.DetectedEntities) == 0 || len(bundle.Similar) == 0 {
		return 0
	}
	covered := 0
	for _, label := range bundle.EntityMetadata.DetectedEntities {
		for _, s := range bundle.Similar {
			if wholeWordMatch(s.Query, label) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(bundle.EntityMetadata.DetectedEntities))
}
