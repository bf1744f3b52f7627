// Package engine is the dependency-injected facade wiring every RAQE
// component to the engine's external operations: ingest, sync,
// remove, retrieve_context, search_similar, get_schema,
// get_example_entities, get_entity_metadata, generate_query,
// validate_query, sanitize_query, execute_query, execute_count,
// execute_paginated, explain_query, test_query, generate_response, and the
// end-to-end answer_question pipeline. It also wraps every operation in an
// OpenTelemetry span and a prometheus observation.
package engine

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/config"
	"github.com/antflydb/raqe/coordinator"
	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
	"github.com/antflydb/raqe/executor"
	"github.com/antflydb/raqe/generator"
	"github.com/antflydb/raqe/resilience"
	"github.com/antflydb/raqe/responder"
	"github.com/antflydb/raqe/retriever"
)

// Dependencies are the collaborators and discovery inputs a host supplies.
// None of these are constructed by the engine: it only wires them.
type Dependencies struct {
	Graph    collab.GraphStore
	Vector   collab.VectorStore
	Embedder collab.Embedder
	LLM      collab.LLM

	// DescriptorFor resolves a host entity's EntityDescriptor by label for
	// derivation (tier 3 of Auto-Discovery). A false second return means
	// the label is unknown to the host.
	DescriptorFor func(label string) (discovery.EntityDescriptor, bool)
	// LegacyConfigs is the tier-2 precedence map.
	LegacyConfigs map[string]*discovery.NodeableConfig
}

// Engine wires discovery, the dual-store coordinator, the context
// retriever, the query generator, the executor, and the response generator
// behind the operation surface.
type Engine struct {
	deps    Dependencies
	cfg     *config.Config
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *Metrics

	cache       *discovery.Cache
	coordinator *coordinator.Coordinator
	retriever   *retriever.Retriever
	generator   *generator.Generator
	executor    *executor.Executor
	responder   *responder.Responder
}

// NewEngine builds an Engine. metrics may be nil to disable observation.
func NewEngine(deps Dependencies, cfg *config.Config, metrics *Metrics, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	retryCfg := resilience.RetryConfig{MaxAttempts: cfg.Resilience.StoreRetryAttempts}
	rateLimit := resilience.RateLimitConfig{PerSec: cfg.Resilience.RateLimitPerSec, Burst: cfg.Resilience.RateLimitBurst}
	cache := discovery.NewCache(cfg.AutoDiscovery.CacheTTL)

	e := &Engine{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer("github.com/antflydb/raqe/engine"),
		metrics: metrics,
		cache:   cache,
	}

	e.coordinator = coordinator.New(deps.Graph, deps.Vector, deps.Embedder, retryCfg, rateLimit, logger)
	e.retriever = retriever.New(deps.Graph, deps.Vector, deps.Embedder, e.configsSnapshot, retryCfg, logger)
	e.generator = generator.New(deps.LLM, logger)
	e.executor = executor.New(deps.Graph, logger)
	e.responder = responder.New(deps.LLM, logger)
	return e
}

func (e *Engine) run(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	e.metrics.observe(operation, time.Since(start).Seconds(), err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ResolveConfig implements the config resolution every other operation
// needs: explicit override > legacy registration > cached derivation,
// memoized in the Cache.
func (e *Engine) ResolveConfig(ctx context.Context, label string) (*discovery.NodeableConfig, error) {
	var cfg *discovery.NodeableConfig
	err := e.run(ctx, "resolve_config", func(ctx context.Context) error {
		var err error
		cfg, err = e.cache.GetOrDiscover(label, func() (*discovery.NodeableConfig, error) {
			if e.deps.DescriptorFor != nil {
				if desc, ok := e.deps.DescriptorFor(label); ok {
					opts := discovery.DeriveOptions{ExcludedFields: e.cfg.AutoDiscovery.ExcludedFields, MaxDepth: e.cfg.AutoDiscovery.MaxDepth}
					return discovery.Discover(desc, e.deps.LegacyConfigs, opts, e.logger)
				}
			}
			if cfg, ok := e.deps.LegacyConfigs[label]; ok {
				if err := cfg.Validate(); err != nil {
					return nil, err
				}
				return cfg, nil
			}
			return nil, errs.New(errs.Configuration, "unknown entity label: "+label)
		})
		return err
	})
	return cfg, err
}

// configsSnapshot is the live set of known entity configurations: every
// legacy registration plus everything discovery has derived so far. The
// retriever's entity detection sees auto-discovered entities through this.
func (e *Engine) configsSnapshot() map[string]*discovery.NodeableConfig {
	out := e.cache.Snapshot()
	for label, cfg := range e.deps.LegacyConfigs {
		if _, ok := out[label]; !ok {
			out[label] = cfg
		}
	}
	return out
}

// Ingest implements the ingest operation.
func (e *Engine) Ingest(ctx context.Context, label string, entity map[string]any) (coordinator.IngestReport, error) {
	var report coordinator.IngestReport
	err := e.run(ctx, "ingest", func(ctx context.Context) error {
		cfg, err := e.ResolveConfig(ctx, label)
		if err != nil {
			return err
		}
		report, err = e.coordinator.Ingest(ctx, entity, cfg)
		return err
	})
	return report, err
}

// IngestBatch implements the ingest_batch operation.
func (e *Engine) IngestBatch(ctx context.Context, label string, entities []map[string]any) (coordinator.BatchReport, error) {
	var report coordinator.BatchReport
	err := e.run(ctx, "ingest_batch", func(ctx context.Context) error {
		cfg, err := e.ResolveConfig(ctx, label)
		if err != nil {
			return err
		}
		report = e.coordinator.IngestBatch(ctx, entities, cfg)
		return nil
	})
	return report, err
}

// Sync implements the sync operation.
func (e *Engine) Sync(ctx context.Context, label string, entity map[string]any) (coordinator.IngestReport, error) {
	var report coordinator.IngestReport
	err := e.run(ctx, "sync", func(ctx context.Context) error {
		cfg, err := e.ResolveConfig(ctx, label)
		if err != nil {
			return err
		}
		report, err = e.coordinator.Sync(ctx, entity, cfg)
		return err
	})
	return report, err
}

// Remove implements the remove operation.
func (e *Engine) Remove(ctx context.Context, label, id string) (bool, error) {
	var removed bool
	err := e.run(ctx, "remove", func(ctx context.Context) error {
		cfg, err := e.ResolveConfig(ctx, label)
		if err != nil {
			return err
		}
		removed, err = e.coordinator.Remove(ctx, id, label, cfg)
		return err
	})
	return removed, err
}

// AutoSyncHandler exposes the coordinator's auto-sync hook, resolving
// configs through this engine's cache.
func (e *Engine) AutoSyncHandler(async bool, enqueue func(collab.SyncEvent)) func(collab.SyncEvent) error {
	return e.coordinator.AutoSyncHandler(func(label string) (*discovery.NodeableConfig, bool) {
		cfg, err := e.ResolveConfig(context.Background(), label)
		if err != nil {
			return nil, false
		}
		return cfg, true
	}, async, enqueue)
}

// RetrieveContext implements the retrieve_context operation.
func (e *Engine) RetrieveContext(ctx context.Context, question string) (retriever.ContextBundle, error) {
	var bundle retriever.ContextBundle
	err := e.run(ctx, "retrieve_context", func(ctx context.Context) error {
		var err error
		bundle, err = e.retriever.RetrieveContext(ctx, question, retriever.DefaultOptions())
		return err
	})
	return bundle, err
}

// SearchSimilar implements the search_similar operation: embed text
// and search collection directly, independent of the full context bundle.
func (e *Engine) SearchSimilar(ctx context.Context, collection, text string, k int) ([]collab.SimilarityMatch, error) {
	var matches []collab.SimilarityMatch
	err := e.run(ctx, "search_similar", func(ctx context.Context) error {
		vec, err := e.deps.Embedder.Embed(ctx, text)
		if err != nil {
			return errs.Wrap(errs.Embedding, "embedding failed", err)
		}
		matches, err = e.deps.Vector.Search(ctx, collection, vec, k, nil, 0)
		return err
	})
	return matches, err
}

// GetSchema implements the get_schema operation.
func (e *Engine) GetSchema(ctx context.Context) (collab.GraphSchema, error) {
	var schema collab.GraphSchema
	err := e.run(ctx, "get_schema", func(ctx context.Context) error {
		var err error
		schema, err = e.deps.Graph.GetSchema(ctx)
		return err
	})
	return schema, err
}

// GetExampleEntities implements the get_example_entities operation.
// Every label is validated before anything reaches the graph store; one bad
// label fails the whole call with no store traffic at all.
func (e *Engine) GetExampleEntities(ctx context.Context, labels []string, perLabel int) (map[string][]collab.Row, error) {
	out := map[string][]collab.Row{}
	err := e.run(ctx, "get_example_entities", func(ctx context.Context) error {
		for _, label := range labels {
			if err := discovery.CheckIdentifier(label); err != nil {
				return err
			}
		}
		for _, label := range labels {
			rows, err := e.deps.Graph.Query(ctx, "example_rows", map[string]any{"label": label, "limit": perLabel})
			if err != nil {
				return err
			}
			out[label] = rows
		}
		return nil
	})
	return out, err
}

// GetEntityMetadata implements the get_entity_metadata operation:
// scan question against every known entity configuration and report the
// detected entities and scopes.
func (e *Engine) GetEntityMetadata(ctx context.Context, question string) (retriever.EntityMetadata, error) {
	var meta retriever.EntityMetadata
	err := e.run(ctx, "get_entity_metadata", func(ctx context.Context) error {
		if strings.TrimSpace(question) == "" {
			return errs.New(errs.InvalidInput, "question must not be empty")
		}
		meta = retriever.DetectEntityMetadata(question, e.configsSnapshot())
		return nil
	})
	return meta, err
}

// GenerateQuery implements the generate_query operation.
func (e *Engine) GenerateQuery(ctx context.Context, question string, bundle retriever.ContextBundle) (generator.QueryArtifact, error) {
	var artifact generator.QueryArtifact
	err := e.run(ctx, "generate_query", func(ctx context.Context) error {
		opts := generator.Options{
			AllowWrite:    e.cfg.QueryGeneration.AllowWrite,
			MaxRetries:    e.cfg.QueryGeneration.MaxRetries,
			Temperature:   e.cfg.QueryGeneration.Temperature,
			Explain:       e.cfg.QueryGeneration.Explain,
			MaxComplexity: e.cfg.QueryGeneration.MaxComplexity,
			DefaultRowCap: e.cfg.QueryGeneration.DefaultRowCap,
		}
		var err error
		artifact, err = e.generator.GenerateQuery(ctx, question, bundle, opts)
		return err
	})
	return artifact, err
}

// ValidateQuery implements the validate_query operation.
func (e *Engine) ValidateQuery(queryText string, schemaIdentifiers map[string]bool) (generator.ValidationReport, error) {
	opts := generator.Options{AllowWrite: e.cfg.QueryGeneration.AllowWrite, MaxComplexity: e.cfg.QueryGeneration.MaxComplexity}
	var report generator.ValidationReport
	err := e.run(context.Background(), "validate_query", func(ctx context.Context) error {
		var err error
		report, err = generator.Validate(queryText, schemaIdentifiers, opts)
		return err
	})
	return report, err
}

// SanitizeQuery implements the sanitize_query operation.
func (e *Engine) SanitizeQuery(queryText string) string {
	var sanitized string
	_ = e.run(context.Background(), "sanitize_query", func(ctx context.Context) error {
		sanitized = generator.Sanitize(queryText, e.cfg.QueryGeneration.DefaultRowCap)
		return nil
	})
	return sanitized
}

func (e *Engine) executorOptions() executor.Options {
	return executor.Options{
		Timeout:      e.cfg.QueryExecution.Timeout,
		Limit:        e.cfg.QueryExecution.Limit,
		MaxLimit:     e.cfg.QueryExecution.MaxLimit,
		ReadOnly:     e.cfg.QueryExecution.ReadOnly,
		Format:       e.cfg.QueryExecution.Format,
		IncludeStats: e.cfg.QueryExecution.IncludeStats,
	}
}

// ExecuteQuery implements the execute_query operation.
func (e *Engine) ExecuteQuery(ctx context.Context, queryText string, params map[string]any) (executor.Result, error) {
	var result executor.Result
	err := e.run(ctx, "execute_query", func(ctx context.Context) error {
		var err error
		result, err = e.executor.Execute(ctx, queryText, params, e.executorOptions())
		return err
	})
	return result, err
}

// ExecuteCount implements the execute_count operation.
func (e *Engine) ExecuteCount(ctx context.Context, queryText string, params map[string]any) (int, error) {
	var count int
	err := e.run(ctx, "execute_count", func(ctx context.Context) error {
		var err error
		count, err = e.executor.ExecuteCount(ctx, queryText, params, e.executorOptions())
		return err
	})
	return count, err
}

// ExecutePaginated implements the execute_paginated operation.
func (e *Engine) ExecutePaginated(ctx context.Context, queryText string, params map[string]any, page, perPage int) (executor.PaginatedResult, error) {
	var result executor.PaginatedResult
	err := e.run(ctx, "execute_paginated", func(ctx context.Context) error {
		var err error
		result, err = e.executor.ExecutePaginated(ctx, queryText, params, page, perPage, e.executorOptions())
		return err
	})
	return result, err
}

// ExplainQuery implements the explain_query operation.
func (e *Engine) ExplainQuery(ctx context.Context, queryText string) (string, error) {
	var explanation string
	err := e.run(ctx, "explain_query", func(ctx context.Context) error {
		var err error
		explanation, err = e.executor.Explain(ctx, queryText, e.executorOptions())
		return err
	})
	return explanation, err
}

// TestQuery implements the test_query operation.
func (e *Engine) TestQuery(ctx context.Context, queryText string) error {
	return e.run(ctx, "test_query", func(ctx context.Context) error {
		return e.executor.Test(ctx, queryText, e.executorOptions())
	})
}

// GenerateResponse implements the generate_response operation.
func (e *Engine) GenerateResponse(ctx context.Context, question string, result executor.Result, execErr error) (responder.Response, error) {
	var resp responder.Response
	err := e.run(ctx, "generate_response", func(ctx context.Context) error {
		opts := responder.Options{
			SampleRows:     e.cfg.ResponseGeneration.SampleRows,
			Format:         e.cfg.ResponseGeneration.Format,
			Style:          e.cfg.ResponseGeneration.Style,
			IncludeDetails: e.cfg.ResponseGeneration.IncludeDetails,
		}
		var err error
		resp, err = e.responder.GenerateResponse(ctx, question, result, execErr, opts)
		return err
	})
	return resp, err
}

// AnswerResult is AnswerQuestion's end-to-end output, bundling every
// intermediate artifact a caller might want to inspect or log.
type AnswerResult struct {
	Bundle   retriever.ContextBundle
	Artifact generator.QueryArtifact
	Result   executor.Result
	Response responder.Response
}

// AnswerQuestion implements the end-to-end answer_question pipeline:
// retrieve context, generate a query, execute it, and narrate the result.
// A failure while generating or executing the query still produces a
// narrated Response via the responder's dedicated error branch rather than
// propagating raw; a retrieval failure (such as an empty question) and a
// failure of the responder itself are returned as errors.
func (e *Engine) AnswerQuestion(ctx context.Context, question string) (AnswerResult, error) {
	var out AnswerResult
	err := e.run(ctx, "answer_question", func(ctx context.Context) error {
		bundle, err := e.RetrieveContext(ctx, question)
		if err != nil {
			return err
		}
		out.Bundle = bundle

		artifact, err := e.GenerateQuery(ctx, question, bundle)
		if err != nil {
			resp, respErr := e.GenerateResponse(ctx, question, executor.Result{}, err)
			if respErr != nil {
				return respErr
			}
			out.Response = resp
			return nil
		}
		out.Artifact = artifact

		result, execErr := e.ExecuteQuery(ctx, artifact.QueryText, artifact.Params)
		out.Result = result

		resp, err := e.GenerateResponse(ctx, question, result, execErr)
		if err != nil {
			return err
		}
		out.Response = resp
		return nil
	})
	return out, err
}
