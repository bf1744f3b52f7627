// Package coordinator implements the Dual-Store Coordinator: it
// applies create/update/delete of a single entity, or a batch, to both the
// graph store and the vector store with compensating rollback on failure,
// and it exposes an auto-sync hook driven by an event source.
package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
	"github.com/antflydb/raqe/resilience"
)

// IngestReport is the outcome of a single ingest/sync call.
type IngestReport struct {
	Label        string
	ID           string
	GraphStored  bool
	VectorStored bool
	Warnings     []string
}

// BatchOutcome is one entity's outcome within a BatchReport.
type BatchOutcome struct {
	ID    string
	Error error
}

// BatchReport is the outcome of ingest_batch: per-entity isolation, no
// global rollback.
type BatchReport struct {
	Label    string
	Outcomes []BatchOutcome
}

// Coordinator wires the graph store, vector store, and embedder together
// behind the write path: plan, embed, write graph, write vector,
// compensate on failure.
type Coordinator struct {
	graph    collab.GraphStore
	vector   collab.VectorStore
	embedder collab.Embedder
	logger   *zap.Logger

	graphBreaker  *resilience.CircuitBreaker
	vectorBreaker *resilience.CircuitBreaker
	embedBreaker  *resilience.CircuitBreaker
	retryCfg      resilience.RetryConfig

	// limiter smooths this coordinator's own outbound calls to the graph
	// store, vector store, and embedder — a best-effort companion to the
	// circuit breakers, not a substitute for host-side ingress limiting
	//.
	limiter *resilience.Limiter
}

// New builds a Coordinator. rateLimit.PerSec <= 0 disables outbound rate
// limiting entirely.
func New(graph collab.GraphStore, vector collab.VectorStore, embedder collab.Embedder, retryCfg resilience.RetryConfig, rateLimit resilience.RateLimitConfig, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		graph:         graph,
		vector:        vector,
		embedder:      embedder,
		logger:        logger,
		graphBreaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "graph_store"}, logger),
		vectorBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "vector_store"}, logger),
		embedBreaker:  resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "embedder"}, logger),
		retryCfg:      retryCfg,
		limiter:       resilience.NewLimiter(rateLimit.PerSec, rateLimit.Burst),
	}
}

// plan is the assembled write-path payload: projected node properties,
// resolved outgoing relationships, and the embedding input.
type plan struct {
	label          string
	id             string
	nodeProperties map[string]any
	relationships  []resolvedRelationship
	embedInput     string
	vectorEnabled  bool
}

type resolvedRelationship struct {
	relType     string
	targetLabel string
	targetID    string
}

// validEntityID bounds an entity id as a data value. Ids are bound
// structurally as store parameters, never spliced into query text, so they
// are not held to the identifier regex — UUIDs with hyphens are fine.
func validEntityID(id string) bool {
	if id == "" || len(id) > 255 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x20 || id[i] == 0x7f {
			return false
		}
	}
	return true
}

func buildPlan(entity map[string]any, cfg *discovery.NodeableConfig) (plan, error) {
	id, ok := entity["id"].(string)
	if ok && id != "" {
		if !validEntityID(id) {
			return plan{}, errs.New(errs.InvalidInput, "entity id exceeds bounds or carries control characters")
		}
	} else if _, present := entity["id"]; present {
		return plan{}, errs.New(errs.InvalidInput, "entity id must be a non-empty string")
	} else {
		id = uuid.New().String()
	}

	nodeProps := map[string]any{}
	for _, p := range cfg.Properties {
		if v, ok := entity[p]; ok {
			nodeProps[p] = v
		}
	}

	var rels []resolvedRelationship
	for _, r := range cfg.Relationships {
		fkValue, ok := entity[r.ForeignKey]
		if !ok || fkValue == nil {
			continue
		}
		targetID, ok := fkValue.(string)
		if !ok || targetID == "" {
			continue
		}
		rels = append(rels, resolvedRelationship{relType: r.Type, targetLabel: r.TargetLabel, targetID: targetID})
	}

	p := plan{label: cfg.Label, id: id, nodeProperties: nodeProps, relationships: rels}
	if cfg.Vector.Enabled() {
		var parts []string
		for _, field := range cfg.Vector.EmbedFields {
			if v, ok := entity[field]; ok {
				if s, ok := v.(string); ok {
					s = strings.TrimSpace(s)
					if s != "" {
						parts = append(parts, s)
					}
				}
			}
		}
		p.embedInput = strings.Join(parts, " ")
		p.vectorEnabled = p.embedInput != ""
	}
	return p, nil
}

// Ingest applies a create of a single entity to both stores.
func (c *Coordinator) Ingest(ctx context.Context, entity map[string]any, cfg *discovery.NodeableConfig) (IngestReport, error) {
	return c.write(ctx, entity, cfg)
}

// Sync upserts a single entity into both stores. The write algorithm is
// identical to Ingest: both the graph and vector stores are upserts keyed
// on {label, id}, so an unknown id is treated as a create.
func (c *Coordinator) Sync(ctx context.Context, entity map[string]any, cfg *discovery.NodeableConfig) (IngestReport, error) {
	return c.write(ctx, entity, cfg)
}

func (c *Coordinator) write(ctx context.Context, entity map[string]any, cfg *discovery.NodeableConfig) (IngestReport, error) {
	p, err := buildPlan(entity, cfg)
	if err != nil {
		return IngestReport{}, err
	}
	report := IngestReport{Label: p.label, ID: p.id}

	var embedding []float32
	if p.vectorEnabled {
		embedding, err = c.embed(ctx, p.embedInput)
		if err != nil {
			report.Warnings = append(report.Warnings, "embedding failed: "+err.Error())
		}
	}

	if err := c.writeGraph(ctx, p); err != nil {
		return report, errs.Wrap(errs.GraphWrite, "graph write failed", err)
	}
	report.GraphStored = true

	if p.vectorEnabled && embedding != nil {
		metadata := map[string]any{}
		for _, m := range cfg.Vector.Metadata {
			if v, ok := entity[m]; ok {
				metadata[m] = v
			}
		}
		if err := c.writeVector(ctx, cfg.Vector.Collection, p.id, embedding, metadata); err != nil {
			compErr := c.compensateGraph(ctx, p)
			if compErr != nil {
				c.logger.Error("compensation failed after vector write failure",
					zap.String("label", p.label), zap.String("id", p.id),
					zap.Error(err), zap.Error(compErr))
				return report, errs.Wrap(errs.DataConsistency, "vector write failed and compensation failed: "+err.Error(), compErr)
			}
			report.GraphStored = false
			return report, errs.Wrap(errs.VectorWrite, "vector write failed", err)
		}
		report.VectorStored = true
	}

	return report, nil
}

func (c *Coordinator) embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.Wrap(errs.Embedding, "rate limiter wait canceled", err)
	}
	var out []float32
	err := resilience.Retry(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.embedBreaker.Execute(ctx, func(ctx context.Context) error {
			v, err := c.embedder.Embed(ctx, text)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	if err != nil {
		return nil, errs.Wrap(errs.Embedding, "embedder call failed", err)
	}
	return out, nil
}

func (c *Coordinator) writeGraph(ctx context.Context, p plan) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.GraphWrite, "rate limiter wait canceled", err)
	}
	return resilience.Retry(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.graphBreaker.Execute(ctx, func(ctx context.Context) error {
			if err := c.graph.CreateNode(ctx, p.label, p.id, p.nodeProperties); err != nil {
				return err
			}
			for _, rel := range p.relationships {
				if err := c.graph.CreateEdge(ctx, rel.relType, p.label, p.id, rel.targetLabel, rel.targetID, nil); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (c *Coordinator) writeVector(ctx context.Context, collection, id string, embedding []float32, metadata map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errs.Wrap(errs.VectorWrite, "rate limiter wait canceled", err)
	}
	return resilience.Retry(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.vectorBreaker.Execute(ctx, func(ctx context.Context) error {
			return c.vector.Upsert(ctx, collection, id, embedding, metadata)
		})
	})
}

func (c *Coordinator) compensateGraph(ctx context.Context, p plan) error {
	return c.graphBreaker.Execute(ctx, func(ctx context.Context) error {
		for _, rel := range p.relationships {
			_ = c.graph.DeleteEdge(ctx, rel.relType, p.id, rel.targetID)
		}
		return c.graph.DeleteNode(ctx, p.label, p.id)
	})
}

// Remove deletes an entity from both stores: snapshot, delete vector,
// delete graph, restore vector on graph-delete failure.
func (c *Coordinator) Remove(ctx context.Context, entityID, label string, cfg *discovery.NodeableConfig) (bool, error) {
	if err := discovery.CheckIdentifier(label); err != nil {
		return false, err
	}

	var snapshot *collab.SimilarityMatch
	if cfg != nil && cfg.Vector.Enabled() {
		matches, err := c.vector.Search(ctx, cfg.Vector.Collection, nil, 1, map[string]any{"id": entityID}, 0)
		if err == nil && len(matches) > 0 {
			snapshot = &matches[0]
		}
		if err := c.vector.Delete(ctx, cfg.Vector.Collection, entityID); err != nil {
			return false, errs.Wrap(errs.VectorWrite, "vector delete failed", err)
		}
	}

	if err := c.graph.DeleteNode(ctx, label, entityID); err != nil {
		if snapshot != nil && cfg != nil {
			if restoreErr := c.vector.Upsert(ctx, cfg.Vector.Collection, entityID, snapshot.Vector, snapshot.Payload); restoreErr != nil {
				c.logger.Error("vector restoration failed after graph delete failure",
					zap.String("label", label), zap.String("id", entityID), zap.Error(err), zap.Error(restoreErr))
				return false, errs.Wrap(errs.DataConsistency, "graph delete failed and vector restoration failed", restoreErr)
			}
		}
		return false, errs.Wrap(errs.GraphWrite, "graph delete failed", err)
	}
	return true, nil
}

// IngestBatch ingests entities of a single label (callers pass entities
// already grouped) with one embedding call per batch and per-entity
// isolation. Graph and vector writes are not bulk: each entity gets its
// own node upsert and its own vector upsert.
func (c *Coordinator) IngestBatch(ctx context.Context, entities []map[string]any, cfg *discovery.NodeableConfig) BatchReport {
	report := BatchReport{Label: cfg.Label}

	texts := make([]string, len(entities))
	plans := make([]plan, len(entities))
	planErrs := make([]error, len(entities))
	for i, e := range entities {
		p, err := buildPlan(e, cfg)
		if err != nil {
			planErrs[i] = err
			continue
		}
		plans[i] = p
		if p.vectorEnabled {
			texts[i] = p.embedInput
		}
	}

	var embeddings [][]float32
	if cfg.Vector.Enabled() {
		var err error
		retryErr := resilience.Retry(ctx, c.retryCfg, func(ctx context.Context) error {
			return c.embedBreaker.Execute(ctx, func(ctx context.Context) error {
				embeddings, err = c.embedder.EmbedBatch(ctx, texts)
				return err
			})
		})
		if retryErr != nil {
			c.logger.Warn("batch embedding failed; proceeding with graph-only writes", zap.Error(retryErr))
			embeddings = nil
		}
	}

	for i, e := range entities {
		if planErrs[i] != nil {
			report.Outcomes = append(report.Outcomes, BatchOutcome{Error: planErrs[i]})
			continue
		}
		p := plans[i]
		if err := c.writeGraph(ctx, p); err != nil {
			report.Outcomes = append(report.Outcomes, BatchOutcome{ID: p.id, Error: errs.Wrap(errs.GraphWrite, "graph write failed", err)})
			continue
		}
		if p.vectorEnabled && embeddings != nil && i < len(embeddings) {
			metadata := map[string]any{}
			for _, m := range cfg.Vector.Metadata {
				if v, ok := e[m]; ok {
					metadata[m] = v
				}
			}
			if err := c.writeVector(ctx, cfg.Vector.Collection, p.id, embeddings[i], metadata); err != nil {
				report.Outcomes = append(report.Outcomes, BatchOutcome{ID: p.id, Error: errs.Wrap(errs.VectorWrite, "vector write failed", err)})
				continue
			}
		}
		report.Outcomes = append(report.Outcomes, BatchOutcome{ID: p.id})
	}
	return report
}

// AutoSyncHandler returns a collab.EventSource handler bound to cfg,
// honoring its per-operation sync flags. When
// async is true, events are handed to enqueue instead of processed inline;
// the caller owns dispatch, retries, and dead-lettering.
func (c *Coordinator) AutoSyncHandler(cfgFor func(label string) (*discovery.NodeableConfig, bool), async bool, enqueue func(collab.SyncEvent)) func(collab.SyncEvent) error {
	return func(ev collab.SyncEvent) error {
		cfg, ok := cfgFor(ev.Label)
		if !ok {
			return nil
		}
		switch ev.Operation {
		case collab.SyncCreate:
			if !cfg.AutoSync.Create {
				return nil
			}
		case collab.SyncUpdate:
			if !cfg.AutoSync.Update {
				return nil
			}
		case collab.SyncDelete:
			if !cfg.AutoSync.Delete {
				return nil
			}
		}

		if async {
			enqueue(ev)
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		switch ev.Operation {
		case collab.SyncCreate, collab.SyncUpdate:
			_, err := c.Sync(ctx, ev.Entity, cfg)
			return err
		case collab.SyncDelete:
			id, _ := ev.Entity["id"].(string)
			_, err := c.Remove(ctx, id, cfg.Label, cfg)
			return err
		}
		return nil
	}
}
