// Package executor implements the Executor & Response Generator's query
// side: timeout and row-cap enforcement, a read-only guard, and
// pagination, shaping a collab.GraphStore's raw rows into a presentable
// result.
package executor

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antflydb/raqe/collab"
	"github.com/antflydb/raqe/errs"
)

const (
	defaultTimeout  = 30 * time.Second
	maxTimeout      = 120 * time.Second
	defaultLimit    = 100
	defaultMaxLimit = 1000
)

var writeKeywords = []string{"delete", "remove", "drop", "create", "merge", "set", "detach"}

// Options tunes every executor operation, mirroring the query_execution
// config section.
type Options struct {
	Timeout      time.Duration
	Limit        int
	MaxLimit     int
	ReadOnly     bool
	Format       string
	IncludeStats bool
}

// DefaultOptions matches the built-in defaults.
func DefaultOptions() Options {
	return Options{Timeout: defaultTimeout, Limit: defaultLimit, MaxLimit: defaultMaxLimit, ReadOnly: true, Format: "table", IncludeStats: true}
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Timeout > maxTimeout {
		o.Timeout = maxTimeout
	}
	if o.Limit <= 0 {
		o.Limit = defaultLimit
	}
	if o.MaxLimit <= 0 {
		o.MaxLimit = defaultMaxLimit
	}
	if o.Limit > o.MaxLimit {
		o.Limit = o.MaxLimit
	}
	if o.Format == "" {
		o.Format = "table"
	}
	return o
}

// Stats is Result.Stats, populated only when Options.IncludeStats is set.
type Stats struct {
	ExecutionMs  int64
	RowsReturned int
}

// Result is the shaped output of Execute/ExecuteCount/ExecutePaginated.
// Rows/Columns are populated for "table" and "json" formats; Nodes/Edges
// are populated for "graph" format.
type Result struct {
	Rows    []collab.Row
	Columns []string
	Nodes   []GraphNode
	Edges   []GraphEdge
	Format  string
	Stats   *Stats
}

// PaginatedResult is ExecutePaginated's output; rows/total/page/per_page/
// last_page always agree. Rows/Nodes/Edges follow the same per-format
// shaping as Result.
type PaginatedResult struct {
	Rows     []collab.Row
	Nodes    []GraphNode
	Edges    []GraphEdge
	Total    int
	Page     int
	PerPage  int
	LastPage int
}

// Executor runs validated query text against a GraphStore.
type Executor struct {
	graph  collab.GraphStore
	logger *zap.Logger
}

// New builds an Executor.
func New(graph collab.GraphStore, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{graph: graph, logger: logger}
}

// Execute runs queryText with params under a timeout, row cap, and
// read-only guard, returning a shaped Result.
func (e *Executor) Execute(ctx context.Context, queryText string, params map[string]any, opts Options) (Result, error) {
	opts = opts.normalized()
	if err := guardReadOnly(queryText, opts.ReadOnly); err != nil {
		return Result{}, err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	rows, err := e.graph.Query(ctx, withRowCap(queryText, opts.Limit), params)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errs.Wrap(errs.QueryTimeout, "query execution timed out", ctx.Err())
		}
		return Result{}, errs.Wrap(errs.QueryExecution, "query execution failed", err)
	}

	shapedRows, nodes, edges, err := shape(rows, opts.Format)
	if err != nil {
		return Result{}, errs.Wrap(errs.QueryExecution, "result shaping failed", err)
	}

	result := Result{Rows: shapedRows, Columns: columnsOf(rows), Nodes: nodes, Edges: edges, Format: opts.Format}
	if opts.IncludeStats {
		result.Stats = &Stats{ExecutionMs: time.Since(start).Milliseconds(), RowsReturned: len(rows)}
	}
	return result, nil
}

// ExecuteCount runs queryText rewritten as a count projection and returns
// the scalar count.
func (e *Executor) ExecuteCount(ctx context.Context, queryText string, params map[string]any, opts Options) (int, error) {
	opts = opts.normalized()
	if err := guardReadOnly(queryText, opts.ReadOnly); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	rows, err := e.graph.Query(ctx, asCountQuery(queryText), params)
	if err != nil {
		if ctx.Err() != nil {
			return 0, errs.Wrap(errs.QueryTimeout, "count query timed out", ctx.Err())
		}
		return 0, errs.Wrap(errs.QueryExecution, "count query failed", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		if n, ok := toInt(v); ok {
			return n, nil
		}
	}
	return 0, nil
}

// ExecutePaginated runs queryText with a skip/limit window plus an
// auxiliary count query, guaranteeing rows/total/page/per_page/last_page
// agree.
func (e *Executor) ExecutePaginated(ctx context.Context, queryText string, params map[string]any, page, perPage int, opts Options) (PaginatedResult, error) {
	opts = opts.normalized()
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = opts.Limit
	}
	if perPage > opts.MaxLimit {
		perPage = opts.MaxLimit
	}

	total, err := e.ExecuteCount(ctx, queryText, params, opts)
	if err != nil {
		return PaginatedResult{}, err
	}

	skip := (page - 1) * perPage
	windowed := withSkipLimit(queryText, skip, perPage)

	ctx2, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	rows, err := e.graph.Query(ctx2, windowed, params)
	if err != nil {
		if ctx2.Err() != nil {
			return PaginatedResult{}, errs.Wrap(errs.QueryTimeout, "paginated query timed out", ctx2.Err())
		}
		return PaginatedResult{}, errs.Wrap(errs.QueryExecution, "paginated query failed", err)
	}

	lastPage := 1
	if perPage > 0 {
		lastPage = (total + perPage - 1) / perPage
		if lastPage < 1 {
			lastPage = 1
		}
	}

	shapedRows, nodes, edges, err := shape(rows, opts.Format)
	if err != nil {
		return PaginatedResult{}, errs.Wrap(errs.QueryExecution, "result shaping failed", err)
	}

	return PaginatedResult{Rows: shapedRows, Nodes: nodes, Edges: edges, Total: total, Page: page, PerPage: perPage, LastPage: lastPage}, nil
}

// Explain applies the read-only guard and returns queryText with an
// EXPLAIN prefix. It sends nothing to the store, so no execution plan is
// returned.
func (e *Executor) Explain(ctx context.Context, queryText string, opts Options) (string, error) {
	opts = opts.normalized()
	if err := guardReadOnly(queryText, opts.ReadOnly); err != nil {
		return "", err
	}
	return "EXPLAIN " + strings.TrimSpace(queryText), nil
}

// Test runs queryText against a one-row dry window, surfacing syntax or
// schema errors without pulling real data volume.
func (e *Executor) Test(ctx context.Context, queryText string, opts Options) error {
	opts = opts.normalized()
	if err := guardReadOnly(queryText, opts.ReadOnly); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	_, err := e.graph.Query(ctx, withRowCap(queryText, 1), nil)
	if err != nil {
		return errs.Wrap(errs.QueryExecution, "test query failed", err)
	}
	return nil
}

func guardReadOnly(queryText string, readOnly bool) error {
	if !readOnly {
		return nil
	}
	lower := strings.ToLower(queryText)
	for _, kw := range writeKeywords {
		if containsWord(lower, kw) {
			return errs.New(errs.ReadOnlyViolation, "query contains write keyword '"+kw+"' in read-only mode")
		}
	}
	return nil
}

func containsWord(lower, word string) bool {
	idx := 0
	for {
		pos := strings.Index(lower[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(lower[start-1])
		afterOK := end == len(lower) || !isWordByte(lower[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

func withRowCap(queryText string, limit int) string {
	if strings.Contains(strings.ToUpper(queryText), "LIMIT") {
		return queryText
	}
	if limit <= 0 {
		return queryText
	}
	return strings.TrimRight(queryText, "; \n") + " LIMIT " + strconv.Itoa(limit)
}

func withSkipLimit(queryText string, skip, limit int) string {
	base := strings.TrimRight(queryText, "; \n")
	if idx := strings.Index(strings.ToUpper(base), " LIMIT "); idx >= 0 {
		base = base[:idx]
	}
	return base + " SKIP " + strconv.Itoa(skip) + " LIMIT " + strconv.Itoa(limit)
}

func asCountQuery(queryText string) string {
	base := strings.TrimRight(queryText, "; \n")
	if idx := strings.Index(strings.ToUpper(base), " RETURN "); idx >= 0 {
		base = base[:idx]
	}
	return base + " RETURN count(*) AS count"
}

func columnsOf(rows []collab.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var cols []string
	for k := range rows[0] {
		if !seen[k] {
			seen[k] = true
			cols = append(cols, k)
		}
	}
	return cols
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
