package discovery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antflydb/raqe/errs"
)

const maxScopeDepth = 5

// call is one recorded step of a filter-method call trace.
type call struct {
	kind     string // where, where_in, where_null, where_not_null, where_between, where_has
	column   string
	op       Operator
	value    any
	low, high any
	relation string
	nested   []call
}

// Recorder is the recording pseudo-builder the Scope Adapter drives in place
// of a host entity's filter method. It never touches a database: it only
// captures the call sequence for later translation into a ScopeSpec.
type Recorder struct {
	depth int
	calls []call
}

// NewRecorder returns a top-level Recorder (depth 0).
func NewRecorder() *Recorder { return &Recorder{} }

// Where records a single column/operator/value predicate.
func (r *Recorder) Where(column string, op Operator, value any) *Recorder {
	r.calls = append(r.calls, call{kind: "where", column: column, op: op, value: value})
	return r
}

// WhereIn records an IN-set predicate.
func (r *Recorder) WhereIn(column string, values []any) *Recorder {
	r.calls = append(r.calls, call{kind: "where_in", column: column, value: values})
	return r
}

// WhereNull records an IS NULL predicate.
func (r *Recorder) WhereNull(column string) *Recorder {
	r.calls = append(r.calls, call{kind: "where_null", column: column})
	return r
}

// WhereNotNull records an IS NOT NULL predicate.
func (r *Recorder) WhereNotNull(column string) *Recorder {
	r.calls = append(r.calls, call{kind: "where_not_null", column: column})
	return r
}

// WhereBetween records a range predicate.
func (r *Recorder) WhereBetween(column string, low, high any) *Recorder {
	r.calls = append(r.calls, call{kind: "where_between", column: column, low: low, high: high})
	return r
}

// WhereHas records a relationship-existence predicate, with a nested
// recorder describing the filter on the related entity. build is invoked
// immediately against a fresh child Recorder one depth deeper. A nesting
// attempt past maxScopeDepth is recorded as a depth_exceeded marker instead
// of running build, so translation reports the over-depth scope as an error
// rather than silently truncating it.
func (r *Recorder) WhereHas(relation, targetLabel string, build func(*Recorder)) *Recorder {
	child := &Recorder{depth: r.depth + 1}
	if build != nil {
		if child.depth <= maxScopeDepth {
			build(child)
		} else {
			child.calls = append(child.calls, call{kind: "depth_exceeded"})
		}
	}
	c := call{kind: "where_has", relation: relation, column: targetLabel, nested: child.calls}
	r.calls = append(r.calls, c)
	return r
}

var scopePrefix = regexp.MustCompile(`^scope`)
var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// NormalizeScopeName strips a leading "scope" prefix and converts the rest
// to snake_case.
func NormalizeScopeName(method string) string {
	name := scopePrefix.ReplaceAllString(method, "")
	name = camelBoundary.ReplaceAllString(name, "${1}_${2}")
	return strings.ToLower(name)
}

// TranslateScope runs record against a fresh top-level Recorder and
// translates the captured call trace into a ScopeSpec.
func TranslateScope(startLabel string, record func(*Recorder)) (ScopeSpec, error) {
	r := NewRecorder()
	record(r)
	return translateCalls(startLabel, r.calls, 0)
}

func translateCalls(startLabel string, calls []call, depth int) (ScopeSpec, error) {
	if depth > maxScopeDepth {
		return nil, fmt.Errorf("scope translation exceeded max depth %d", maxScopeDepth)
	}
	if len(calls) == 0 {
		return nil, errs.New(errs.Configuration, "empty filter trace")
	}
	if len(calls) == 1 {
		return translateOne(startLabel, calls[0], depth)
	}
	children := make([]ScopeSpec, 0, len(calls))
	for _, c := range calls {
		spec, err := translateOne(startLabel, c, depth)
		if err != nil {
			return nil, err
		}
		children = append(children, spec)
	}
	return MultiCondition{Op: BoolAnd, Children: children}, nil
}

func translateOne(startLabel string, c call, depth int) (ScopeSpec, error) {
	switch c.kind {
	case "where":
		if err := CheckIdentifier(c.column); err != nil {
			return nil, err
		}
		return PropertyFilter{Property: c.column, Operator: c.op, Value: c.value}, nil
	case "where_in":
		if err := CheckIdentifier(c.column); err != nil {
			return nil, err
		}
		return PropertyFilter{Property: c.column, Operator: OpIn, Value: c.value}, nil
	case "where_null":
		if err := CheckIdentifier(c.column); err != nil {
			return nil, err
		}
		return PropertyFilter{Property: c.column, Operator: OpIsNull}, nil
	case "where_not_null":
		if err := CheckIdentifier(c.column); err != nil {
			return nil, err
		}
		return PropertyFilter{Property: c.column, Operator: OpIsNotNull}, nil
	case "where_between":
		if err := CheckIdentifier(c.column); err != nil {
			return nil, err
		}
		return PropertyRange{Property: c.column, Low: c.low, High: c.high, Inclusive: true}, nil
	case "depth_exceeded":
		return nil, fmt.Errorf("scope translation exceeded max depth %d", maxScopeDepth)
	case "where_has":
		if err := CheckIdentifier(c.relation); err != nil {
			return nil, err
		}
		if err := CheckIdentifier(c.column); err != nil {
			return nil, err
		}
		step := TraversalStep{Relationship: c.relation, TargetLabel: c.column, Direction: DirOutgoing}
		traversal := RelationshipTraversal{StartLabel: startLabel, Path: []TraversalStep{step}}
		if len(c.nested) > 0 {
			nestedSpec, err := translateCalls(c.column, c.nested, depth+1)
			if err != nil {
				return nil, err
			}
			if pf, ok := nestedSpec.(PropertyFilter); ok {
				traversal.Filter = &TraversalFilter{TargetLabel: c.column, Property: pf.Property, Operator: pf.Operator, Value: pf.Value}
			}
		}
		return traversal, nil
	default:
		return nil, fmt.Errorf("unrecognized filter call kind %q", c.kind)
	}
}
