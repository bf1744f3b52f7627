package generator

import (
	"fmt"

	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/antflydb/raqe/discovery"
)

// RenderScopeFilter renders a ScopeSpec into a bleve query AST. This is never
// executed against an index: it is the intermediate representation the
// Generator's prompt assembly uses to describe a detected scope's filter
// shape precisely, the same role antfly-genkit's buildFilterQuery plays for
// LLM-supplied filter maps.
func RenderScopeFilter(spec discovery.ScopeSpec) (query.Query, error) {
	switch s := spec.(type) {
	case discovery.PropertyFilter:
		return renderPropertyFilter(s)
	case discovery.PropertyRange:
		low, lowOK := toFloat(s.Low)
		high, highOK := toFloat(s.High)
		q := query.NewNumericRangeInclusiveQuery(
			floatPtr(low, lowOK), floatPtr(high, highOK),
			boolPtr(s.Inclusive), boolPtr(s.Inclusive))
		q.SetField(s.Property)
		return q, nil
	case discovery.MultiCondition:
		children := make([]query.Query, 0, len(s.Children))
		for _, c := range s.Children {
			rendered, err := RenderScopeFilter(c)
			if err != nil {
				return nil, err
			}
			children = append(children, rendered)
		}
		if s.Op == discovery.BoolOr {
			return query.NewDisjunctionQuery(children), nil
		}
		return query.NewConjunctionQuery(children), nil
	case discovery.RelationshipTraversal:
		if s.Filter == nil {
			return query.NewMatchAllQuery(), nil
		}
		return renderPropertyFilter(discovery.PropertyFilter{Property: s.Filter.Property, Operator: s.Filter.Operator, Value: s.Filter.Value})
	case discovery.EntityWithRelationship, discovery.EntityWithoutRelationship, discovery.TemporalFilter:
		return query.NewMatchAllQuery(), nil
	default:
		return nil, fmt.Errorf("unrenderable scope variant %T", spec)
	}
}

func renderPropertyFilter(f discovery.PropertyFilter) (query.Query, error) {
	switch f.Operator {
	case discovery.OpEquals:
		q := query.NewTermQuery(fmt.Sprintf("%v", f.Value))
		q.SetField(f.Property)
		return q, nil
	case discovery.OpNotEquals:
		eq := query.NewTermQuery(fmt.Sprintf("%v", f.Value))
		eq.SetField(f.Property)
		return query.NewBooleanQuery(nil, nil, []query.Query{eq}), nil
	case discovery.OpIn:
		values, _ := f.Value.([]any)
		terms := make([]query.Query, 0, len(values))
		for _, v := range values {
			t := query.NewTermQuery(fmt.Sprintf("%v", v))
			t.SetField(f.Property)
			terms = append(terms, t)
		}
		return query.NewDisjunctionQuery(terms), nil
	case discovery.OpContains:
		q := query.NewWildcardQuery(fmt.Sprintf("*%v*", f.Value))
		q.SetField(f.Property)
		return q, nil
	case discovery.OpStartsWith:
		q := query.NewWildcardQuery(fmt.Sprintf("%v*", f.Value))
		q.SetField(f.Property)
		return q, nil
	case discovery.OpGreaterThan, discovery.OpGreaterOrEqual:
		low, _ := toFloat(f.Value)
		q := query.NewNumericRangeInclusiveQuery(&low, nil, boolPtr(f.Operator == discovery.OpGreaterOrEqual), nil)
		q.SetField(f.Property)
		return q, nil
	case discovery.OpLessThan, discovery.OpLessOrEqual:
		high, _ := toFloat(f.Value)
		q := query.NewNumericRangeInclusiveQuery(nil, &high, nil, boolPtr(f.Operator == discovery.OpLessOrEqual))
		q.SetField(f.Property)
		return q, nil
	case discovery.OpIsNull:
		return query.NewMatchNoneQuery(), nil
	case discovery.OpIsNotNull:
		return query.NewMatchAllQuery(), nil
	default:
		return nil, fmt.Errorf("unsupported operator %q", f.Operator)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func floatPtr(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}

func boolPtr(b bool) *bool { return &b }
