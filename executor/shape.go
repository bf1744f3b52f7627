package executor

import (
	"github.com/bytedance/sonic"

	"github.com/antflydb/raqe/collab"
)

// GraphNode is one deduplicated vertex in a "graph"-format Result.
type GraphNode struct {
	ID         string
	Label      string
	Properties map[string]any
}

// GraphEdge is one deduplicated relationship in a "graph"-format Result.
type GraphEdge struct {
	ID         string
	Type       string
	FromID     string
	ToID       string
	Properties map[string]any
}

// shape applies per-format result shaping to rows. "table"
// passes flattened rows through unchanged (a store row is already a
// reduced property map); "graph" walks every column looking for
// node-shaped and edge-shaped nested values and dedupes them by id;
// "json" round-trips the rows through sonic to produce the structurally
// faithful generic-JSON conversion the store's native types might not be.
func shape(rows []collab.Row, format string) (tableRows []collab.Row, nodes []GraphNode, edges []GraphEdge, err error) {
	switch format {
	case "graph":
		nodes, edges = shapeGraph(rows)
		return nil, nodes, edges, nil
	case "json":
		jsonRows, err := shapeJSON(rows)
		if err != nil {
			return rows, nil, nil, err
		}
		return jsonRows, nil, nil, nil
	default:
		return rows, nil, nil, nil
	}
}

func shapeJSON(rows []collab.Row) ([]collab.Row, error) {
	if len(rows) == 0 {
		return rows, nil
	}
	encoded, err := sonic.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var normalized []collab.Row
	if err := sonic.Unmarshal(encoded, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

func shapeGraph(rows []collab.Row) ([]GraphNode, []GraphEdge) {
	seenNodes := map[string]bool{}
	seenEdges := map[string]bool{}
	var nodes []GraphNode
	var edges []GraphEdge

	addValue := func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		id, _ := m["id"].(string)
		if id == "" {
			return
		}
		if typ, ok := m["type"].(string); ok {
			fromID, _ := m["from_id"].(string)
			toID, _ := m["to_id"].(string)
			if seenEdges[id] {
				return
			}
			seenEdges[id] = true
			edges = append(edges, GraphEdge{ID: id, Type: typ, FromID: fromID, ToID: toID, Properties: propertiesOf(m)})
			return
		}
		if seenNodes[id] {
			return
		}
		seenNodes[id] = true
		label, _ := m["label"].(string)
		nodes = append(nodes, GraphNode{ID: id, Label: label, Properties: propertiesOf(m)})
	}

	for _, row := range rows {
		rowHasNestedEntity := false
		for _, v := range row {
			if _, ok := v.(map[string]any); ok {
				addValue(v)
				rowHasNestedEntity = true
			}
		}
		if rowHasNestedEntity {
			continue
		}
		// No nested node/edge columns: treat the row itself as a node
		// keyed by its own id property, the common shape for a plain
		// "MATCH (n) RETURN n.*"-style projection.
		id, _ := row["id"].(string)
		if id == "" || seenNodes[id] {
			continue
		}
		seenNodes[id] = true
		label, _ := row["label"].(string)
		nodes = append(nodes, GraphNode{ID: id, Label: label, Properties: propertiesOf(row)})
	}

	return nodes, edges
}

func propertiesOf(m map[string]any) map[string]any {
	if props, ok := m["properties"].(map[string]any); ok {
		return props
	}
	out := map[string]any{}
	for k, v := range m {
		switch k {
		case "id", "label", "type", "from_id", "to_id":
			continue
		default:
			out[k] = v
		}
	}
	return out
}
