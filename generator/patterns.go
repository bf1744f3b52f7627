package generator

// Pattern is one named, parameterized abstract query shape in the pattern
// library. The library never produces query
// text itself: it is rendered into the prompt so the LLM has concrete
// reusable building blocks to instantiate.
type Pattern struct {
	Name        string
	Description string
	Parameters  []string
}

// patternLibrary is the read-only catalog rendered into the semantic-branch
// prompt.
var patternLibrary = []Pattern{
	{
		Name:        "property_filter",
		Description: "Match nodes of a label whose property compares to a value with a given operator.",
		Parameters:  []string{"label", "property", "operator", "value"},
	},
	{
		Name:        "property_range",
		Description: "Match nodes of a label whose property falls within a low/high range.",
		Parameters:  []string{"label", "property", "low", "high", "inclusive"},
	},
	{
		Name:        "relationship_traversal",
		Description: "Traverse one or more typed edges from a starting label to a target label, optionally filtering the target.",
		Parameters:  []string{"start_label", "path", "target_filter", "distinct"},
	},
	{
		Name:        "entity_with_aggregated_relationship",
		Description: "Match nodes of a label that have at least (or at most) N edges of a given relationship type to a target label.",
		Parameters:  []string{"label", "relationship", "target_label", "min_count", "max_count"},
	},
	{
		Name:        "entity_without_relationship",
		Description: "Match nodes of a label that have no edge of a given relationship type to a target label.",
		Parameters:  []string{"label", "relationship", "target_label"},
	},
	{
		Name:        "temporal_filter",
		Description: "Match nodes of a label whose timestamp property falls in an absolute or relative window.",
		Parameters:  []string{"label", "property", "from", "to", "relative"},
	},
}

func renderPatternLibrary() string {
	s := "PATTERN LIBRARY (for reference only; instantiate as concrete query syntax):\n"
	for _, p := range patternLibrary {
		s += "- " + p.Name + ": " + p.Description + " params: ["
		for i, param := range p.Parameters {
			if i > 0 {
				s += ", "
			}
			s += param
		}
		s += "]\n"
	}
	return s
}
