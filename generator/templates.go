package generator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antflydb/raqe/discovery"
)

// template is one regex-anchored shortcut past the LLM. build
// receives the regex submatches, the schema's label list and the row cap, and
// returns a finished query_text, plus any captured values as structural
// parameters, without ever calling the LLM.
type template struct {
	name    string
	pattern *regexp.Regexp
	build   func(matches []string, labels []string, rowCap int) (string, map[string]any, bool)
}

var templates = []template{
	{
		name:    "list_all",
		pattern: regexp.MustCompile(`(?i)^\s*(list|show|get)\s+all\s+([a-z_]+)\s*\??\s*$`),
		build: func(m []string, labels []string, rowCap int) (string, map[string]any, bool) {
			label, ok := matchLabel(m[2], labels)
			if !ok {
				return "", nil, false
			}
			return fmt.Sprintf("MATCH (n:%s) RETURN n LIMIT %d", label, rowCap), nil, true
		},
	},
	{
		name:    "count_all",
		pattern: regexp.MustCompile(`(?i)^\s*how many\s+([a-z_]+)\s+(do we have|are there)\s*\??\s*$`),
		build: func(m []string, labels []string, rowCap int) (string, map[string]any, bool) {
			label, ok := matchLabel(m[1], labels)
			if !ok {
				return "", nil, false
			}
			return fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS count", label), nil, true
		},
	},
	{
		name:    "find_by_property",
		pattern: regexp.MustCompile(`(?i)^\s*(find|show)\s+([a-z_]+)\s+where\s+([a-z_]+)\s*=\s*['"]?([a-zA-Z0-9_ ]+)['"]?\s*$`),
		build: func(m []string, labels []string, rowCap int) (string, map[string]any, bool) {
			label, ok := matchLabel(m[2], labels)
			if !ok || !discovery.ValidIdentifier(m[3]) {
				return "", nil, false
			}
			params := map[string]any{"value": strings.TrimSpace(m[4])}
			return fmt.Sprintf("MATCH (n:%s) WHERE n.%s = $value RETURN n LIMIT %d", label, m[3], rowCap), params, true
		},
	},
	{
		name:    "related_to",
		pattern: regexp.MustCompile(`(?i)^\s*([a-z_]+)\s+related to\s+([a-z_]+)\s*\??\s*$`),
		build: func(m []string, labels []string, rowCap int) (string, map[string]any, bool) {
			a, okA := matchLabel(m[1], labels)
			b, okB := matchLabel(m[2], labels)
			if !okA || !okB {
				return "", nil, false
			}
			return fmt.Sprintf("MATCH (a:%s)-[r]-(b:%s) RETURN a, r, b LIMIT %d", a, b, rowCap), nil, true
		},
	},
}

func matchLabel(token string, labels []string) (string, bool) {
	lower := strings.ToLower(strings.TrimSuffix(token, "s"))
	for _, l := range labels {
		if strings.ToLower(l) == strings.ToLower(token) || strings.ToLower(l) == lower {
			return l, true
		}
	}
	return "", false
}

// matchTemplate returns the first template matching question, or ok=false.
func matchTemplate(question string, labels []string, rowCap int) (queryText string, params map[string]any, name string, ok bool) {
	for _, t := range templates {
		if m := t.pattern.FindStringSubmatch(question); m != nil {
			if qt, p, built := t.build(m, labels, rowCap); built {
				return qt, p, t.name, true
			}
		}
	}
	return "", nil, "", false
}
