package generator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antflydb/raqe/discovery"
	"github.com/antflydb/raqe/errs"
)

var dangerousKeywords = []string{"delete", "remove", "drop", "create", "merge", "set", "detach"}

var identifierToken = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
var labelToken = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
var propertyToken = regexp.MustCompile(`\.([A-Za-z_][A-Za-z0-9_]*)`)
var rowCapPattern = regexp.MustCompile(`(?i)\blimit\s+(\d+)\b`)
var unboundedPattern = regexp.MustCompile(`(?i)\*\d*\.\.`)
var cartesianPattern = regexp.MustCompile(`(?i)\bMATCH\b[^;]*,\s*\(`)

// ValidationReport is the outcome of validating a query against the schema
// known to the caller.
type ValidationReport struct {
	Valid      bool
	Warnings   []string
	Complexity int
}

// Validate rejects dangerous operations unless allow_write, checks
// identifiers against the schema sets, scores complexity, and requires a
// row cap clause. A missing row cap is a warning here, not a rejection:
// injecting one is Sanitize's job.
func Validate(queryText string, schemaIdentifiers map[string]bool, opts Options) (ValidationReport, error) {
	report := ValidationReport{Valid: true}

	if !opts.AllowWrite {
		lower := strings.ToLower(queryText)
		for _, kw := range dangerousKeywords {
			if containsKeyword(lower, kw) {
				return report, errs.New(errs.UnsafeQuery, "query contains write keyword '"+kw+"' without allow_write")
			}
		}
	}

	if schemaIdentifiers != nil {
		for _, tok := range identifierToken.FindAllString(queryText, -1) {
			if isReservedWord(tok) {
				continue
			}
			if !discovery.ValidIdentifier(tok) {
				return report, errs.New(errs.InjectionDefense, "identifier failed safety validation: "+tok)
			}
		}

		// Labels (after ':') and properties (after '.') name concrete
		// schema members, unlike bound variable aliases, so they must
		// actually appear in the schema sets the bundle supplied — an
		// LLM-hallucinated label/property is lexically valid but never
		// exists in the graph.
		for _, m := range labelToken.FindAllStringSubmatch(queryText, -1) {
			tok := m[1]
			if isReservedWord(tok) || schemaIdentifiers[tok] {
				continue
			}
			return report, errs.New(errs.InjectionDefense, "label not present in schema: "+tok)
		}
		for _, m := range propertyToken.FindAllStringSubmatch(queryText, -1) {
			tok := m[1]
			if isReservedWord(tok) || schemaIdentifiers[tok] {
				continue
			}
			return report, errs.New(errs.InjectionDefense, "property not present in schema: "+tok)
		}
	}

	report.Complexity = ComplexityScore(queryText)
	maxComplexity := opts.MaxComplexity
	if maxComplexity <= 0 {
		maxComplexity = 100
	}
	if report.Complexity > maxComplexity {
		return report, errs.New(errs.QueryValidation, fmt.Sprintf("query complexity %d exceeds max %d", report.Complexity, maxComplexity))
	}

	if !hasRowCap(queryText) {
		report.Warnings = append(report.Warnings, "query lacks a row-cap clause; one will be injected")
	}

	return report, nil
}

// ComplexityScore sums penalties for unbounded patterns, variable-length
// paths, cartesian joins, and the absence of a row-cap clause.
func ComplexityScore(queryText string) int {
	score := 0
	if unboundedPattern.MatchString(queryText) {
		score += 40
	}
	if cartesianPattern.MatchString(queryText) {
		score += 30
	}
	if !hasRowCap(queryText) {
		score += 20
	}
	score += strings.Count(strings.ToUpper(queryText), "OPTIONAL MATCH") * 5
	return score
}

func hasRowCap(queryText string) bool {
	return rowCapPattern.MatchString(queryText)
}

// Sanitize appends a row-cap clause at defaultLimit if queryText lacks one.
func Sanitize(queryText string, defaultLimit int) string {
	if hasRowCap(queryText) {
		return queryText
	}
	if defaultLimit <= 0 {
		defaultLimit = 100
	}
	return strings.TrimRight(queryText, "; \n") + " LIMIT " + strconv.Itoa(defaultLimit)
}

func containsKeyword(lower, kw string) bool {
	idx := 0
	for {
		pos := strings.Index(lower[idx:], kw)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(kw)
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

var reservedWords = map[string]bool{
	"MATCH": true, "RETURN": true, "WHERE": true, "LIMIT": true, "AND": true, "OR": true,
	"NOT": true, "AS": true, "ORDER": true, "BY": true, "ASC": true, "DESC": true,
	"SKIP": true, "DISTINCT": true, "COUNT": true, "OPTIONAL": true, "WITH": true,
	"true": true, "false": true, "null": true,
}

func isReservedWord(tok string) bool {
	return reservedWords[strings.ToUpper(tok)] || reservedWords[tok]
}
