package discovery

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/antflydb/raqe/errs"
)

// SchemaColumn is one column the storage-schema-introspection collaborator
// reports for a host entity.
type SchemaColumn struct {
	Name      string
	Type      string // e.g. "string", "text", "int", "timestamp"
	Indexed   bool
}

// RelationDescriptor is one "belongs-to-one" relation declared on a host
// entity.
type RelationDescriptor struct {
	Name        string // relation method name, e.g. "team"
	TargetLabel string
	ForeignKey  string
}

// FilterMethod is one host-level scope/filter method: its name and a
// function that drives a Recorder the way the method would drive its
// host-language query builder.
type FilterMethod struct {
	Name   string
	Record func(*Recorder)
}

// EntityDescriptor is what Auto-Discovery is given to reflect over: the
// shape a host-language reflection pass would have produced. It stands in
// for "reflecting over a domain model".
type EntityDescriptor struct {
	TypeName           string
	WritableAttributes []string
	Schema             []SchemaColumn
	BelongsTo          []RelationDescriptor
	FilterMethods      []FilterMethod
	AliasOverrides     []string        // unioned into the derived alias set
	VectorCollection   string          // explicit override; derived if empty
	Explicit           *NodeableConfig // tier-1 override, wins outright
}

var textLikeNames = regexp.MustCompile(`(?i)^(description|bio|notes|body|content|details|summary)$`)

// DeriveOptions tunes the derivation rules.
type DeriveOptions struct {
	ExcludedFields []string
	MaxDepth       int
}

// DefaultDeriveOptions returns the stated defaults.
func DefaultDeriveOptions() DeriveOptions {
	return DeriveOptions{ExcludedFields: []string{"password", "remember_token"}, MaxDepth: 5}
}

// Discover resolves a config with three-tier precedence: an explicit
// override wins outright; otherwise a legacy registration keyed by label;
// otherwise full derivation from desc.
func Discover(desc EntityDescriptor, legacy map[string]*NodeableConfig, opts DeriveOptions, logger *zap.Logger) (*NodeableConfig, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if desc.Explicit != nil {
		if err := desc.Explicit.Validate(); err != nil {
			return nil, err
		}
		return desc.Explicit, nil
	}

	label := desc.TypeName
	if cfg, ok := legacy[label]; ok {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	return derive(desc, opts, logger)
}

func derive(desc EntityDescriptor, opts DeriveOptions, logger *zap.Logger) (*NodeableConfig, error) {
	label := desc.TypeName
	if err := CheckIdentifier(label); err != nil {
		return nil, err
	}
	if len(desc.Schema) == 0 {
		return nil, errs.New(errs.Configuration, "host entity "+label+" has no storage schema")
	}

	excluded := map[string]bool{}
	for _, f := range opts.ExcludedFields {
		excluded[strings.ToLower(f)] = true
	}
	columnSet := map[string]SchemaColumn{}
	for _, col := range desc.Schema {
		columnSet[col.Name] = col
	}

	var properties []string
	hasID := false
	for _, attr := range desc.WritableAttributes {
		if excluded[strings.ToLower(attr)] {
			continue
		}
		if _, ok := columnSet[attr]; !ok {
			continue
		}
		properties = append(properties, attr)
		if attr == "id" {
			hasID = true
		}
	}
	if !hasID {
		properties = append([]string{"id"}, properties...)
	}

	var relationships []Relationship
	for _, rel := range desc.BelongsTo {
		relType := uppercaseSnake(rel.Name)
		if err := CheckIdentifier(relType); err != nil {
			logger.Warn("skipping relationship with invalid identifier", zap.String("entity", label), zap.String("relation", rel.Name))
			continue
		}
		if err := CheckIdentifier(rel.TargetLabel); err != nil {
			logger.Warn("skipping relationship with invalid target label", zap.String("entity", label), zap.String("relation", rel.Name))
			continue
		}
		relationships = append(relationships, Relationship{
			Type:        relType,
			TargetLabel: rel.TargetLabel,
			ForeignKey:  rel.ForeignKey,
		})
		found := false
		for _, p := range properties {
			if p == rel.ForeignKey {
				found = true
				break
			}
		}
		if !found && rel.ForeignKey != "" {
			properties = append(properties, rel.ForeignKey)
		}
	}

	vector := deriveVectorShape(label, desc, columnSet, properties)

	aliases := aliasSet(label, desc.AliasOverrides)

	scopes := map[string]ScopeSpec{}
	for _, fm := range desc.FilterMethods {
		name := NormalizeScopeName(fm.Name)
		if err := CheckIdentifier(name); err != nil {
			logger.Warn("skipping scope with invalid name", zap.String("entity", label), zap.String("method", fm.Name))
			continue
		}
		spec, err := TranslateScope(label, fm.Record)
		if err != nil {
			logger.Warn("skipping scope that failed to translate",
				zap.String("entity", label), zap.String("method", fm.Name), zap.Error(err))
			continue
		}
		scopes[name] = spec
	}

	cfg := &NodeableConfig{
		Label:         label,
		Properties:    properties,
		Relationships: relationships,
		Vector:        vector,
		Semantics: Semantics{
			Aliases: aliases,
			Scopes:  scopes,
		},
		AutoSync: DefaultAutoSyncFlags(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func deriveVectorShape(label string, desc EntityDescriptor, columnSet map[string]SchemaColumn, properties []string) VectorShape {
	var embedFields []string
	for _, col := range desc.Schema {
		if col.Type == "text" || textLikeNames.MatchString(col.Name) {
			embedFields = append(embedFields, col.Name)
		}
	}
	if len(embedFields) == 0 {
		return VectorShape{}
	}
	collection := desc.VectorCollection
	if collection == "" {
		collection = strings.ToLower(label) + "s"
	}
	metadata := []string{"id"}
	for _, p := range properties {
		if p == "id" {
			continue
		}
		if col, ok := columnSet[p]; ok && col.Indexed {
			metadata = append(metadata, p)
		}
	}
	return VectorShape{Collection: collection, EmbedFields: embedFields, Metadata: metadata}
}

// aliasSet derives {label, plural(label), snake(label), plural(snake(label))}
// unioned with any host-supplied overrides, lowercased and deduplicated.
func aliasSet(label string, overrides []string) []string {
	lower := strings.ToLower(label)
	snake := camelBoundary.ReplaceAllString(label, "${1}_${2}")
	snake = strings.ToLower(snake)
	set := map[string]bool{
		lower:         true,
		plural(lower): true,
		snake:         true,
		plural(snake): true,
	}
	for _, o := range overrides {
		o = strings.ToLower(strings.TrimSpace(o))
		if o != "" {
			set[o] = true
		}
	}
	out := make([]string, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

func plural(s string) string {
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

func uppercaseSnake(s string) string {
	snake := camelBoundary.ReplaceAllString(s, "${1}_${2}")
	return strings.ToUpper(snake)
}
