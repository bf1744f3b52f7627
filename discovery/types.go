// Package discovery implements Entity Auto-Discovery & Configuration: it
// derives an immutable NodeableConfig from a host entity description, with
// precedence for explicit overrides and legacy registrations, and it
// translates host filter-method call traces into declarative ScopeSpecs via
// the Scope Adapter.
package discovery

import (
	"regexp"

	"github.com/antflydb/raqe/errs"
)

// identifierPattern is the identifier-safety invariant shared by every
// component.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s is a well-formed, bounded identifier.
func ValidIdentifier(s string) bool {
	return len(s) > 0 && len(s) <= 255 && identifierPattern.MatchString(s)
}

// CheckIdentifier validates s and returns an *errs.Error of kind
// errs.InjectionDefense if it is not a safe identifier.
func CheckIdentifier(s string) error {
	if !ValidIdentifier(s) {
		return errs.New(errs.InjectionDefense, "identifier failed safety validation")
	}
	return nil
}

// Relationship is one outgoing edge an entity declares.
type Relationship struct {
	Type         string
	TargetLabel  string
	ForeignKey   string
	PropertyMap  map[string]string
}

// VectorShape is the optional similarity-search projection of an entity.
type VectorShape struct {
	Collection  string
	EmbedFields []string
	Metadata    []string
}

// Enabled reports whether this entity has a vector shape at all.
func (v VectorShape) Enabled() bool {
	return v.Collection != "" && len(v.EmbedFields) > 0
}

// Semantics is the natural-language metadata attached to an entity.
type Semantics struct {
	Aliases      []string
	Description  string
	Scopes       map[string]ScopeSpec
	PropertyDocs map[string]string
}

// AutoSyncFlags are per-operation auto-sync toggles, defaulting true.
type AutoSyncFlags struct {
	Create bool
	Update bool
	Delete bool
}

// DefaultAutoSyncFlags returns the all-true default.
func DefaultAutoSyncFlags() AutoSyncFlags {
	return AutoSyncFlags{Create: true, Update: true, Delete: true}
}

// NodeableConfig is the immutable entity configuration produced by
// Auto-Discovery (or supplied explicitly) and consumed by every other
// component. Build it once per host-entity class; never mutate after
// construction.
type NodeableConfig struct {
	Label         string
	Properties    []string
	Relationships []Relationship
	Vector        VectorShape
	Semantics     Semantics
	AutoSync      AutoSyncFlags
}

// Validate checks the label, every property (also rejecting duplicates),
// every relationship type and target label, the vector collection (when
// the vector shape is enabled), and every scope name against the shared
// identifier regex. Relationship foreign keys, embed fields, and vector
// metadata fields are not checked.
func (c *NodeableConfig) Validate() error {
	if err := CheckIdentifier(c.Label); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, p := range c.Properties {
		if err := CheckIdentifier(p); err != nil {
			return err
		}
		if seen[p] {
			return errs.New(errs.Configuration, "duplicate property "+p)
		}
		seen[p] = true
	}
	for _, r := range c.Relationships {
		if err := CheckIdentifier(r.Type); err != nil {
			return err
		}
		if err := CheckIdentifier(r.TargetLabel); err != nil {
			return err
		}
	}
	if c.Vector.Enabled() {
		if err := CheckIdentifier(c.Vector.Collection); err != nil {
			return err
		}
	}
	for name := range c.Semantics.Scopes {
		if err := CheckIdentifier(name); err != nil {
			return err
		}
	}
	return nil
}
