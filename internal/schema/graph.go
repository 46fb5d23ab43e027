package schema

import (
	"sort"
	"strings"
	"sync"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// Graph answers structural queries over one snapshot. The classification
// and the relationship mapping are derived on first use and kept for the
// life of the Graph, so they are always replaced together with the snapshot.
type Graph struct {
	snapshot *Snapshot

	classOnce sync.Once
	classes   map[string]Classification

	mappingOnce sync.Once
	mapping     *Mapping
}

// NewGraph wraps a snapshot.
func NewGraph(s *Snapshot) *Graph {
	return &Graph{snapshot: s}
}

// Snapshot returns the underlying read-only snapshot.
func (g *Graph) Snapshot() *Snapshot {
	return g.snapshot
}

// ListTypeNames returns OBJECT, INTERFACE and UNION type names, sorted.
func (g *Graph) ListTypeNames() []string {
	out := make([]string, 0, g.snapshot.Len())
	for _, name := range g.snapshot.names {
		switch g.snapshot.types[name].Kind {
		case KindObject, KindInterface, KindUnion:
			out = append(out, name)
		}
	}
	return out
}

// GetDefinition returns a copy of the fields of a type. Scalars and enums
// have none.
func (g *Graph) GetDefinition(name string) ([]Field, error) {
	t, ok := g.snapshot.Type(name)
	if !ok {
		return nil, graphql.NewNotFound("type", name)
	}
	return cloneFields(t.Fields), nil
}

// GetQueryFields returns the root query fields sorted by name.
func (g *Graph) GetQueryFields() ([]Field, error) {
	name := g.snapshot.QueryTypeName()
	t, ok := g.snapshot.Type(name)
	if !ok || len(t.Fields) == 0 {
		return nil, graphql.NewNotFound("root type", name)
	}
	out := cloneFields(t.Fields)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// PossibleTypes returns the concrete object types behind an abstract type,
// following nested abstract members. An object type resolves to itself.
func (g *Graph) PossibleTypes(name string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(n string)
	walk = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		t, ok := g.snapshot.Type(n)
		if !ok {
			return
		}
		switch t.Kind {
		case KindObject:
			out = append(out, n)
		case KindInterface, KindUnion:
			for _, p := range t.PossibleTypes {
				walk(p)
			}
		}
	}
	walk(name)
	sort.Strings(out)
	return out
}

// Classification returns the stored classification of a type.
func (g *Graph) Classification(name string) (Classification, bool) {
	g.classOnce.Do(func() { g.classes = classify(g.snapshot) })
	c, ok := g.classes[name]
	return c, ok
}

// Mapping returns the relationship mapping derived from this snapshot.
func (g *Graph) Mapping() *Mapping {
	g.mappingOnce.Do(func() {
		g.classOnce.Do(func() { g.classes = classify(g.snapshot) })
		g.mapping = buildMapping(g, g.classes)
	})
	return g.mapping
}

// SearchEntities matches entity names case-insensitively and keeps only
// names that are also listed by ListTypeNames.
func (g *Graph) SearchEntities(term string) ([]string, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, graphql.NewInvalidArgument("entity_name", "entity_name is required and cannot be empty")
	}

	listed := make(map[string]bool)
	for _, name := range g.ListTypeNames() {
		listed[name] = true
	}

	needle := strings.ToLower(term)
	matches := []string{}
	for _, name := range g.Mapping().EntityNames() {
		if listed[name] && strings.Contains(strings.ToLower(name), needle) {
			matches = append(matches, name)
		}
	}
	return matches, nil
}
