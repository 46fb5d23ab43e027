package schema

import (
	"sort"
	"strings"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// Role tags a type for relationship mapping.
type Role uint8

const (
	// RoleOther covers scalars, enums, inputs, unions and structural types.
	RoleOther Role = iota
	RoleEntity
	RoleRelationship
)

func (r Role) String() string {
	switch r {
	case RoleEntity:
		return "entity"
	case RoleRelationship:
		return "relationship"
	default:
		return "other"
	}
}

// Classification is the tagged result of classifying one type. Endpoints
// is only set for relationships and holds the resolved concrete entity
// types the relationship can link, sorted. It may be empty.
type Classification struct {
	Role      Role
	Endpoints []string
}

// endpointFields are the field names conventionally used for the two ends
// of a directed link.
var endpointFields = map[string]bool{
	"from":       true,
	"to":         true,
	"source":     true,
	"target":     true,
	"source_ref": true,
	"target_ref": true,
	"sourceRef":  true,
	"targetRef":  true,
}

var structuralSuffixes = []string{"Connection", "Edge", "Edges", "Payload", "PageInfo", "Pagination"}

// isStructural reports pagination, payload, root and meta types.
func isStructural(s *Snapshot, name string) bool {
	if strings.HasPrefix(name, "__") {
		return true
	}
	switch name {
	case s.QueryTypeName(), "Query", "Mutation", "Subscription":
		return true
	}
	for _, suffix := range structuralSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func isRelationshipShaped(t *TypeDescriptor) bool {
	if t.Annotation != nil {
		return true
	}
	for _, f := range t.Fields {
		if endpointFields[f.Name] {
			return true
		}
	}
	return false
}

// classify partitions the snapshot and resolves relationship endpoints.
func classify(s *Snapshot) map[string]Classification {
	out := make(map[string]Classification, s.Len())

	for _, name := range s.names {
		t := s.types[name]
		if t.Kind != KindObject && t.Kind != KindInterface {
			out[name] = Classification{Role: RoleOther}
			continue
		}
		if isStructural(s, name) {
			out[name] = Classification{Role: RoleOther}
			continue
		}
		if isRelationshipShaped(t) {
			out[name] = Classification{Role: RoleRelationship}
			continue
		}
		out[name] = Classification{Role: RoleEntity}
	}

	g := &Graph{snapshot: s}
	for _, name := range s.names {
		c := out[name]
		if c.Role != RoleRelationship {
			continue
		}
		c.Endpoints = resolveEndpoints(g, s.types[name], out)
		out[name] = c
	}
	return out
}

// resolveEndpoints collects the concrete entity types reachable through the
// endpoint fields of t plus any annotated related types.
func resolveEndpoints(g *Graph, t *TypeDescriptor, classes map[string]Classification) []string {
	set := make(map[string]bool)
	add := func(typeName string) {
		for _, concrete := range g.PossibleTypes(typeName) {
			if classes[concrete].Role == RoleEntity {
				set[concrete] = true
			}
		}
	}

	for _, f := range t.Fields {
		if !endpointFields[f.Name] {
			continue
		}
		switch f.Type.Kind {
		case KindObject, KindInterface, KindUnion:
			add(f.Type.Name)
		}
	}
	if t.Annotation != nil {
		for _, related := range t.Annotation.RelatedTypes {
			add(related)
		}
	}

	endpoints := make([]string, 0, len(set))
	for name := range set {
		endpoints = append(endpoints, name)
	}
	sort.Strings(endpoints)
	return endpoints
}

// Mapping is the entity type to relationship type mapping of one snapshot.
type Mapping struct {
	edges         map[string][]string
	entities      map[string]bool
	relationships []string
}

func buildMapping(g *Graph, classes map[string]Classification) *Mapping {
	m := &Mapping{
		edges:    make(map[string][]string),
		entities: make(map[string]bool),
	}

	sets := make(map[string]map[string]bool)
	for _, name := range g.snapshot.names {
		c := classes[name]
		switch c.Role {
		case RoleEntity:
			m.entities[name] = true
		case RoleRelationship:
			m.relationships = append(m.relationships, name)
			for _, entity := range c.Endpoints {
				if sets[entity] == nil {
					sets[entity] = make(map[string]bool)
				}
				sets[entity][name] = true
			}
		}
	}

	for entity, rels := range sets {
		list := make([]string, 0, len(rels))
		for rel := range rels {
			list = append(list, rel)
		}
		sort.Strings(list)
		m.edges[entity] = list
	}
	return m
}

// MappingFor returns the relationship types linking an entity type. A
// recognized entity without relationships yields an empty list.
func (m *Mapping) MappingFor(entity string) ([]string, error) {
	if !m.entities[entity] {
		return nil, graphql.NewNotFound("entity", entity)
	}
	rels := m.edges[entity]
	out := make([]string, len(rels))
	copy(out, rels)
	return out, nil
}

// FullMapping returns a copy of every entity with at least one relationship.
func (m *Mapping) FullMapping() map[string][]string {
	out := make(map[string][]string, len(m.edges))
	for entity, rels := range m.edges {
		list := make([]string, len(rels))
		copy(list, rels)
		out[entity] = list
	}
	return out
}

// EntityNames returns the sorted keys of FullMapping.
func (m *Mapping) EntityNames() []string {
	names := make([]string, 0, len(m.edges))
	for entity := range m.edges {
		names = append(names, entity)
	}
	sort.Strings(names)
	return names
}

// RelationshipTypes returns every relationship type, including those with
// no resolvable endpoints.
func (m *Mapping) RelationshipTypes() []string {
	out := make([]string, len(m.relationships))
	copy(out, m.relationships)
	return out
}

// IsEntity reports whether the name was classified as an entity type.
func (m *Mapping) IsEntity(name string) bool {
	return m.entities[name]
}
