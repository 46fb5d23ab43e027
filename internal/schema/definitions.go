package schema

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// RelationsTypesMappingQuery asks the platform which relationship labels are
// allowed between each pair of entity types.
const RelationsTypesMappingQuery = `query SchemaRelationsTypesMapping {
  schemaRelationsTypesMapping {
    key
    values
  }
}`

var (
	stixRequired   = []string{"BasicObject", "StixObject", "StixCoreObject"}
	stixOneOf      = []string{"StixDomainObject", "StixCyberObservable"}
	connectionSufx = "Connection"
)

// RelationsMappingEntry is one platform entry, Key being "From_To".
type RelationsMappingEntry struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// EntityDefinition describes one STIX entity type of the served schema.
type EntityDefinition struct {
	Fields            map[string]string `json:"fields"`
	QueryTypeSingular string            `json:"query_type_singular"`
	QueryTypePlural   string            `json:"query_type_plural"`
	RelationshipType  string            `json:"relationship_type"`
	RelatedTypes      []string          `json:"related_types"`
}

// FetchRelationsMapping runs RelationsTypesMappingQuery. An unexpected
// response shape yields an empty list.
func FetchRelationsMapping(ctx context.Context, exec graphql.Executor) ([]RelationsMappingEntry, error) {
	resp, err := exec.Do(ctx, "relations", RelationsTypesMappingQuery, nil)
	if err != nil {
		return nil, err
	}
	if resp.HasErrors() {
		return nil, &graphql.RemoteError{Op: "relations", Err: errors.New(resp.ErrorMessage())}
	}

	var data struct {
		Mapping []RelationsMappingEntry `json:"schemaRelationsTypesMapping"`
	}
	if len(resp.Data) == 0 || json.Unmarshal(resp.Data, &data) != nil {
		return []RelationsMappingEntry{}, nil
	}
	if data.Mapping == nil {
		return []RelationsMappingEntry{}, nil
	}
	return data.Mapping, nil
}

// RelatedAdjacency turns platform entries into an undirected adjacency over
// the STIX entity types of g. Keys are split on the first "_" and each side
// is a platform label such as "Attack-Pattern", resolved to its type name by
// comparing lowercase alphanumerics. Unresolved sides and self pairs are
// dropped.
func RelatedAdjacency(g *Graph, entries []RelationsMappingEntry) map[string]map[string]bool {
	byLabel := make(map[string]string)
	snap := g.Snapshot()
	for _, name := range snap.names {
		if IsStixEntity(snap.types[name]) {
			byLabel[normalizeLabel(name)] = name
		}
	}

	related := make(map[string]map[string]bool)
	link := func(a, b string) {
		if related[a] == nil {
			related[a] = make(map[string]bool)
		}
		related[a][b] = true
	}
	for _, e := range entries {
		left, right, ok := strings.Cut(e.Key, "_")
		if !ok {
			continue
		}
		from, okFrom := byLabel[normalizeLabel(left)]
		to, okTo := byLabel[normalizeLabel(right)]
		if !okFrom || !okTo || from == to {
			continue
		}
		link(from, to)
		link(to, from)
	}
	return related
}

// normalizeLabel keeps ASCII letters and digits, lowercased.
func normalizeLabel(label string) string {
	var b strings.Builder
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'A' && c <= 'Z':
			b.WriteByte(c + 'a' - 'A')
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		}
	}
	return b.String()
}

// IsStixEntity reports whether t is a concrete STIX domain object or cyber
// observable according to the interfaces it implements.
func IsStixEntity(t *TypeDescriptor) bool {
	if t.Kind != KindObject {
		return false
	}
	for _, iface := range stixRequired {
		if !t.Implements(iface) {
			return false
		}
	}
	for _, iface := range stixOneOf {
		if t.Implements(iface) {
			return true
		}
	}
	return false
}

// EntityDefinitions describes every STIX entity type of g. related holds
// the platform adjacency and may be nil.
func EntityDefinitions(g *Graph, related map[string]map[string]bool) map[string]EntityDefinition {
	snap := g.Snapshot()
	queryFields, _ := g.GetQueryFields()
	coEndpoints := annotatedCoEndpoints(g)

	out := make(map[string]EntityDefinition)
	for _, name := range snap.names {
		t := snap.types[name]
		if !IsStixEntity(t) {
			continue
		}

		def := EntityDefinition{
			Fields:            scalarFields(t),
			QueryTypeSingular: singularQuery(queryFields, name),
			QueryTypePlural:   pluralQuery(snap, queryFields, name),
			RelationshipType:  RelationshipLabel(name),
		}
		if t.Annotation != nil && t.Annotation.RelationshipType != "" {
			def.RelationshipType = t.Annotation.RelationshipType
		}

		set := make(map[string]bool)
		for other := range related[name] {
			set[other] = true
		}
		for other := range coEndpoints[name] {
			set[other] = true
		}
		delete(set, name)
		def.RelatedTypes = make([]string, 0, len(set))
		for other := range set {
			def.RelatedTypes = append(def.RelatedTypes, other)
		}
		sort.Strings(def.RelatedTypes)

		out[name] = def
	}
	return out
}

// scalarFields keeps argument-free fields whose bare type is a scalar or enum.
func scalarFields(t *TypeDescriptor) map[string]string {
	fields := make(map[string]string)
	for _, f := range t.Fields {
		if len(f.Args) > 0 {
			continue
		}
		if f.Type.Kind == KindScalar || f.Type.Kind == KindEnum {
			fields[f.Name] = f.Type.Name
		}
	}
	return fields
}

func singularQuery(queryFields []Field, entity string) string {
	for _, f := range queryFields {
		if f.Type.Name == entity && !f.Type.IsList() {
			return f.Name
		}
	}
	return ""
}

// pluralQuery finds the Query field returning a connection whose
// edges.node is the entity.
func pluralQuery(snap *Snapshot, queryFields []Field, entity string) string {
	for _, f := range queryFields {
		if !strings.HasSuffix(f.Type.Name, connectionSufx) {
			continue
		}
		conn, ok := snap.Type(f.Type.Name)
		if !ok {
			continue
		}
		edges, ok := conn.FieldByName("edges")
		if !ok {
			continue
		}
		edge, ok := snap.Type(edges.Type.Name)
		if !ok {
			continue
		}
		node, ok := edge.FieldByName("node")
		if ok && node.Type.Name == entity {
			return f.Name
		}
	}
	return ""
}

// annotatedCoEndpoints links the endpoints of every annotated relationship
// type with each other.
func annotatedCoEndpoints(g *Graph) map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	snap := g.Snapshot()
	for _, name := range snap.names {
		if snap.types[name].Annotation == nil {
			continue
		}
		c, ok := g.Classification(name)
		if !ok || c.Role != RoleRelationship {
			continue
		}
		for _, a := range c.Endpoints {
			for _, b := range c.Endpoints {
				if a == b {
					continue
				}
				if out[a] == nil {
					out[a] = make(map[string]bool)
				}
				out[a][b] = true
			}
		}
	}
	return out
}

// RelationshipLabel splits a CamelCase type name into words joined by "-",
// e.g. AttackPattern becomes Attack-Pattern. Words are an optional capital
// followed by lowercase letters, or a run of capitals not followed by a
// lowercase letter; anything else (digits) is dropped.
func RelationshipLabel(name string) string {
	isUpper := func(r byte) bool { return r >= 'A' && r <= 'Z' }
	isLower := func(r byte) bool { return r >= 'a' && r <= 'z' }

	var words []string
	for i := 0; i < len(name); {
		j := i
		if isUpper(name[j]) {
			j++
		}
		k := j
		for k < len(name) && isLower(name[k]) {
			k++
		}
		if k > j {
			words = append(words, name[i:k])
			i = k
			continue
		}

		k = i
		for k < len(name) && isUpper(name[k]) {
			k++
		}
		for k > i && k < len(name) && isLower(name[k]) {
			k--
		}
		if k > i {
			words = append(words, name[i:k])
			i = k
			continue
		}
		i++
	}
	return strings.Join(words, "-")
}
