// Package schema holds the in-memory model of a fetched GraphQL schema and
// the structural queries answered over it.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// Kind is a GraphQL type kind as reported by introspection.
type Kind string

const (
	KindObject      Kind = "OBJECT"
	KindInterface   Kind = "INTERFACE"
	KindUnion       Kind = "UNION"
	KindEnum        Kind = "ENUM"
	KindScalar      Kind = "SCALAR"
	KindInputObject Kind = "INPUT_OBJECT"
)

// Mode selects how a snapshot is obtained.
type Mode string

const (
	ModeIntrospection Mode = "introspection"
	ModeSDL           Mode = "sdl"
)

// ParseMode converts a user supplied mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeIntrospection:
		return ModeIntrospection, nil
	case ModeSDL:
		return ModeSDL, nil
	}
	return "", graphql.NewInvalidArgument("mode", fmt.Sprintf("unknown schema mode %q", s))
}

// Wrapper is one NON_NULL or LIST layer around a named type.
type Wrapper uint8

const (
	WrapNonNull Wrapper = iota + 1
	WrapList
)

// TypeRef is a field or argument type: a bare type name plus its wrapper
// shape, outermost first. Kind is the kind of the bare type.
type TypeRef struct {
	Name     string
	Kind     Kind
	Wrappers []Wrapper
}

// String renders the reference in SDL notation, e.g. "[Malware!]!".
func (r TypeRef) String() string {
	var render func(i int) string
	render = func(i int) string {
		if i >= len(r.Wrappers) {
			return r.Name
		}
		switch r.Wrappers[i] {
		case WrapNonNull:
			return render(i+1) + "!"
		case WrapList:
			return "[" + render(i+1) + "]"
		}
		return render(i + 1)
	}
	return render(0)
}

func (r TypeRef) clone() TypeRef {
	r.Wrappers = append([]Wrapper(nil), r.Wrappers...)
	return r
}

// IsList reports whether any wrapper layer is a list.
func (r TypeRef) IsList() bool {
	for _, w := range r.Wrappers {
		if w == WrapList {
			return true
		}
	}
	return false
}

// Argument is one field argument.
type Argument struct {
	Name string
	Type TypeRef
}

// Field is one field of an object, interface or input type.
type Field struct {
	Name string
	Type TypeRef
	Args []Argument
}

// cloneFields deep copies fields so callers cannot reach snapshot storage.
func cloneFields(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.Name, Type: f.Type.clone()}
		if f.Args != nil {
			out[i].Args = make([]Argument, len(f.Args))
			for j, a := range f.Args {
				out[i].Args[j] = Argument{Name: a.Name, Type: a.Type.clone()}
			}
		}
	}
	return out
}

// Annotation is the relationship metadata a served SDL document may attach
// to a type through a directive or its description.
type Annotation struct {
	RelationshipType string
	RelatedTypes     []string
}

// TypeDescriptor is one named type of the schema.
type TypeDescriptor struct {
	Name          string
	Kind          Kind
	Description   string
	Fields        []Field
	Interfaces    []string
	PossibleTypes []string
	EnumValues    []string
	Annotation    *Annotation
}

// FieldByName returns the named field.
func (t *TypeDescriptor) FieldByName(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Implements reports whether the type lists the interface.
func (t *TypeDescriptor) Implements(iface string) bool {
	for _, i := range t.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

var builtinScalars = []string{"Boolean", "Float", "ID", "Int", "String"}

// Snapshot is one immutable set of type descriptors keyed by name.
type Snapshot struct {
	types     map[string]*TypeDescriptor
	names     []string
	queryType string
	mode      Mode
	fetchedAt time.Time
}

// NewSnapshot validates and freezes a set of descriptors. Built-in scalars
// are synthesized when missing, interface possible types are completed from
// implementers, and every TypeRef gets the kind of its bare type.
func NewSnapshot(mode Mode, queryType string, types []*TypeDescriptor, fetchedAt time.Time) (*Snapshot, error) {
	if len(types) == 0 {
		return nil, graphql.NewSchemaError("schema contains no types", nil)
	}

	byName := make(map[string]*TypeDescriptor, len(types)+len(builtinScalars))
	for _, t := range types {
		if t == nil || t.Name == "" {
			return nil, graphql.NewSchemaError("type without a name", nil)
		}
		if _, dup := byName[t.Name]; dup {
			return nil, graphql.NewSchemaError(fmt.Sprintf("duplicate type %q", t.Name), nil)
		}
		byName[t.Name] = t
	}
	for _, name := range builtinScalars {
		if _, ok := byName[name]; !ok {
			byName[name] = &TypeDescriptor{Name: name, Kind: KindScalar}
		}
	}

	completePossibleTypes(byName)

	for _, t := range byName {
		for i := range t.Fields {
			if err := resolveRef(byName, &t.Fields[i].Type, t.Name, t.Fields[i].Name); err != nil {
				return nil, err
			}
			for j := range t.Fields[i].Args {
				if err := resolveRef(byName, &t.Fields[i].Args[j].Type, t.Name, t.Fields[i].Name); err != nil {
					return nil, err
				}
			}
		}
	}

	if queryType == "" {
		queryType = "Query"
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Snapshot{
		types:     byName,
		names:     names,
		queryType: queryType,
		mode:      mode,
		fetchedAt: fetchedAt,
	}, nil
}

func resolveRef(byName map[string]*TypeDescriptor, ref *TypeRef, owner, field string) error {
	target, ok := byName[ref.Name]
	if !ok {
		return graphql.NewSchemaError(fmt.Sprintf("field %s.%s references unknown type %q", owner, field, ref.Name), nil)
	}
	ref.Kind = target.Kind
	return nil
}

func completePossibleTypes(byName map[string]*TypeDescriptor) {
	implementers := make(map[string]map[string]bool)
	for _, t := range byName {
		if t.Kind != KindObject {
			continue
		}
		for _, iface := range t.Interfaces {
			if implementers[iface] == nil {
				implementers[iface] = make(map[string]bool)
			}
			implementers[iface][t.Name] = true
		}
	}
	for _, t := range byName {
		if t.Kind != KindInterface && t.Kind != KindUnion {
			continue
		}
		set := make(map[string]bool, len(t.PossibleTypes))
		for _, p := range t.PossibleTypes {
			set[p] = true
		}
		for name := range implementers[t.Name] {
			set[name] = true
		}
		merged := make([]string, 0, len(set))
		for name := range set {
			merged = append(merged, name)
		}
		sort.Strings(merged)
		t.PossibleTypes = merged
	}
}

// Type returns the named descriptor. The descriptor is shared by every
// reader of the snapshot and must not be modified; Graph accessors return
// copies.
func (s *Snapshot) Type(name string) (*TypeDescriptor, bool) {
	t, ok := s.types[name]
	return t, ok
}

// Names returns every type name, sorted.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len is the number of types including synthesized scalars.
func (s *Snapshot) Len() int { return len(s.names) }

// Mode reports how the snapshot was obtained.
func (s *Snapshot) Mode() Mode { return s.mode }

// FetchedAt is when the underlying payload was fetched.
func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }

// QueryTypeName is the name of the root query type.
func (s *Snapshot) QueryTypeName() string { return s.queryType }
