package schema

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

// IntrospectionQuery is the standard full-schema introspection document.
// Type references are unwrapped eight levels deep, enough for [[T!]!]!.
const IntrospectionQuery = `query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    subscriptionType { name }
    types { ...FullType }
  }
}

fragment FullType on __Type {
  kind
  name
  description
  fields(includeDeprecated: true) {
    name
    args { ...InputValue }
    type { ...TypeRef }
  }
  inputFields { ...InputValue }
  interfaces { ...TypeRef }
  enumValues(includeDeprecated: true) { name }
  possibleTypes { ...TypeRef }
}

fragment InputValue on __InputValue {
  name
  type { ...TypeRef }
}

fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
            ofType {
              kind
              name
              ofType {
                kind
                name
              }
            }
          }
        }
      }
    }
  }
}`

type introspectionData struct {
	Schema *struct {
		QueryType *struct {
			Name string `json:"name"`
		} `json:"queryType"`
		Types *[]introspectionType `json:"types"`
	} `json:"__schema"`
}

type introspectionType struct {
	Kind          string               `json:"kind"`
	Name          *string              `json:"name"`
	Description   *string              `json:"description"`
	Fields        []introspectionField `json:"fields"`
	InputFields   []introspectionValue `json:"inputFields"`
	Interfaces    []introspectionRef   `json:"interfaces"`
	EnumValues    []introspectionEnum  `json:"enumValues"`
	PossibleTypes []introspectionRef   `json:"possibleTypes"`
}

type introspectionEnum struct {
	Name string `json:"name"`
}

type introspectionField struct {
	Name string               `json:"name"`
	Args []introspectionValue `json:"args"`
	Type introspectionRef     `json:"type"`
}

type introspectionValue struct {
	Name string           `json:"name"`
	Type introspectionRef `json:"type"`
}

type introspectionRef struct {
	Kind   string            `json:"kind"`
	Name   *string           `json:"name"`
	OfType *introspectionRef `json:"ofType"`
}

// ParseIntrospection builds a snapshot from the "data" member of an
// introspection response.
func ParseIntrospection(data []byte, fetchedAt time.Time) (*Snapshot, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, graphql.NewSchemaError("introspection returned no data (is introspection disabled?)", nil)
	}

	var payload introspectionData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, graphql.NewSchemaError("malformed introspection result", err)
	}
	if payload.Schema == nil {
		return nil, graphql.NewSchemaError("introspection result has no __schema (is introspection disabled?)", nil)
	}
	if payload.Schema.Types == nil {
		return nil, graphql.NewSchemaError("introspection result has no types list", nil)
	}
	if len(*payload.Schema.Types) == 0 {
		return nil, graphql.NewSchemaError("introspection returned an empty types list", nil)
	}

	types := make([]*TypeDescriptor, 0, len(*payload.Schema.Types))
	for _, it := range *payload.Schema.Types {
		t, err := convertIntrospectionType(it)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}

	queryType := ""
	if payload.Schema.QueryType != nil {
		queryType = payload.Schema.QueryType.Name
	}

	return NewSnapshot(ModeIntrospection, queryType, types, fetchedAt)
}

func convertIntrospectionType(it introspectionType) (*TypeDescriptor, error) {
	if it.Name == nil || *it.Name == "" {
		return nil, graphql.NewSchemaError(fmt.Sprintf("%s type without a name", it.Kind), nil)
	}
	t := &TypeDescriptor{
		Name: *it.Name,
		Kind: Kind(it.Kind),
	}
	if it.Description != nil {
		t.Description = *it.Description
	}

	switch t.Kind {
	case KindObject, KindInterface, KindUnion, KindEnum, KindScalar, KindInputObject:
	default:
		return nil, graphql.NewSchemaError(fmt.Sprintf("type %s has unknown kind %q", t.Name, it.Kind), nil)
	}

	for _, f := range it.Fields {
		ref, err := convertRef(f.Type)
		if err != nil {
			return nil, err
		}
		field := Field{Name: f.Name, Type: ref}
		for _, a := range f.Args {
			argRef, err := convertRef(a.Type)
			if err != nil {
				return nil, err
			}
			field.Args = append(field.Args, Argument{Name: a.Name, Type: argRef})
		}
		t.Fields = append(t.Fields, field)
	}
	for _, f := range it.InputFields {
		ref, err := convertRef(f.Type)
		if err != nil {
			return nil, err
		}
		t.Fields = append(t.Fields, Field{Name: f.Name, Type: ref})
	}
	for _, i := range it.Interfaces {
		if i.Name != nil {
			t.Interfaces = append(t.Interfaces, *i.Name)
		}
	}
	for _, p := range it.PossibleTypes {
		if p.Name != nil {
			t.PossibleTypes = append(t.PossibleTypes, *p.Name)
		}
	}
	for _, e := range it.EnumValues {
		t.EnumValues = append(t.EnumValues, e.Name)
	}
	return t, nil
}

// convertRef unwraps NON_NULL and LIST layers down to the named type.
func convertRef(r introspectionRef) (TypeRef, error) {
	var ref TypeRef
	cur := &r
	for cur != nil {
		switch cur.Kind {
		case "NON_NULL":
			ref.Wrappers = append(ref.Wrappers, WrapNonNull)
		case "LIST":
			ref.Wrappers = append(ref.Wrappers, WrapList)
		default:
			if cur.Name == nil {
				return TypeRef{}, graphql.NewSchemaError("named type reference without a name", nil)
			}
			ref.Name = *cur.Name
			ref.Kind = Kind(cur.Kind)
			return ref, nil
		}
		cur = cur.OfType
	}
	return TypeRef{}, graphql.NewSchemaError("type reference nested too deeply", nil)
}
