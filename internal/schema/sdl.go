package schema

import (
	"strings"
	"time"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
)

var (
	annotationDirectives = map[string]bool{"relationship": true, "stixRelationship": true}
	labelArgs            = []string{"type", "relationship_type", "relationshipType"}
	relatedArgs          = []string{"related_types", "relatedTypes", "types"}
)

// ParseSDL builds a snapshot from a schema definition document. The
// document is parsed but not validated, so platform directives do not need
// to be declared. The built-in prelude is included so that SDL and
// introspection snapshots of the same schema hold the same type set.
func ParseSDL(sdl string, fetchedAt time.Time) (*Snapshot, error) {
	if strings.TrimSpace(sdl) == "" {
		return nil, graphql.NewSchemaError("empty SDL document", nil)
	}

	doc, err := parser.ParseSchemas(validator.Prelude, &ast.Source{Name: "schema.graphql", Input: sdl})
	if err != nil {
		return nil, graphql.NewSchemaError("unparseable SDL", err)
	}

	byName := make(map[string]*TypeDescriptor, len(doc.Definitions))
	order := make([]*TypeDescriptor, 0, len(doc.Definitions))
	for _, def := range doc.Definitions {
		if _, dup := byName[def.Name]; dup {
			return nil, graphql.NewSchemaError("duplicate type "+def.Name, nil)
		}
		t := convertDefinition(def)
		byName[t.Name] = t
		order = append(order, t)
	}

	for _, ext := range doc.Extensions {
		base, ok := byName[ext.Name]
		if !ok {
			return nil, graphql.NewSchemaError("extension of undefined type "+ext.Name, nil)
		}
		extended := convertDefinition(ext)
		base.Fields = append(base.Fields, extended.Fields...)
		base.Interfaces = append(base.Interfaces, extended.Interfaces...)
		base.PossibleTypes = append(base.PossibleTypes, extended.PossibleTypes...)
		base.EnumValues = append(base.EnumValues, extended.EnumValues...)
		if base.Annotation == nil {
			base.Annotation = extended.Annotation
		}
	}

	queryType := ""
	for _, sd := range append(doc.Schema, doc.SchemaExtension...) {
		for _, op := range sd.OperationTypes {
			if op.Operation == ast.Query {
				queryType = op.Type
			}
		}
	}

	return NewSnapshot(ModeSDL, queryType, order, fetchedAt)
}

func convertDefinition(def *ast.Definition) *TypeDescriptor {
	t := &TypeDescriptor{
		Name:        def.Name,
		Kind:        Kind(def.Kind),
		Description: def.Description,
		Interfaces:  append([]string(nil), def.Interfaces...),
	}
	if def.Kind == ast.Union {
		t.PossibleTypes = append([]string(nil), def.Types...)
	}
	for _, f := range def.Fields {
		field := Field{Name: f.Name, Type: convertASTType(f.Type)}
		for _, a := range f.Arguments {
			field.Args = append(field.Args, Argument{Name: a.Name, Type: convertASTType(a.Type)})
		}
		t.Fields = append(t.Fields, field)
	}
	for _, v := range def.EnumValues {
		t.EnumValues = append(t.EnumValues, v.Name)
	}
	t.Annotation = extractAnnotation(def)
	return t
}

func convertASTType(t *ast.Type) TypeRef {
	var ref TypeRef
	for cur := t; cur != nil; cur = cur.Elem {
		if cur.NonNull {
			ref.Wrappers = append(ref.Wrappers, WrapNonNull)
		}
		if cur.Elem == nil {
			ref.Name = cur.NamedType
			break
		}
		ref.Wrappers = append(ref.Wrappers, WrapList)
	}
	return ref
}

// extractAnnotation reads relationship metadata from a directive such as
//
//	type Targets @relationship(type: "targets", related_types: ["Campaign", "Malware"])
//
// or from description lines "relationship_type: targets" and
// "related_types: Campaign, Malware".
func extractAnnotation(def *ast.Definition) *Annotation {
	var ann Annotation
	found := false

	for _, d := range def.Directives {
		if !annotationDirectives[d.Name] {
			continue
		}
		found = true
		for _, name := range labelArgs {
			if arg := d.Arguments.ForName(name); arg != nil && arg.Value != nil {
				ann.RelationshipType = arg.Value.Raw
				break
			}
		}
		for _, name := range relatedArgs {
			arg := d.Arguments.ForName(name)
			if arg == nil || arg.Value == nil {
				continue
			}
			if arg.Value.Kind == ast.ListValue {
				for _, child := range arg.Value.Children {
					if child.Value != nil && child.Value.Raw != "" {
						ann.RelatedTypes = append(ann.RelatedTypes, child.Value.Raw)
					}
				}
			} else if arg.Value.Raw != "" {
				ann.RelatedTypes = append(ann.RelatedTypes, arg.Value.Raw)
			}
			break
		}
	}

	for _, line := range strings.Split(def.Description, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(strings.ToLower(key)) {
		case "relationship_type":
			found = true
			if ann.RelationshipType == "" {
				ann.RelationshipType = value
			}
		case "related_types":
			found = true
			for _, name := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
				ann.RelatedTypes = append(ann.RelatedTypes, name)
			}
		}
	}

	if !found {
		return nil
	}
	return &ann
}
