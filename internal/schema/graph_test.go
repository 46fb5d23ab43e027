package schema_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools/testutil"
)

func TestListTypeNames(t *testing.T) {
	g := sdlGraph(t, testutil.CTISchema)
	names := g.ListTypeNames()

	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "Campaign")
	assert.Contains(t, names, "StixDomainObject")
	assert.Contains(t, names, "Threat")
	assert.NotContains(t, names, "String")
	assert.NotContains(t, names, "MalwareKind")

	for _, name := range names {
		_, err := g.GetDefinition(name)
		assert.NoError(t, err, name)
	}
}

func TestGetDefinition(t *testing.T) {
	g := sdlGraph(t, testutil.CTISchema)

	t.Run("returns fields with wrapper shape", func(t *testing.T) {
		fields, err := g.GetDefinition("CampaignConnection")
		require.NoError(t, err)
		require.Len(t, fields, 2)
		assert.Equal(t, "edges", fields[0].Name)
		assert.Equal(t, "[CampaignEdge!]!", fields[0].Type.String())
		assert.Equal(t, schema.KindObject, fields[0].Type.Kind)
		assert.True(t, fields[0].Type.IsList())
	})

	t.Run("keeps field arguments", func(t *testing.T) {
		fields, err := g.GetDefinition("Malware")
		require.NoError(t, err)
		var aliases *schema.Field
		for i := range fields {
			if fields[i].Name == "aliases" {
				aliases = &fields[i]
			}
		}
		require.NotNil(t, aliases)
		require.Len(t, aliases.Args, 1)
		assert.Equal(t, "first", aliases.Args[0].Name)
		assert.Equal(t, "Int", aliases.Args[0].Type.String())
	})

	t.Run("returned fields are copies", func(t *testing.T) {
		fields, err := g.GetDefinition("Malware")
		require.NoError(t, err)
		for i := range fields {
			fields[i].Name = "changed"
			fields[i].Type.Wrappers = append(fields[i].Type.Wrappers[:0], schema.WrapList)
			for j := range fields[i].Args {
				fields[i].Args[j].Name = "changed"
				fields[i].Args[j].Type.Wrappers = nil
			}
		}

		again, err := g.GetDefinition("Malware")
		require.NoError(t, err)
		typ, _ := g.Snapshot().Type("Malware")
		assert.Equal(t, typ.Fields, again)
		for _, f := range again {
			assert.NotEqual(t, "changed", f.Name)
			if f.Name == "aliases" {
				require.Len(t, f.Args, 1)
				assert.Equal(t, "first", f.Args[0].Name)
				assert.Equal(t, "Int", f.Args[0].Type.String())
			}
			if f.Name == "id" {
				assert.Equal(t, "ID!", f.Type.String())
			}
		}
	})

	t.Run("scalar has no fields", func(t *testing.T) {
		fields, err := g.GetDefinition("String")
		require.NoError(t, err)
		assert.Empty(t, fields)
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := g.GetDefinition("Nope")
		require.Error(t, err)
		assert.True(t, errors.Is(err, graphql.ErrNotFound))
		assert.Equal(t, "type not found: Nope", err.Error())
	})
}

func TestGetQueryFields(t *testing.T) {
	t.Run("sorted root fields", func(t *testing.T) {
		g := sdlGraph(t, testutil.CTISchema)
		fields, err := g.GetQueryFields()
		require.NoError(t, err)

		var names []string
		for _, f := range fields {
			names = append(names, f.Name)
		}
		assert.Equal(t, []string{"attackPattern", "campaign", "campaigns", "malware", "malwares", "stixCoreObjects"}, names)
	})

	t.Run("custom root type name", func(t *testing.T) {
		g := sdlGraph(t, `
schema { query: Root }
type Root { ping: String }
`)
		fields, err := g.GetQueryFields()
		require.NoError(t, err)
		require.Len(t, fields, 1)
		assert.Equal(t, "ping", fields[0].Name)
	})

	t.Run("missing root type", func(t *testing.T) {
		g := sdlGraph(t, `type Campaign { id: ID }`)
		_, err := g.GetQueryFields()
		assert.True(t, errors.Is(err, graphql.ErrNotFound))
	})
}

func TestPossibleTypes(t *testing.T) {
	g := sdlGraph(t, testutil.CTISchema)

	assert.Equal(t, []string{"AttackPattern", "Malware"}, g.PossibleTypes("Threat"))
	assert.Equal(t, []string{"AttackPattern", "Campaign", "Malware"}, g.PossibleTypes("StixDomainObject"))
	assert.Equal(t, []string{"Campaign"}, g.PossibleTypes("Campaign"))
	assert.Empty(t, g.PossibleTypes("String"))
	assert.Empty(t, g.PossibleTypes("Nope"))
}

func TestSearchEntities(t *testing.T) {
	g := sdlGraph(t, testutil.CTISchema)

	t.Run("case insensitive substring", func(t *testing.T) {
		matches, err := g.SearchEntities("attack")
		require.NoError(t, err)
		assert.Equal(t, []string{"AttackPattern"}, matches)

		matches, err = g.SearchEntities("  MAL ")
		require.NoError(t, err)
		assert.Equal(t, []string{"Malware"}, matches)
	})

	t.Run("no match is an empty list", func(t *testing.T) {
		matches, err := g.SearchEntities("zzz")
		require.NoError(t, err)
		assert.NotNil(t, matches)
		assert.Empty(t, matches)
	})

	t.Run("only entities with relationships match", func(t *testing.T) {
		matches, err := g.SearchEntities("stix")
		require.NoError(t, err)
		assert.Empty(t, matches)
	})

	t.Run("empty term is rejected", func(t *testing.T) {
		for _, term := range []string{"", "   "} {
			_, err := g.SearchEntities(term)
			require.Error(t, err)
			assert.True(t, errors.Is(err, graphql.ErrInvalidArgument))
		}
	})
}
