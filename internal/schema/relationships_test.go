package schema_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FiligranHQ/xtm-mcp/internal/graphql"
	"github.com/FiligranHQ/xtm-mcp/internal/schema"
	"github.com/FiligranHQ/xtm-mcp/internal/tools/testutil"
)

func sdlGraph(t *testing.T, sdl string) *schema.Graph {
	t.Helper()
	snap, err := schema.ParseSDL(sdl, time.Now())
	require.NoError(t, err)
	return schema.NewGraph(snap)
}

func introspectionGraph(t *testing.T, sdl string) *schema.Graph {
	t.Helper()
	data, err := testutil.IntrospectionFromSDL(sdl)
	require.NoError(t, err)
	snap, err := schema.ParseIntrospection(data, time.Now())
	require.NoError(t, err)
	return schema.NewGraph(snap)
}

func TestMapping_MinimalSchema(t *testing.T) {
	for name, build := range map[string]func(*testing.T, string) *schema.Graph{
		"sdl":           sdlGraph,
		"introspection": introspectionGraph,
	} {
		t.Run(name, func(t *testing.T) {
			g := build(t, testutil.MinimalSchema)
			m := g.Mapping()

			assert.Equal(t, map[string][]string{
				"Campaign": {"Targets"},
				"Malware":  {"Targets"},
			}, m.FullMapping())

			rels, err := m.MappingFor("Campaign")
			require.NoError(t, err)
			assert.Equal(t, []string{"Targets"}, rels)

			matches, err := g.SearchEntities("camp")
			require.NoError(t, err)
			assert.Equal(t, []string{"Campaign"}, matches)
		})
	}
}

func TestMapping_CTISchema(t *testing.T) {
	g := sdlGraph(t, testutil.CTISchema)
	m := g.Mapping()

	t.Run("full mapping has sorted relationship lists", func(t *testing.T) {
		assert.Equal(t, map[string][]string{
			"AttackPattern": {"Uses"},
			"Campaign":      {"Targets", "Uses"},
			"IPv4Addr":      {"Indicates"},
			"Malware":       {"Indicates", "Targets", "Uses"},
		}, m.FullMapping())
	})

	t.Run("union endpoints resolve to their members", func(t *testing.T) {
		c, ok := g.Classification("Uses")
		require.True(t, ok)
		assert.Equal(t, schema.RoleRelationship, c.Role)
		assert.Equal(t, []string{"AttackPattern", "Campaign", "Malware"}, c.Endpoints)
	})

	t.Run("relationship without entity endpoints contributes nothing", func(t *testing.T) {
		c, ok := g.Classification("Orphan")
		require.True(t, ok)
		assert.Equal(t, schema.RoleRelationship, c.Role)
		assert.Empty(t, c.Endpoints)
		for entity, rels := range m.FullMapping() {
			assert.NotContains(t, rels, "Orphan", entity)
		}
		assert.Contains(t, m.RelationshipTypes(), "Orphan")
	})

	t.Run("structural types are not entities", func(t *testing.T) {
		for _, name := range []string{"Query", "PageInfo", "CampaignConnection", "CampaignEdge", "__Type"} {
			c, ok := g.Classification(name)
			require.True(t, ok, name)
			assert.Equal(t, schema.RoleOther, c.Role, name)
		}
	})

	t.Run("every mapped relationship is classified as one", func(t *testing.T) {
		for entity, rels := range m.FullMapping() {
			assert.True(t, m.IsEntity(entity), entity)
			for _, rel := range rels {
				c, ok := g.Classification(rel)
				require.True(t, ok)
				assert.Equal(t, schema.RoleRelationship, c.Role, rel)
				assert.Contains(t, c.Endpoints, entity)
			}
		}
	})

	t.Run("entity without relationships maps to empty list", func(t *testing.T) {
		rels, err := m.MappingFor("StixCoreObject")
		require.NoError(t, err)
		assert.NotNil(t, rels)
		assert.Empty(t, rels)
	})

	t.Run("unknown entity is not found", func(t *testing.T) {
		_, err := m.MappingFor("Nonexistent")
		require.Error(t, err)
		assert.True(t, errors.Is(err, graphql.ErrNotFound))

		_, err = m.MappingFor("Targets")
		assert.True(t, errors.Is(err, graphql.ErrNotFound))
	})

	t.Run("full mapping is a copy", func(t *testing.T) {
		full := m.FullMapping()
		full["Campaign"][0] = "changed"
		rels, err := m.MappingFor("Campaign")
		require.NoError(t, err)
		assert.Equal(t, []string{"Targets", "Uses"}, rels)
	})
}

func TestMapping_SDLMatchesIntrospection(t *testing.T) {
	fromSDL := sdlGraph(t, testutil.CTISchema).Mapping().FullMapping()
	fromIntrospection := introspectionGraph(t, testutil.CTISchema).Mapping().FullMapping()

	// Indicates is only recognizable through its directive, which
	// introspection does not carry.
	for entity, rels := range fromSDL {
		kept := rels[:0:0]
		for _, rel := range rels {
			if rel != "Indicates" {
				kept = append(kept, rel)
			}
		}
		if len(kept) == 0 {
			delete(fromSDL, entity)
			continue
		}
		fromSDL[entity] = kept
	}

	assert.Equal(t, fromSDL, fromIntrospection)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "entity", schema.RoleEntity.String())
	assert.Equal(t, "relationship", schema.RoleRelationship.String())
	assert.Equal(t, "other", schema.RoleOther.String())
}
