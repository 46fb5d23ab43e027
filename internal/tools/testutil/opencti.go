package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// FakeOpenCTI is an httptest server speaking the subset of the OpenCTI API
// the server relies on: POST /graphql and GET /schema.
type FakeOpenCTI struct {
	Server *httptest.Server

	// SDL is served by /schema and, converted, answers introspection.
	SDL string
	// Token, when set, is the only bearer token accepted.
	Token string
	// Relations answers the relations mapping query.
	Relations []RelationEntry
	// QueryHandler answers every other GraphQL document. The default
	// returns {"data":{"ok":true}}.
	QueryHandler func(query string, variables map[string]interface{}) (int, string)
	// SchemaStatus overrides the /schema status code when non-zero.
	SchemaStatus int
	// IntrospectionBody overrides the introspection response when set.
	IntrospectionBody string

	IntrospectionCalls atomic.Int64
	SchemaCalls        atomic.Int64
	QueryCalls         atomic.Int64

	mu        sync.Mutex
	lastToken string
	lastQuery string
}

// RelationEntry is one schemaRelationsTypesMapping row.
type RelationEntry struct {
	Key    string   `json:"key"`
	Values []string `json:"values"`
}

// NewFakeOpenCTI starts a fake serving sdl. The server is closed when the
// test ends.
func NewFakeOpenCTI(t testing.TB, sdl string) *FakeOpenCTI {
	t.Helper()
	f := &FakeOpenCTI{SDL: sdl}
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", f.handleGraphQL)
	mux.HandleFunc("/schema", f.handleSchema)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the base URL to configure clients with.
func (f *FakeOpenCTI) URL() string {
	return f.Server.URL
}

// SetSDL swaps the served schema.
func (f *FakeOpenCTI) SetSDL(sdl string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SDL = sdl
}

// SetSchemaStatus makes /schema answer with status; zero restores it.
func (f *FakeOpenCTI) SetSchemaStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SchemaStatus = status
}

func (f *FakeOpenCTI) state() (sdl string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SDL, f.SchemaStatus
}

// LastToken is the bearer token of the most recent request.
func (f *FakeOpenCTI) LastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastToken
}

// LastQuery is the most recent non-introspection GraphQL document.
func (f *FakeOpenCTI) LastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func (f *FakeOpenCTI) authorize(w http.ResponseWriter, r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	f.lastToken = token
	f.mu.Unlock()
	if f.Token != "" && token != f.Token {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errors":[{"message":"You must be logged in to do this."}]}`)
		return false
	}
	return true
}

func (f *FakeOpenCTI) handleSchema(w http.ResponseWriter, r *http.Request) {
	f.SchemaCalls.Add(1)
	if !f.authorize(w, r) {
		return
	}
	sdl, status := f.state()
	if status != 0 && status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"schema": sdl})
}

func (f *FakeOpenCTI) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !f.authorize(w, r) {
		return
	}

	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"errors":[{"message":"bad request"}]}`)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.Contains(req.Query, "__schema"):
		f.IntrospectionCalls.Add(1)
		if f.IntrospectionBody != "" {
			_, _ = io.WriteString(w, f.IntrospectionBody)
			return
		}
		sdl, _ := f.state()
		data, err := IntrospectionFromSDL(sdl)
		if err != nil {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"errors": []map[string]string{{"message": err.Error()}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{"data": data})
	case strings.Contains(req.Query, "schemaRelationsTypesMapping"):
		relations := f.Relations
		if relations == nil {
			relations = []RelationEntry{}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"schemaRelationsTypesMapping": relations},
		})
	default:
		f.QueryCalls.Add(1)
		f.mu.Lock()
		f.lastQuery = req.Query
		f.mu.Unlock()
		if f.QueryHandler == nil {
			_, _ = io.WriteString(w, `{"data":{"ok":true}}`)
			return
		}
		status, body := f.QueryHandler(req.Query, req.Variables)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

// IntrospectionFromSDL validates sdl and renders the data member of the
// matching introspection response.
func IntrospectionFromSDL(sdl string) (json.RawMessage, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: "fixture.graphql", Input: sdl})
	if err != nil {
		return nil, err
	}

	types := make([]map[string]interface{}, 0, len(s.Types))
	for _, def := range s.Types {
		types = append(types, introspectType(s, def))
	}

	var queryType interface{}
	if s.Query != nil {
		queryType = map[string]string{"name": s.Query.Name}
	}
	return json.Marshal(map[string]interface{}{
		"__schema": map[string]interface{}{
			"queryType":        queryType,
			"mutationType":     nil,
			"subscriptionType": nil,
			"types":            types,
		},
	})
}

func introspectType(s *ast.Schema, def *ast.Definition) map[string]interface{} {
	out := map[string]interface{}{
		"kind":          string(def.Kind),
		"name":          def.Name,
		"description":   def.Description,
		"fields":        nil,
		"inputFields":   nil,
		"interfaces":    nil,
		"enumValues":    nil,
		"possibleTypes": nil,
	}

	switch def.Kind {
	case ast.Object, ast.Interface:
		fields := []map[string]interface{}{}
		for _, f := range def.Fields {
			if strings.HasPrefix(f.Name, "__") {
				continue
			}
			args := []map[string]interface{}{}
			for _, a := range f.Arguments {
				args = append(args, map[string]interface{}{"name": a.Name, "type": typeRef(s, a.Type)})
			}
			fields = append(fields, map[string]interface{}{
				"name": f.Name,
				"args": args,
				"type": typeRef(s, f.Type),
			})
		}
		out["fields"] = fields
		interfaces := []map[string]interface{}{}
		for _, name := range def.Interfaces {
			interfaces = append(interfaces, map[string]interface{}{"kind": "INTERFACE", "name": name})
		}
		out["interfaces"] = interfaces
	case ast.InputObject:
		fields := []map[string]interface{}{}
		for _, f := range def.Fields {
			fields = append(fields, map[string]interface{}{"name": f.Name, "type": typeRef(s, f.Type)})
		}
		out["inputFields"] = fields
	case ast.Enum:
		values := []map[string]string{}
		for _, v := range def.EnumValues {
			values = append(values, map[string]string{"name": v.Name})
		}
		out["enumValues"] = values
	}

	if def.Kind == ast.Interface || def.Kind == ast.Union {
		possible := []map[string]interface{}{}
		for _, p := range s.GetPossibleTypes(def) {
			possible = append(possible, map[string]interface{}{"kind": string(p.Kind), "name": p.Name})
		}
		out["possibleTypes"] = possible
	}
	return out
}

func typeRef(s *ast.Schema, t *ast.Type) map[string]interface{} {
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return map[string]interface{}{"kind": "NON_NULL", "name": nil, "ofType": typeRef(s, &inner)}
	}
	if t.Elem != nil {
		return map[string]interface{}{"kind": "LIST", "name": nil, "ofType": typeRef(s, t.Elem)}
	}
	kind := "SCALAR"
	if def, ok := s.Types[t.NamedType]; ok {
		kind = string(def.Kind)
	}
	return map[string]interface{}{"kind": kind, "name": t.NamedType, "ofType": nil}
}
