// Package openapi generates the OpenAPI 3.0 document of the admin API by
// reflecting on the request and response types of registered operations.
package openapi

import (
	"encoding/json"
	"net/http"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
)

// =============================================================================
// Generator
// =============================================================================

// Generator produces an OpenAPI 3.0 document from registered operations.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string
	operations  []Operation
	mu          sync.RWMutex
	cachedSpec  *openapi3.T
}

// Operation describes one route.
type Operation struct {
	Method      string // http.MethodGet, ...
	Path        string // e.g. "/api/v1/history"
	ID          string // operationId
	Summary     string
	Tag         string
	Query       []QueryParam
	Request     any   // Request body model, nil for none
	Response    any   // Success body model, nil for none
	Status      int   // Success status, default 200
	ErrorStatus []int // Documented error statuses
}

// QueryParam is a documented query string parameter.
type QueryParam struct {
	Name        string
	Type        string // "string", "integer", "boolean"
	Description string
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option {
	return func(g *Generator) {
		g.title = title
	}
}

// WithVersion sets the API version.
func WithVersion(version string) Option {
	return func(g *Generator) {
		g.version = version
	}
}

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) {
		g.description = description
	}
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) {
		g.servers = append(g.servers, url)
	}
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "Healer API",
		version:     "1.0.0",
		description: "Administrative API of the auto-healing service",
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Register adds an operation to the document.
func (g *Generator) Register(op Operation) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.operations = append(g.operations, op)
	g.cachedSpec = nil // Invalidate cache
}

// Generate produces the complete OpenAPI 3.0 document.
func (g *Generator) Generate() *openapi3.T {
	g.mu.RLock()
	if g.cachedSpec != nil {
		spec := g.cachedSpec
		g.mu.RUnlock()
		return spec
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// Double-check after acquiring write lock
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: make(openapi3.Schemas),
		},
	}
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	spec.Components.Schemas["Error"] = g.structSchema(reflect.TypeOf(errorBody{}), spec)

	for _, op := range g.operations {
		g.addOperation(spec, op)
	}

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the document.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		spec := g.Generate()

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(spec); err != nil {
			http.Error(w, "Failed to encode OpenAPI spec", http.StatusInternalServerError)
		}
	}
}

// errorBody mirrors the API's error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// =============================================================================
// Operation Generation
// =============================================================================

func (g *Generator) addOperation(spec *openapi3.T, op Operation) {
	status := op.Status
	if status == 0 {
		status = http.StatusOK
	}

	operation := &openapi3.Operation{
		OperationID: op.ID,
		Summary:     op.Summary,
		Responses:   openapi3.NewResponsesWithCapacity(1 + len(op.ErrorStatus)),
	}
	if op.Tag != "" {
		operation.Tags = []string{op.Tag}
	}

	for _, q := range op.Query {
		typ := q.Type
		if typ == "" {
			typ = "string"
		}
		operation.Parameters = append(operation.Parameters, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:        q.Name,
				In:          openapi3.ParameterInQuery,
				Description: q.Description,
				Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}},
			},
		})
	}

	if op.Request != nil {
		operation.RequestBody = &openapi3.RequestBodyRef{
			Value: openapi3.NewRequestBody().
				WithRequired(true).
				WithJSONSchemaRef(g.componentRef(spec, op.Request)),
		}
	}

	success := openapi3.NewResponse().WithDescription(http.StatusText(status))
	if op.Response != nil {
		success = success.WithJSONSchemaRef(g.componentRef(spec, op.Response))
	}
	operation.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{Value: success})

	for _, code := range op.ErrorStatus {
		resp := openapi3.NewResponse().
			WithDescription(http.StatusText(code)).
			WithJSONSchemaRef(&openapi3.SchemaRef{Ref: "#/components/schemas/Error"})
		operation.Responses.Set(strconv.Itoa(code), &openapi3.ResponseRef{Value: resp})
	}

	item := spec.Paths.Value(op.Path)
	if item == nil {
		item = &openapi3.PathItem{}
		spec.Paths.Set(op.Path, item)
	}
	item.SetOperation(strings.ToUpper(op.Method), operation)
}

// componentRef registers model under its type name and returns a reference.
func (g *Generator) componentRef(spec *openapi3.T, model any) *openapi3.SchemaRef {
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || t.Name() == "" || t == timeType {
		return g.schemaFor(t, spec)
	}
	if _, ok := spec.Components.Schemas[t.Name()]; !ok {
		// Reserve the name first so self-referencing types terminate.
		placeholder := &openapi3.SchemaRef{Value: &openapi3.Schema{}}
		spec.Components.Schemas[t.Name()] = placeholder
		*placeholder = *g.structSchema(t, spec)
	}
	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + t.Name()}
}

// =============================================================================
// Schema Generation
// =============================================================================

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
)

// schemaFor converts a Go type to an OpenAPI schema.
func (g *Generator) schemaFor(t reflect.Type, spec *openapi3.T) *openapi3.SchemaRef {
	switch t {
	case timeType:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time"}}
	case durationType:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:        &openapi3.Types{"integer"},
			Format:      "int64",
			Description: "nanoseconds",
		}}
	}

	switch t.Kind() {
	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}}

	case reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int64"}}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}

	case reflect.Float32:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "float"}}

	case reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}, Format: "double"}}

	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}

	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: g.schemaFor(t.Elem(), spec),
		}}

	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:                 &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{Schema: g.schemaFor(t.Elem(), spec)},
		}}

	case reflect.Ptr:
		inner := g.schemaFor(t.Elem(), spec)
		if inner.Ref != "" {
			return inner
		}
		inner.Value.Nullable = true
		return inner

	case reflect.Struct:
		if t.Name() != "" {
			return g.componentRef(spec, reflect.New(t).Elem().Interface())
		}
		return g.structSchema(t, spec)

	default:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
	}
}

// structSchema builds an object schema from exported, JSON-visible fields.
func (g *Generator) structSchema(t reflect.Type, spec *openapi3.T) *openapi3.SchemaRef {
	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		name := field.Name
		omitempty := false
		if jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitempty = true
				}
			}
		}

		schema.Properties[name] = g.schemaFor(field.Type, spec)
		if !omitempty && field.Type.Kind() != reflect.Ptr {
			schema.Required = append(schema.Required, name)
		}
	}
	sort.Strings(schema.Required)

	return &openapi3.SchemaRef{Value: schema}
}
