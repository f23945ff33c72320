package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaServicesManifest     = "#ServicesManifest"
	SchemaRequirementsManifest = "#RequirementsManifest"
)

// SchemaRegistry holds CUE definitions that manifests are unified with.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a registry with the built-in manifest schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := sr.RegisterSchemas(builtinManifestSchemas); err != nil {
		panic(fmt.Sprintf("config: built-in schemas do not compile: %v", err))
	}
	return sr
}

// RegisterSchemas compiles source and registers every top-level definition in it.
func (sr *SchemaRegistry) RegisterSchemas(source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename("schemas.cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schemas: %w", err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to list definitions: %w", err)
	}

	for iter.Next() {
		if !iter.Selector().IsDefinition() {
			continue
		}
		sr.schemas[iter.Selector().String()] = iter.Value()
	}
	return nil
}

// GetSchema retrieves a schema by definition name, e.g. "#ServicesManifest".
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate unifies data, encoded as JSON, with the named schema and returns
// every violation found.
func (sr *SchemaRegistry) Validate(name string, data any) []ValidationError {
	raw, err := json.Marshal(data)
	if err != nil {
		return []ValidationError{{Message: fmt.Sprintf("failed to encode data: %v", err), Severity: SeverityError}}
	}

	// cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[name]
	if !ok {
		return []ValidationError{{Message: fmt.Sprintf("schema %s not found", name), Severity: SeverityError}}
	}

	dataVal := sr.ctx.CompileBytes(raw)
	if err := dataVal.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinManifestSchemas = `
#ServiceName: =~"^[a-z][a-z0-9_]*$"

#ServiceEntry: {
	name:           #ServiceName
	implementation: string & !=""
	dependencies?: [...#ServiceName]
	config?: {...}
	singleton?: bool
	optional?:  bool
	when?:      string
}

#ServicesManifest: {
	version?: string
	services: [...#ServiceEntry]
}

#Package: {
	module:       string & !=""
	install?:     string
	description?: string
}

#EnvName: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Requirement: {
	service: #ServiceName
	packages?: {
		required?: [...#Package]
		optional?: [...#Package]
	}
	env?: {
		required?: [...#EnvName]
		optional?: [...#EnvName]
	}
}

#RequirementsManifest: {
	version?: string
	services: [...#Requirement]
}
`
