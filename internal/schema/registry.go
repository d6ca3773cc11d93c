// Package schema holds the JSON Schemas that request bodies are validated against.
package schema

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names.
const (
	OCRRequest      = "ocr_request"
	OCRBatchRequest = "ocr_batch_request"
)

// Schema is an embedded JSON Schema document.
type Schema struct {
	Name   string // e.g. "ocr_request"
	Source string // raw JSON
}

var registry = []string{OCRRequest, OCRBatchRequest}

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

// All returns all schemas sorted by name.
func All() ([]Schema, error) {
	schemas := make([]Schema, 0, len(registry))
	for _, name := range registry {
		s, err := Get(name)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, *s)
	}
	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Name < schemas[j].Name
	})
	return schemas, nil
}

// Get returns a single schema by name.
func Get(name string) (*Schema, error) {
	for _, n := range registry {
		if n != name {
			continue
		}
		content, err := schemaFS.ReadFile(filename(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		return &Schema{Name: name, Source: string(content)}, nil
	}
	return nil, fmt.Errorf("schema not found: %s", name)
}

// compileAll compiles every embedded schema once.
func compileAll() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		schemas, err := All()
		if err != nil {
			compileErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		for _, s := range schemas {
			if err := compiler.AddResource(filename(s.Name), bytes.NewReader([]byte(s.Source))); err != nil {
				compileErr = fmt.Errorf("failed to load schema %s: %w", s.Name, err)
				return
			}
		}
		out := make(map[string]*jsonschema.Schema, len(schemas))
		for _, s := range schemas {
			c, err := compiler.Compile(filename(s.Name))
			if err != nil {
				compileErr = fmt.Errorf("failed to compile schema %s: %w", s.Name, err)
				return
			}
			out[s.Name] = c
		}
		compiled = out
	})
	return compiled, compileErr
}

func filename(name string) string {
	return "schemas/" + name + ".json"
}
