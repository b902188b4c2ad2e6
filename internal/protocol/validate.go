package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// SchemaBase is the $id prefix every bundled schema is registered under.
const SchemaBase = "https://blockstage.ai/schemas/"

var schemaByType = map[string]string{
	TypeHello:   "hello.schema.json",
	TypeWelcome: "welcome.schema.json",
	TypeState:   "state.schema.json",
	TypeCmd:     "cmd.schema.json",
	TypeResult:  "result.schema.json",
}

// Validator checks raw frames against the bundled JSON schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	entries, err := fs.ReadDir(schemaFS, "schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(SchemaBase+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{schemas: map[string]*jsonschema.Schema{}}
	for typ, name := range schemaByType {
		s, err := c.Compile(SchemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.schemas[typ] = s
	}
	return v, nil
}

// Validate checks raw against the schema for msgType.
func (v *Validator) Validate(msgType string, raw []byte) error {
	s, ok := v.schemas[msgType]
	if !ok {
		return fmt.Errorf("no schema for message type %q", msgType)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

// ValidateValue marshals m and validates it; used by tests on outgoing frames.
func (v *Validator) ValidateValue(msgType string, m any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return v.Validate(msgType, raw)
}
