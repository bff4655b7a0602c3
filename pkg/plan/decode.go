package plan

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaURL = "https://agentflow.dev/schemas/change-plan.json"

//go:embed schema.json
var schemaJSON string

var (
	compiledSchema *jsonschema.Schema
	compileErr     error
	compileOnce    sync.Once

	printer = message.NewPrinter(language.English)

	// Matches a whole payload wrapped in one ``` or ```json fence.
	fencedPattern = regexp.MustCompile("(?s)^```(?:json|JSON)?\\s*\\n(.*?)\\n?```$")
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			compileErr = fmt.Errorf("unmarshal plan schema: %w", err)
			return
		}
		if err := c.AddResource(schemaURL, doc); err != nil {
			compileErr = fmt.Errorf("add plan schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile(schemaURL)
	})
	return compiledSchema, compileErr
}

// Decode validates an untrusted JSON payload and returns a fully typed plan,
// or a *ValidationError naming the first offending field.
func Decode(payload []byte) (*ChangePlan, error) {
	sch, err := schema()
	if err != nil {
		return nil, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return nil, &ValidationError{Field: "/", Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	if err := sch.Validate(doc); err != nil {
		return nil, toValidationError(err)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	var p ChangePlan
	if err := dec.Decode(&p); err != nil {
		return nil, &ValidationError{Field: "/", Reason: err.Error()}
	}
	if p.Actions == nil {
		p.Actions = []Action{}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeText decodes model output that must consist of exactly one JSON
// object, optionally inside a single code fence. Prose around the object is
// rejected rather than stripped.
func DecodeText(raw string) (*ChangePlan, error) {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	return Decode([]byte(payload))
}

// ExtractJSON returns the JSON object in raw, which must be either the bare
// object or the object inside one fence.
func ExtractJSON(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if m := fencedPattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return "", &ValidationError{Field: "/", Reason: "output must be a single JSON object with no surrounding prose"}
	}
	return text, nil
}

func toValidationError(err error) error {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{Field: "/", Reason: err.Error()}
	}
	leaf := firstLeaf(verr)

	loc := "/" + strings.Join(leaf.InstanceLocation, "/")
	if loc == "/" {
		loc = ""
	}
	switch k := leaf.ErrorKind.(type) {
	case *kind.Required:
		if len(k.Missing) > 0 {
			return &ValidationError{Field: loc + "/" + k.Missing[0], Reason: "required field is missing"}
		}
	case *kind.AdditionalProperties:
		if len(k.Properties) > 0 {
			return &ValidationError{Field: loc + "/" + k.Properties[0], Reason: "field is not allowed here"}
		}
	}
	if loc == "" {
		loc = "/"
	}
	return &ValidationError{Field: loc, Reason: leaf.ErrorKind.LocalizedString(printer)}
}

// firstLeaf walks to the deepest first cause, which names the precise field.
func firstLeaf(verr *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}
	return verr
}
