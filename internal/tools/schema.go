package tools

import (
	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// Argument schemas for the fixed tool set. Arguments are validated against
// these before dispatch; the same schemas are exported to the model as
// function declarations.

func columnSchema(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"column": {Type: "string", Description: desc},
		},
		Required: []string{"column"},
	}
}

func valueCountsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"column": {Type: "string", Description: "The column to count values in."},
			"n":      {Type: "integer", Description: "How many top values to return (default 10)."},
		},
		Required: []string{"column"},
	}
}

func topItemsSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"column":    {Type: "string", Description: "The numeric column to sort by."},
			"n":         {Type: "integer", Description: "How many rows to return (default 5)."},
			"ascending": {Type: "boolean", Description: "Sort ascending instead of descending."},
		},
		Required: []string{"column"},
	}
}

func plotSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"metric":     {Type: "string", Description: "The numeric metric column to plot."},
			"timeColumn": {Type: "string", Description: "The date/time column. Auto-detected when omitted."},
		},
		Required: []string{"metric"},
	}
}

func playVideoSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"query": {
				Type:        "string",
				Description: "A title substring, or one of: first, last, most viewed, most popular, most liked.",
			},
		},
		Required: []string{"query"},
	}
}

func generateImageSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"prompt": {Type: "string", Description: "The image description to generate."},
		},
		Required: []string{"prompt"},
	}
}

// Declarations exports the registered tools as genai function declarations
// in registration order.
func (r *Registry) Declarations() []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenaiSchema(t.Schema),
		})
	}
	return decls
}

// toGenaiSchema converts the subset of JSON Schema used by the tool set
// into the genai schema type.
func toGenaiSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	if len(s.Required) > 0 {
		out.Required = append([]string(nil), s.Required...)
	}
	if s.Items != nil {
		out.Items = toGenaiSchema(s.Items)
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}
