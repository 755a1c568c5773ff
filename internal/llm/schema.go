package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/essay-grader/constants"
)

// BuildAnalysisJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as the output contract and used locally to validate.
func BuildAnalysisJSONSchema() map[string]any {
	criteria := map[string]any{}
	for _, c := range constants.CriteriaStrings() {
		criteria[c] = scoreProp()
	}
	stringList := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"textoCorrigido": map[string]any{"type": "string"},
			"correcoes": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"original": map[string]any{"type": "string", "minLength": 1},
						"sugerido": map[string]any{"type": "string"},
						"motivo":   map[string]any{"type": "string"},
					},
					"required": []string{"original", "sugerido"},
				},
			},
			"breakdown": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           criteria,
				"required":             constants.CriteriaStrings(),
			},
			"notaGeral":        scoreProp(),
			"pontosFavoraveis": stringList,
			"pontosMelhoria":   stringList,
			"sugestoes":        stringList,
			"comentarios":      stringList,
		},
		"required": []string{
			"textoCorrigido", "correcoes", "breakdown",
			"pontosFavoraveis", "pontosMelhoria", "sugestoes", "comentarios",
		},
	}
}

func scoreProp() map[string]any {
	return map[string]any{"type": "number", "minimum": constants.MinScore, "maximum": constants.MaxScore}
}

var compiledAnalysisSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return compileSchema(BuildAnalysisJSONSchema())
})

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateAnalysisJSON validates data against the analysis schema.
func ValidateAnalysisJSON(data []byte) error {
	schema, err := compiledAnalysisSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
