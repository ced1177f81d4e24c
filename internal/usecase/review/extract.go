package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kaisha-ai/promptdojo/internal/domain"
)

// evaluationPayload is the expected shape of the forced-JSON evaluation stage.
type evaluationPayload struct {
	Evaluations []domain.Evaluation `json:"evaluations"`
}

// evaluationSchema is the shape check applied after extraction: a JSON object
// whose evaluations member is an array of objects. Per-entry salvage (unknown
// criteria, bad statuses) happens later, so the schema stays deliberately loose.
var evaluationSchema = gojsonschema.NewGoLoader(map[string]any{
	"type":     "object",
	"required": []string{"evaluations"},
	"properties": map[string]any{
		"evaluations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
			},
		},
	},
})

// ExtractJSONObject recovers a JSON object from free-form model text with
// layered fallbacks: direct parse, then code-fence stripping, then slicing
// between the first '{' and the last '}'. Failure is a typed error so the
// pipeline's degrade-to-defaults path has a single trigger. Shared with the
// other forced-JSON flows.
func ExtractJSONObject(text string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty model output", domain.ErrMalformedPayload)
	}

	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), nil
	}

	// Models often wrap JSON in markdown fences despite instructions.
	unfenced := strings.TrimSpace(trimmed)
	unfenced = strings.TrimPrefix(unfenced, "```json")
	unfenced = strings.TrimPrefix(unfenced, "```")
	unfenced = strings.TrimSuffix(unfenced, "```")
	unfenced = strings.TrimSpace(unfenced)
	if json.Valid([]byte(unfenced)) {
		return json.RawMessage(unfenced), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		sliced := trimmed[start : end+1]
		if json.Valid([]byte(sliced)) {
			return json.RawMessage(sliced), nil
		}
	}

	return nil, fmt.Errorf("%w: no JSON object found in model output", domain.ErrMalformedPayload)
}

// parseEvaluationPayload extracts, shape-checks, and decodes the evaluation
// stage output.
func parseEvaluationPayload(text string) (evaluationPayload, error) {
	raw, err := ExtractJSONObject(text)
	if err != nil {
		return evaluationPayload{}, err
	}

	result, err := gojsonschema.Validate(evaluationSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return evaluationPayload{}, fmt.Errorf("%w: schema validation: %v", domain.ErrMalformedPayload, err)
	}
	if !result.Valid() {
		return evaluationPayload{}, fmt.Errorf("%w: %s", domain.ErrMalformedPayload, schemaErrors(result))
	}

	var payload evaluationPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return evaluationPayload{}, fmt.Errorf("%w: decode evaluations: %v", domain.ErrMalformedPayload, err)
	}
	return payload, nil
}

func schemaErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
