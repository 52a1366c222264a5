package agentruntime

import (
	"encoding/json"
	"fmt"

	"github.com/paperflow/pipeline/pkg/reliability"
)

// Validator checks whether raw matches an agent's expected typed result
// schema. A nil Validator accepts anything (no shape spec §4.C step 4
// requires the agent own the schema for this to trigger).
type Validator func(raw json.RawMessage) error

// parseResult implements spec §4.C step 4's robustness requirement: if the
// provider's response isn't the agent's expected typed shape but is still a
// well-formed JSON object, fall back to a best-effort degraded conversion
// rather than failing the whole stage.
func parseResult(raw json.RawMessage, validate Validator) (data json.RawMessage, degraded bool, err error) {
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("%w: empty provider response", reliability.ErrProviderSchema)
	}
	if validate == nil || validate(raw) == nil {
		return raw, false, nil
	}

	// Not the expected shape — only degrade if it's at least a JSON object;
	// anything else (malformed JSON, a bare scalar) is a hard parse failure.
	var generic map[string]any
	if jsonErr := json.Unmarshal(raw, &generic); jsonErr != nil {
		return nil, false, fmt.Errorf("%w: %v", reliability.ErrProviderSchema, jsonErr)
	}
	return raw, true, nil
}
