package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paperflow/pipeline/pkg/models"
)

// ErrMissingInput is the non-retryable failure a stage gets when a required
// prior-stage field can't be found (spec §4.D "Job context").
var ErrMissingInput = errors.New("orchestrator: missing required input")

// ProjectField implements spec §4.D's "input projection": look up a list of
// candidate keys in priority order inside a prior stage's result_data and
// return the first non-empty string found, tolerating schema drift between
// agents (e.g. CONTENT_SUMMARIZER reading PAPER_PROCESSOR's "textContent" or,
// failing that, "extractedText").
func ProjectField(result *models.AgentResult, candidateKeys []string) (string, error) {
	if result == nil || len(result.ResultData) == 0 {
		return "", fmt.Errorf("%w: no prior result available", ErrMissingInput)
	}
	var fields map[string]any
	if err := json.Unmarshal(result.ResultData, &fields); err != nil {
		return "", fmt.Errorf("%w: prior result is not a JSON object: %v", ErrMissingInput, err)
	}
	for _, key := range candidateKeys {
		if v, ok := fields[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, nil
			}
		}
	}
	return "", fmt.Errorf("%w: none of %v present", ErrMissingInput, candidateKeys)
}

// candidateTextKeys is the priority-ordered key list spec §4.D gives as its
// example for locating a paper's extracted body text across agents with
// slightly different output shapes.
var candidateTextKeys = []string{"textContent", "extractedText", "content", "text"}

// buildStageInput projects the fields a stage needs out of the job context
// and marshals them into the JSON the agent task carries as Input. Every
// downstream stage besides PAPER_PROCESSOR needs the paper's text body;
// stages that also need the paper_id/user_id get it from the run itself.
func buildStageInput(run *models.PipelineRun, upstream models.AgentID) (json.RawMessage, error) {
	text, err := ProjectField(run.Context[upstream], candidateTextKeys)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"paper_id": string(run.PaperID),
		"text":     text,
	})
}
