package llm

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/paperflow/pipeline/pkg/reliability"
)

// classifyAnthropicError maps the SDK's status-carrying error type into the
// reliability package's sentinel kinds (ErrTransient for 429/5xx,
// ErrInvalidInput otherwise), the same classification
// reliability.NewStatusError applies to plain HTTP calls.
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return reliability.NewStatusError(apiErr.StatusCode, fmt.Sprintf("anthropic: %s", apiErr.Error()))
	}
	return fmt.Errorf("%w: %v", reliability.ErrTransient, err)
}
