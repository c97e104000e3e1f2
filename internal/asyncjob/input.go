package asyncjob

import (
	"encoding/json"
	"fmt"
	"strings"

	"imagegateway/internal/domain"
)

// inputEnvelope is the body of an input object.
type inputEnvelope struct {
	Prompt string `json:"prompt"`
	domain.Params
}

// ParseInput reads an input object: a JSON body with a prompt and optional
// parameters, or plain text taken as the prompt.
func ParseInput(raw []byte) (domain.InferenceRequest, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return domain.InferenceRequest{}, fmt.Errorf("%w: empty input", domain.ErrValidation)
	}
	if strings.HasPrefix(trimmed, "{") {
		var in inputEnvelope
		if err := json.Unmarshal([]byte(trimmed), &in); err != nil {
			return domain.InferenceRequest{}, fmt.Errorf("%w: invalid input json: %v", domain.ErrValidation, err)
		}
		return domain.InferenceRequest{Prompt: in.Prompt, Params: in.Params, Mode: domain.ModeSync}, nil
	}
	return domain.InferenceRequest{Prompt: trimmed, Mode: domain.ModeSync}, nil
}
