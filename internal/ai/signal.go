package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseSignal extracts the judge JSON object from raw model output. Models
// occasionally wrap the JSON in prose or code fences, so the first balanced
// brace-to-brace slice is parsed rather than the whole payload.
func parseSignal(raw string) (*Signal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty judge output", ErrInvalidResponse)
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in judge output", ErrInvalidResponse)
	}

	var signal Signal
	if err := json.Unmarshal([]byte(raw[start:end+1]), &signal); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return &signal, nil
}
