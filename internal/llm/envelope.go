package llm

import (
	"encoding/json"
	"fmt"

	"github.com/bobmcallan/topicforge/internal/models"
)

// parseEnvelope validates and decodes the LLM's strict response envelope:
// a JSON array with exactly one object per requested id, every field
// populated. Any deviation — malformed JSON, wrong length, a missing or
// duplicate id, an empty required field — is a ParseError and the whole
// batch is rejected; there is no partial acceptance.
func parseEnvelope(raw []byte, requested []models.LLMRequestItem) ([]models.LLMResponseItem, error) {
	var items []models.LLMResponseItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("decode response envelope: %w", err)}
	}

	if len(items) != len(requested) {
		return nil, &ParseError{Err: fmt.Errorf("expected %d items, got %d", len(requested), len(items))}
	}

	want := make(map[int64]bool, len(requested))
	for _, r := range requested {
		want[r.ID] = true
	}

	seen := make(map[int64]bool, len(items))
	for _, item := range items {
		if !want[item.ID] {
			return nil, &ParseError{Err: fmt.Errorf("response id %d was not in the request", item.ID)}
		}
		if seen[item.ID] {
			return nil, &ParseError{Err: fmt.Errorf("response id %d appears more than once", item.ID)}
		}
		seen[item.ID] = true

		if item.Title == "" {
			return nil, &ParseError{Err: fmt.Errorf("response id %d: empty title", item.ID)}
		}
		if item.Description == "" {
			return nil, &ParseError{Err: fmt.Errorf("response id %d: empty description", item.ID)}
		}
		if item.Category == "" {
			return nil, &ParseError{Err: fmt.Errorf("response id %d: empty category", item.ID)}
		}
		if item.Tags == nil {
			return nil, &ParseError{Err: fmt.Errorf("response id %d: missing tags", item.ID)}
		}
		if item.Technologies == nil {
			return nil, &ParseError{Err: fmt.Errorf("response id %d: missing technologies", item.ID)}
		}
		if item.ComplexityLevel == "" {
			return nil, &ParseError{Err: fmt.Errorf("response id %d: empty complexity_level", item.ID)}
		}
	}

	for id := range want {
		if !seen[id] {
			return nil, &ParseError{Err: fmt.Errorf("response missing id %d", id)}
		}
	}

	return items, nil
}
