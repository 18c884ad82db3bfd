package llm

import (
	"testing"

	"github.com/bobmcallan/topicforge/internal/models"
	"github.com/stretchr/testify/require"
)

func reqItems(ids ...int64) []models.LLMRequestItem {
	out := make([]models.LLMRequestItem, len(ids))
	for i, id := range ids {
		out[i] = models.LLMRequestItem{ID: id, Title: "title"}
	}
	return out
}

func TestParseEnvelopeHappyPath(t *testing.T) {
	raw := []byte(`[
		{"id":1,"title":"Go Concurrency","description":"d","category":"concurrency","tags":["go"],"technologies":["go"],"complexity_level":"beginner"},
		{"id":2,"title":"SQLite WAL Mode","description":"d","category":"storage","tags":["sqlite"],"technologies":["sqlite"],"complexity_level":"intermediate"}
	]`)
	items, err := parseEnvelope(raw, reqItems(1, 2))
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestParseEnvelopeRejectsWrongCount(t *testing.T) {
	raw := []byte(`[{"id":1,"title":"t","description":"d","category":"c","tags":[],"technologies":[],"complexity_level":"beginner"}]`)
	_, err := parseEnvelope(raw, reqItems(1, 2))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParseEnvelopeRejectsUnknownID(t *testing.T) {
	raw := []byte(`[{"id":99,"title":"t","description":"d","category":"c","tags":[],"technologies":[],"complexity_level":"beginner"}]`)
	_, err := parseEnvelope(raw, reqItems(1))
	require.Error(t, err)
}

func TestParseEnvelopeRejectsDuplicateID(t *testing.T) {
	raw := []byte(`[
		{"id":1,"title":"t","description":"d","category":"c","tags":[],"technologies":[],"complexity_level":"beginner"},
		{"id":1,"title":"t2","description":"d","category":"c","tags":[],"technologies":[],"complexity_level":"beginner"}
	]`)
	_, err := parseEnvelope(raw, reqItems(1, 2))
	require.Error(t, err)
}

func TestParseEnvelopeRejectsEmptyRequiredField(t *testing.T) {
	raw := []byte(`[{"id":1,"title":"","description":"d","category":"c","tags":[],"technologies":[],"complexity_level":"beginner"}]`)
	_, err := parseEnvelope(raw, reqItems(1))
	require.Error(t, err)
}

func TestParseEnvelopeRejectsMalformedJSON(t *testing.T) {
	_, err := parseEnvelope([]byte(`not json`), reqItems(1))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestParseEnvelopeRejectsMissingID(t *testing.T) {
	raw := []byte(`[{"id":1,"title":"t","description":"d","category":"c","tags":[],"technologies":[],"complexity_level":"beginner"}]`)
	_, err := parseEnvelope(raw, reqItems(1, 2))
	require.Error(t, err)
}
