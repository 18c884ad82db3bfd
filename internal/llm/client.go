// Package llm adapts the remote text-generation API to the pipeline's
// LLMClient contract: a multi-key credential pool with cooldown/disable
// bookkeeping in front of a single structured-output call per batch.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/bobmcallan/topicforge/internal/common"
	"github.com/bobmcallan/topicforge/internal/interfaces"
	"github.com/bobmcallan/topicforge/internal/models"
)

const DefaultModel = "gemini-2.0-flash"

var _ interfaces.LLMClient = (*Client)(nil)

// transportFunc performs one generate-content round trip for a built
// prompt against a specific credential and returns the raw model text.
// It is a field on Client (not a free function) so tests can substitute a
// canned responder without reaching the network.
type transportFunc func(ctx context.Context, apiKey, model, prompt string) (string, error)

// Client implements interfaces.LLMClient over the Gemini API, structured
// JSON output, and a rotating credential pool.
type Client struct {
	pool      *Pool
	model     string
	timeout   time.Duration
	logger    *common.Logger
	transport transportFunc

	mu      sync.Mutex
	genai   map[string]*genai.Client
}

// NewClient builds a Client backed by a credential pool over apiKeys. One
// *genai.Client is lazily created per key and cached, since genai.Client
// is bound to a single API key at construction time.
func NewClient(apiKeys []string, model string, timeout, keyCooldown time.Duration, logger *common.Logger) (*Client, error) {
	pool, err := NewPool(apiKeys, 1, keyCooldown)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	c := &Client{
		pool:    pool,
		model:   model,
		timeout: timeout,
		logger:  logger,
		genai:   make(map[string]*genai.Client),
	}
	c.transport = c.genaiTransport
	return c, nil
}

// CleanBatch sends items to the LLM in a single structured-output call and
// returns one response per input id, in input order. See parseEnvelope
// for the strict all-or-nothing validation applied to the reply.
func (c *Client) CleanBatch(ctx context.Context, items []models.LLMRequestItem) ([]models.LLMResponseItem, error) {
	if len(items) == 0 {
		return nil, nil
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.pool.ActiveCount() == 0 {
		logUnavailable(c.logger, 0, len(c.pool.keys))
	}

	lease, err := c.pool.Acquire(callCtx)
	if err != nil {
		return nil, fmt.Errorf("llm: clean batch: %w", err)
	}

	prompt, err := buildPrompt(items)
	if err != nil {
		return nil, fmt.Errorf("llm: clean batch: %w", err)
	}

	text, callErr := c.transport(callCtx, lease.Key, c.model, prompt)
	lease.Release(callErr)
	if callErr != nil {
		if callCtx.Err() != nil {
			return nil, &Timeout{Err: callErr}
		}
		return nil, callErr
	}

	responseItems, err := parseEnvelope([]byte(text), items)
	if err != nil {
		return nil, err
	}

	ordered := make([]models.LLMResponseItem, 0, len(items))
	byID := make(map[int64]models.LLMResponseItem, len(responseItems))
	for _, r := range responseItems {
		byID[r.ID] = r
	}
	for _, req := range items {
		ordered = append(ordered, byID[req.ID])
	}
	return ordered, nil
}

// genaiTransport is the default transportFunc: it resolves (or creates and
// caches) a *genai.Client for apiKey and issues one GenerateContent call
// configured for strict JSON output against the cleaning schema.
func (c *Client) genaiTransport(ctx context.Context, apiKey, model, prompt string) (string, error) {
	gc, err := c.clientFor(ctx, apiKey)
	if err != nil {
		return "", classifyGenaiErr(err)
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	result, err := gc.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", classifyGenaiErr(err)
	}

	text, err := extractText(result)
	if err != nil {
		return "", &ParseError{Err: err}
	}
	return text, nil
}

func (c *Client) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gc, ok := c.genai[apiKey]; ok {
		return gc, nil
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	c.genai[apiKey] = gc
	return gc, nil
}

func extractText(result *genai.GenerateContentResponse) (string, error) {
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return "", fmt.Errorf("no content generated")
	}
	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response text")
	}
	return sb.String(), nil
}

// responseSchema describes the strict per-item envelope the model must
// return: an array with one object per requested id.
func responseSchema() *genai.Schema {
	stringArray := &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}
	return &genai.Schema{
		Type: genai.TypeArray,
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"id":               {Type: genai.TypeInteger},
				"title":            {Type: genai.TypeString},
				"description":      {Type: genai.TypeString},
				"category":         {Type: genai.TypeString},
				"tags":             stringArray,
				"technologies":     stringArray,
				"complexity_level": {Type: genai.TypeString},
			},
			Required: []string{"id", "title", "description", "category", "tags", "technologies", "complexity_level"},
		},
	}
}

func buildPrompt(items []models.LLMRequestItem) (string, error) {
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal request items: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("You clean up raw topic titles for a technical content pipeline. ")
	sb.WriteString("For each input object, return a cleaned title, a short description, ")
	sb.WriteString("a category, a list of tags, a list of relevant technologies, and a ")
	sb.WriteString("complexity_level (one of: beginner, intermediate, advanced). ")
	sb.WriteString("Return exactly one output object per input id, preserving the id field. ")
	sb.WriteString("Input:\n")
	sb.Write(payload)
	return sb.String(), nil
}

var statusCodeRE = regexp.MustCompile(`\b(40[13]|429|5\d\d)\b`)

// classifyGenaiErr maps an error returned by the genai SDK to this
// package's typed error taxonomy. The SDK does not export a stable
// exported status-code type across transports (REST vs. Vertex), so the
// code is extracted from the error's string form, matching the same
// convention used to detect SQLITE_BUSY in the Store.
func classifyGenaiErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "deadline exceeded") || strings.Contains(lower, "context deadline") {
		return &Timeout{Err: err}
	}

	match := statusCodeRE.FindString(msg)
	status := 0
	if match != "" {
		status, _ = strconv.Atoi(match)
	}
	return classifyHTTPError(status, msg, err)
}
