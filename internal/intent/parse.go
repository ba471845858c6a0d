package intent

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed response.schema.json
var responseSchemaJSON []byte

const responseSchemaURL = "techne://intent/response.schema.json"

var (
	schemaOnce     sync.Once
	responseSchema *jsonschema.Schema
	schemaErr      error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(responseSchemaURL, bytes.NewReader(responseSchemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		responseSchema, schemaErr = compiler.Compile(responseSchemaURL)
	})
	return responseSchema, schemaErr
}

// FallbackReasoning is the reasoning attached to every unparseable reply.
const FallbackReasoning = "Failed to parse LLM response"

// Fallback is returned for any reply that is not a valid classification.
func Fallback() Result {
	return Result{IsSearch: false, Confidence: 0, Reasoning: FallbackReasoning}
}

// ParseResponse extracts the classification from a raw model reply. The
// JSON object is taken from the first '{' to the last '}', so leading or
// trailing prose is tolerated. Any parse or shape failure yields Fallback.
func ParseResponse(resp string) Result {
	r, err := parseResponse(resp)
	if err != nil {
		slog.Warn("intent response rejected", "error", err, "response", resp)
		return Fallback()
	}
	return r
}

func parseResponse(resp string) (Result, error) {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start == -1 || end <= start {
		return Result{}, errors.New("no JSON object in response")
	}
	raw := []byte(resp[start : end+1])

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return Result{}, fmt.Errorf("unmarshal: %w", err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return Result{}, err
	}
	if err := schema.Validate(instance); err != nil {
		return Result{}, fmt.Errorf("validate: %w", err)
	}

	var body struct {
		IsSearch    bool    `json:"isSearch"`
		SearchQuery any     `json:"searchQuery"`
		Confidence  float64 `json:"confidence"`
		Reasoning   any     `json:"reasoning"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Result{}, fmt.Errorf("decode: %w", err)
	}

	r := Result{IsSearch: body.IsSearch, Confidence: body.Confidence}
	// Non-string optional fields are dropped rather than rejected.
	if q, ok := body.SearchQuery.(string); ok {
		r.SearchQuery = q
	}
	if why, ok := body.Reasoning.(string); ok {
		r.Reasoning = why
	}
	return r, nil
}
