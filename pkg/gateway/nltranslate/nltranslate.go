// Package nltranslate provides the one optional, concrete implementation of
// universe.NLPatchTranslator: a thin adapter over the Anthropic Messages API
// that turns a natural-language intervention into a structured
// VARIABLE_DELTA or EVENT_SCRIPT intervention, §4.3 NL_QUERY / §6. Nothing
// else in this module imports an LLM SDK — the Node Service depends only on
// the narrow interface this package implements.
package nltranslate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/scenariograph/predictive-sim/pkg/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by this
// adapter, so tests can substitute a fake without a network dependency.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Translator implements universe.NLPatchTranslator.
type Translator struct {
	msg       MessagesClient
	modelID   string
	maxTokens int
}

// New constructs a Translator. modelID should be one of the anthropic-sdk-go
// model constants (e.g. string(sdk.ModelClaudeSonnet4_5_20250929)).
func New(msg MessagesClient, modelID string, maxTokens int) (*Translator, error) {
	if msg == nil {
		return nil, errors.New("nltranslate: anthropic client is required")
	}
	if modelID == "" {
		return nil, errors.New("nltranslate: model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &Translator{msg: msg, modelID: modelID, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a Translator using the default Anthropic HTTP
// client configured from apiKey.
func NewFromAPIKey(apiKey, modelID string) (*Translator, error) {
	if apiKey == "" {
		return nil, errors.New("nltranslate: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&client.Messages, modelID, 1024)
}

// patchResponse is the structured shape the prompt asks the model to return;
// translation fails closed if the model's reply does not parse into this.
type patchResponse struct {
	Type           string                 `json:"type"`
	VariableDeltas []model.VariableDelta  `json:"variable_deltas,omitempty"`
	EventScripts   []model.EventScriptRef `json:"event_scripts,omitempty"`
}

// Translate asks the model to turn query into an equivalent VARIABLE_DELTA or
// EVENT_SCRIPT intervention given the parent node's final environment, §4.3.
// A fork whose translation fails is rejected outright (§4.3 "Failure
// semantics") — this method never returns a partially-formed intervention.
func (t *Translator) Translate(ctx context.Context, query string, parentEnv model.Environment) (model.Intervention, error) {
	envJSON, err := json.Marshal(parentEnv)
	if err != nil {
		return model.Intervention{}, fmt.Errorf("nltranslate: encode environment: %w", err)
	}

	prompt := fmt.Sprintf(
		"Translate the following scenario intervention into a JSON object with "+
			`"type" ("VARIABLE_DELTA" or "EVENT_SCRIPT"), and either `+
			`"variable_deltas" (array of {path, operation, value}) or `+
			`"event_scripts" (array of {tick, script_name, script_body}). `+
			"Current environment: %s\n\nIntervention: %s\n\nRespond with JSON only.",
		string(envJSON), query,
	)

	msg, err := t.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(t.modelID),
		MaxTokens: int64(t.maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return model.Intervention{}, fmt.Errorf("nltranslate: anthropic messages.new: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return model.Intervention{}, errors.New("nltranslate: empty model response")
	}

	var parsed patchResponse
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return model.Intervention{}, fmt.Errorf("nltranslate: model response was not valid JSON: %w", err)
	}

	switch parsed.Type {
	case string(model.InterventionVariableDelta):
		if len(parsed.VariableDeltas) == 0 {
			return model.Intervention{}, errors.New("nltranslate: VARIABLE_DELTA response had no deltas")
		}
		return model.Intervention{Type: model.InterventionVariableDelta, VariableDeltas: parsed.VariableDeltas}, nil
	case string(model.InterventionEventScript):
		if len(parsed.EventScripts) == 0 {
			return model.Intervention{}, errors.New("nltranslate: EVENT_SCRIPT response had no scripts")
		}
		return model.Intervention{Type: model.InterventionEventScript, EventScripts: parsed.EventScripts}, nil
	default:
		return model.Intervention{}, fmt.Errorf("nltranslate: unrecognized intervention type %q", parsed.Type)
	}
}
