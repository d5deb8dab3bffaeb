package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ChatRequest is the unified chat completion request accepted by the relay.
// Only the fields the relay validates or rewrites are modelled here; the
// full inbound object travels alongside it as a Payload.
type ChatRequest struct {
	// the model to send request to, optionally carrying a routing prefix such as `@gh/`
	Model string `json:"model" binding:"required"`

	// Enable streaming, defaults to `false` (empty)
	Stream bool `json:"stream,omitempty"`

	// any integer is accepted; floors are applied per provider
	MaxTokens *int `json:"max_tokens,omitempty"`

	Temperature      *float64 `json:"temperature,omitempty" binding:"omitempty,min=0,max=2"`
	TopP             *float64 `json:"top_p,omitempty" binding:"omitempty,min=0,max=1"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty" binding:"omitempty,min=0,max=2"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty" binding:"omitempty,min=0,max=2"`

	// message array is required, dive in and deep validate
	Messages []ChatMessage `json:"messages" binding:"required,min=1,dive"`
}

type ChatMessage struct {
	Role    string  `json:"role" binding:"required"`
	Content *string `json:"content" binding:"required"`
}

// Payload is the raw inbound JSON object. Forwarding goes through Payload so
// fields the relay does not know about reach the upstream untouched.
type Payload map[string]json.RawMessage

// ParsePayload decodes a raw request body into a Payload.
func ParsePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	return p, nil
}

// Clone returns a shallow copy; the raw values are never mutated in place.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Set replaces a single top-level field. Keys that differ from key only by
// case are dropped, since ChatRequest binding matches them case-insensitively.
func (p Payload) Set(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	for k := range p {
		if k != key && strings.EqualFold(k, key) {
			delete(p, k)
		}
	}
	p[key] = data
	return nil
}

// MarshalJSON keeps a nil payload encoded as an empty object.
func (p Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]json.RawMessage(p))
}
