package gateway

import (
	"fmt"
	"strings"
)

// DefaultTokenFloor is the minimum max_tokens sent to the default provider.
const DefaultTokenFloor = 2048

// Profile describes one upstream chat completion endpoint. A profile with an
// empty Prefix is the default and catches every model no other profile claims.
type Profile struct {
	ID      string
	Name    string
	Prefix  string
	BaseURL string
	APIKey  string

	RewriteName string
	Rewrite     RewriteFunc

	// MinMaxTokens raises absent or smaller max_tokens values to this floor. Zero disables it.
	MinMaxTokens int
}

// NewProfile validates a profile and resolves its rewrite rule.
func NewProfile(id, name, prefix, baseURL, apiKey, rewrite string, minMaxTokens int) (*Profile, error) {
	if id == "" {
		return nil, fmt.Errorf("profile id is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("profile %s: base url is required", id)
	}
	if minMaxTokens < 0 {
		return nil, fmt.Errorf("profile %s: min_max_tokens must not be negative", id)
	}

	fn, err := LookupRewrite(rewrite)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	if rewrite == "" {
		rewrite = RewriteNone
	}
	if name == "" {
		name = id
	}

	return &Profile{
		ID:           id,
		Name:         name,
		Prefix:       prefix,
		BaseURL:      baseURL,
		APIKey:       apiKey,
		RewriteName:  rewrite,
		Rewrite:      fn,
		MinMaxTokens: minMaxTokens,
	}, nil
}

func (p *Profile) IsDefault() bool {
	return p.Prefix == ""
}

func (p *Profile) Matches(model string) bool {
	return p.Prefix != "" && strings.HasPrefix(model, p.Prefix)
}

// UpstreamModel applies the profile's rewrite rule.
func (p *Profile) UpstreamModel(model string) string {
	if p.Rewrite == nil {
		return model
	}
	return p.Rewrite(p.Prefix, model)
}

// TokenFloor reports the max_tokens value to force, if any.
func (p *Profile) TokenFloor(requested *int) (int, bool) {
	if p.MinMaxTokens <= 0 {
		return 0, false
	}
	if requested == nil || *requested < p.MinMaxTokens {
		return p.MinMaxTokens, true
	}
	return 0, false
}

func (p *Profile) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.APIKey,
	}
}
