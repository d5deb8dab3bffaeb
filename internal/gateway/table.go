package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMarker is the leading character of every routable model name.
const DefaultMarker = "@"

var ErrNoProvider = errors.New("no provider configured for this model")

// Table is the ordered set of provider profiles. Prefixed profiles are tested
// in order; the default profile catches everything else.
type Table struct {
	marker   string
	prefixed []*Profile
	fallback *Profile
}

// NewTable rejects overlapping prefixes, duplicate ids and more than one
// default, which keeps every model resolving to at most one profile.
func NewTable(marker string, profiles []*Profile) (*Table, error) {
	t := &Table{marker: marker}
	seen := make(map[string]bool)

	for _, p := range profiles {
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate profile id %q", p.ID)
		}
		seen[p.ID] = true

		if p.IsDefault() {
			if t.fallback != nil {
				return nil, fmt.Errorf("profiles %q and %q are both defaults", t.fallback.ID, p.ID)
			}
			t.fallback = p
			continue
		}

		for _, other := range t.prefixed {
			if strings.HasPrefix(p.Prefix, other.Prefix) || strings.HasPrefix(other.Prefix, p.Prefix) {
				return nil, fmt.Errorf("prefix %q of %q overlaps prefix %q of %q", p.Prefix, p.ID, other.Prefix, other.ID)
			}
		}
		t.prefixed = append(t.prefixed, p)
	}

	return t, nil
}

func (t *Table) Marker() string {
	return t.marker
}

// Default returns the fallback profile or nil.
func (t *Table) Default() *Profile {
	return t.fallback
}

// Profiles lists prefixed profiles in priority order followed by the default.
func (t *Table) Profiles() []*Profile {
	out := make([]*Profile, 0, len(t.prefixed)+1)
	out = append(out, t.prefixed...)
	if t.fallback != nil {
		out = append(out, t.fallback)
	}
	return out
}

// Resolve picks the profile serving an already normalized model.
func (t *Table) Resolve(model string) (*Profile, error) {
	for _, p := range t.prefixed {
		if p.Matches(model) {
			return p, nil
		}
	}
	if t.fallback != nil {
		return t.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoProvider, model)
}

// Normalize prepends the marker to models that lack it.
func Normalize(model, marker string) string {
	if marker == "" || strings.HasPrefix(model, marker) {
		return model
	}
	return marker + model
}
