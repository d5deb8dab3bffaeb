package gateway

import (
	"fmt"
	"strings"
	"sync"
)

// RewriteFunc maps a normalized model identifier to the name the provider expects.
type RewriteFunc func(prefix, model string) string

const (
	RewriteNone        = "none"
	RewriteLastSegment = "last_segment"
	RewriteStripPrefix = "strip_prefix"
)

var (
	mu       sync.RWMutex
	rewrites = make(map[string]RewriteFunc)
)

func init() {
	RegisterRewrite(RewriteNone, func(_, model string) string { return model })
	RegisterRewrite(RewriteLastSegment, lastSegment)
	RegisterRewrite(RewriteStripPrefix, func(prefix, model string) string {
		return strings.TrimPrefix(model, prefix)
	})
}

// RegisterRewrite makes a rewrite rule available to provider configuration.
func RegisterRewrite(name string, fn RewriteFunc) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := rewrites[name]; exists {
		panic(fmt.Sprintf("rewrite rule %s already registered", name))
	}
	rewrites[name] = fn
}

// LookupRewrite returns the rule registered under name. An empty name is "none".
func LookupRewrite(name string) (RewriteFunc, error) {
	if name == "" {
		name = RewriteNone
	}
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := rewrites[name]
	if !ok {
		return nil, fmt.Errorf("rewrite rule not found: %s", name)
	}
	return fn, nil
}

// lastSegment keeps everything after the final slash. A trailing slash leaves
// nothing to keep, so the model is returned unchanged.
func lastSegment(_, model string) string {
	i := strings.LastIndex(model, "/")
	if i < 0 || i == len(model)-1 {
		return model
	}
	return model[i+1:]
}
