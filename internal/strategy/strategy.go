// Package strategy classifies intercepted requests into cache-first or
// network-first handling.
package strategy

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/chanfm/cachefront/internal/config"
	"github.com/chanfm/cachefront/internal/expr"
)

// Strategy names how the request handler orders cache and network.
type Strategy string

const (
	// NetworkFirst tries the live origin and falls back to the cache.
	NetworkFirst Strategy = "network-first"
	// CacheFirst serves from cache and revalidates in the background.
	CacheFirst Strategy = "cache-first"
)

// Request carries the attributes classification looks at. Origin is the
// request's host; CrossOrigin is relative to the site's own origin.
type Request struct {
	Method      string
	Path        string
	Origin      string
	Accept      string
	CrossOrigin bool
}

// WantsHTML reports whether the request declared an HTML accept type.
func (r Request) WantsHTML() bool {
	return strings.Contains(r.Accept, "text/html")
}

// staticExtensions are the asset types served cache-first: stylesheets,
// scripts, images, and fonts.
var staticExtensions = map[string]struct{}{
	".css": {}, ".js": {}, ".mjs": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".avif": {}, ".svg": {}, ".ico": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
}

type overrideRule struct {
	program  expr.Program
	strategy Strategy
}

// Selector applies operator override rules first, then the built-in decision
// order. Safe for concurrent use once constructed.
type Selector struct {
	rules  []overrideRule
	logger *slog.Logger
}

// NewSelector compiles the configured override rules. A rule that fails to
// compile aborts startup; a rule that fails to evaluate is skipped at
// classification time.
func NewSelector(rules []config.StrategyRuleConfig, logger *slog.Logger) (*Selector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	selector := &Selector{logger: logger.With(slog.String("agent", "strategy"))}
	if len(rules) == 0 {
		return selector, nil
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	for i, rule := range rules {
		program, err := env.Compile(rule.When)
		if err != nil {
			return nil, fmt.Errorf("strategy: rule %d: %w", i, err)
		}
		var target Strategy
		switch strings.TrimSpace(strings.ToLower(rule.Strategy)) {
		case string(CacheFirst):
			target = CacheFirst
		case string(NetworkFirst):
			target = NetworkFirst
		default:
			return nil, fmt.Errorf("strategy: rule %d: unsupported strategy %q", i, rule.Strategy)
		}
		selector.rules = append(selector.rules, overrideRule{program: program, strategy: target})
	}
	return selector, nil
}

// Classify picks the strategy for a request. First matching override rule
// wins; otherwise: HTML accept is network-first, static asset extensions are
// cache-first, cross-origin is cache-first, everything else network-first.
func (s *Selector) Classify(req Request) Strategy {
	if s != nil {
		activation := map[string]any{"request": map[string]any{
			"method":      req.Method,
			"path":        req.Path,
			"origin":      req.Origin,
			"accept":      req.Accept,
			"crossOrigin": req.CrossOrigin,
		}}
		for _, rule := range s.rules {
			matched, err := rule.program.EvalBool(activation)
			if err != nil {
				s.logger.Warn("strategy rule evaluation failed",
					slog.String("rule", rule.program.Source()),
					slog.Any("error", err))
				continue
			}
			if matched {
				return rule.strategy
			}
		}
	}

	if req.WantsHTML() {
		return NetworkFirst
	}
	if _, ok := staticExtensions[strings.ToLower(path.Ext(req.Path))]; ok {
		return CacheFirst
	}
	if req.CrossOrigin {
		return CacheFirst
	}
	return NetworkFirst
}
