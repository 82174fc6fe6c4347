package strategy

import (
	"io"
	"log/slog"
	"testing"

	"github.com/chanfm/cachefront/internal/config"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyBuiltInOrder(t *testing.T) {
	selector, err := NewSelector(nil, testLogger())
	require.NoError(t, err)

	cases := []struct {
		name string
		req  Request
		want Strategy
	}{
		{"html accept wins over asset extension", Request{Path: "/page.css", Accept: "text/html,application/xhtml+xml"}, NetworkFirst},
		{"stylesheet", Request{Path: "/styles.css", Accept: "text/css"}, CacheFirst},
		{"script", Request{Path: "/script.js"}, CacheFirst},
		{"font", Request{Path: "/fonts/inter.woff2"}, CacheFirst},
		{"image", Request{Path: "/img/hero.webp", Accept: "image/*"}, CacheFirst},
		{"cross-origin without extension", Request{Path: "/css2", Origin: "fonts.googleapis.com", CrossOrigin: true}, CacheFirst},
		{"navigation", Request{Path: "/getting-started.html", Accept: "text/html"}, NetworkFirst},
		{"default", Request{Path: "/api/feed"}, NetworkFirst},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, selector.Classify(tc.req))
		})
	}
}

func TestClassifyExtensionIsCaseInsensitive(t *testing.T) {
	selector, err := NewSelector(nil, testLogger())
	require.NoError(t, err)
	require.Equal(t, CacheFirst, selector.Classify(Request{Path: "/IMG/HERO.PNG"}))
}

func TestOverrideRulesWinOverBuiltIns(t *testing.T) {
	selector, err := NewSelector([]config.StrategyRuleConfig{
		{When: `request.path.startsWith("/live/")`, Strategy: "network-first"},
		{When: `request.path.endsWith(".pdf")`, Strategy: "cache-first"},
	}, testLogger())
	require.NoError(t, err)

	// .pdf is not a built-in static extension; the rule makes it cache-first.
	require.Equal(t, CacheFirst, selector.Classify(Request{Path: "/docs/guide.pdf"}))
	// The live/ rule forces network-first for an otherwise cache-first asset.
	require.Equal(t, NetworkFirst, selector.Classify(Request{Path: "/live/score.js"}))
	// Non-matching requests fall through to the built-in order.
	require.Equal(t, CacheFirst, selector.Classify(Request{Path: "/styles.css"}))
}

func TestOverrideRuleEvalErrorFallsThrough(t *testing.T) {
	selector, err := NewSelector([]config.StrategyRuleConfig{
		{When: `request.missing == "x"`, Strategy: "network-first"},
	}, testLogger())
	require.NoError(t, err)
	require.Equal(t, CacheFirst, selector.Classify(Request{Path: "/styles.css"}))
}

func TestNewSelectorRejectsBadRule(t *testing.T) {
	_, err := NewSelector([]config.StrategyRuleConfig{{When: `request.path ==`, Strategy: "cache-first"}}, testLogger())
	require.Error(t, err)

	_, err = NewSelector([]config.StrategyRuleConfig{{When: `true`, Strategy: "random"}}, testLogger())
	require.Error(t, err)
}
