package cache

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestKeyNormalization(t *testing.T) {
	require.Equal(t,
		Key(parse(t, "https://chanfm.example/styles.css")),
		Key(parse(t, "https://CHANFM.EXAMPLE:443/styles.css#section")),
	)
	require.Equal(t,
		Key(parse(t, "http://chanfm.example/")),
		Key(parse(t, "http://chanfm.example:80")),
	)
	require.NotEqual(t,
		Key(parse(t, "https://chanfm.example/styles.css?v=1")),
		Key(parse(t, "https://chanfm.example/styles.css?v=2")),
		"query strings address distinct resources",
	)
	require.Equal(t, "GET https://chanfm.example/", Key(parse(t, "https://chanfm.example")))
}
