package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndEvalBool(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`request.path.endsWith(".pdf") && !request.crossOrigin`)
	require.NoError(t, err)

	ok, err := program.EvalBool(map[string]any{"request": map[string]any{
		"path":        "/docs/guide.pdf",
		"crossOrigin": false,
	}})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = program.EvalBool(map[string]any{"request": map[string]any{
		"path":        "/docs/guide.pdf",
		"crossOrigin": true,
	}})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompileRejectsEmptyExpression(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	_, err = env.Compile("   ")
	require.Error(t, err)
}

func TestCompileRejectsNonBool(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	_, err = env.Compile(`"not a bool"`)
	require.Error(t, err)
}

func TestEvalErrorOnMissingKeySurfaces(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile(`request.nope == "x"`)
	require.NoError(t, err)
	_, err = program.EvalBool(map[string]any{"request": map[string]any{}})
	require.Error(t, err)
}
