package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndRender(t *testing.T) {
	r := NewRenderer()
	tmpl, err := r.Compile("notFound", "{{ .Status }}: {{ .Path | upper }} not found")
	require.NoError(t, err)
	require.NotNil(t, tmpl)

	out, err := tmpl.Render(FallbackData{Path: "/about.html", Status: 404})
	require.NoError(t, err)
	require.Equal(t, "404: /ABOUT.HTML not found", out)
}

func TestCompileEmptySourceReturnsNil(t *testing.T) {
	r := NewRenderer()
	tmpl, err := r.Compile("empty", "   \n ")
	require.NoError(t, err)
	require.Nil(t, tmpl)
}

func TestCompileRejectsBadTemplate(t *testing.T) {
	r := NewRenderer()
	_, err := r.Compile("broken", "{{ .Status")
	require.Error(t, err)
}

func TestRestrictedHelpersAreUnavailable(t *testing.T) {
	r := NewRenderer()
	_, err := r.Compile("sneaky", `{{ env "HOME" }}`)
	require.Error(t, err, "env helper must not be defined")

	_, err = r.Compile("sneakier", `{{ readFile "/etc/hostname" }}`)
	require.Error(t, err)
}

func TestNilTemplateRenderFails(t *testing.T) {
	var tmpl *Template
	_, err := tmpl.Render(FallbackData{})
	require.Error(t, err)
	require.Empty(t, tmpl.Name())
}
