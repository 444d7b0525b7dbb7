package web

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplatesParse(t *testing.T) {
	tmpl, err := Templates()
	require.NoError(t, err)

	for _, name := range []string{"home.html", "dashboard.html", "register.html", "login.html", "prediction.html", "error.html"} {
		assert.NotNil(t, tmpl.Lookup(name), name)
	}
}

func TestPredictionPageEscapes(t *testing.T) {
	tmpl, err := Templates()
	require.NoError(t, err)

	var buf bytes.Buffer
	err = tmpl.ExecuteTemplate(&buf, "prediction.html", map[string]any{
		"Title":      "Result",
		"User":       nil,
		"Flashes":    []string{"<b>hi</b>"},
		"Result":     "Moderate",
		"Confidence": 87.5,
		"Filename":   "abc.png",
		"Scores":     []map[string]any{{"Label": "Moderate", "Percent": 87.5}},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "87.50%")
	assert.Contains(t, out, "/static/uploads/abc.png")
	assert.Contains(t, out, "&lt;b&gt;hi&lt;/b&gt;")
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "12.35%", FormatPercent(12.345001))
	assert.Equal(t, "0.00%", FormatPercent(0))
}
