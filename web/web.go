// Package web holds the server-rendered pages.
package web

import (
	"embed"
	"html/template"
	"strconv"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses every page. Pages share the "header" and "footer"
// blocks from layout.html.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"pct": FormatPercent,
	}).ParseFS(templateFS, "templates/*.html")
}

func FormatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}
