// Package web embeds the HTML templates and static assets served by the
// MoneyMap UI.
package web

import "embed"

// TemplatesFS holds the page layout and the HTMX partials.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS embeds static assets (css/js).
//
//go:embed static/*
var StaticFS embed.FS
