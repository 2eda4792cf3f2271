// Package template stores named message templates and renders them with
// Liquid. Templates declare their required variables up front; a render with
// any of them missing fails whole rather than sending a half-filled email.
package template

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer wraps a Liquid engine with the mail-specific filters and a
// parse cache. Safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // slug+field -> *liquid.Template
}

// NewRenderer creates a renderer with the custom filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "Friend" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ bio | truncate: 50 }}
	r.engine.RegisterFilter("truncate", func(s string, length int) string {
		if len(s) <= length {
			return s
		}
		if length <= 3 {
			return s[:length]
		}
		return s[:length-3] + "..."
	})

	// {{ email | urlencode }}
	r.engine.RegisterFilter("urlencode", url.QueryEscape)

	// {{ user_input | escape }}
	r.engine.RegisterFilter("escape", html.EscapeString)

	// {{ email | email_domain }}
	r.engine.RegisterFilter("email_domain", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	})

	// {{ email | mask_email }}
	r.engine.RegisterFilter("mask_email", func(email string) string {
		parts := strings.Split(email, "@")
		if len(parts) != 2 {
			return email
		}
		local := parts[0]
		if len(local) <= 2 {
			return local + "***@" + parts[1]
		}
		return local[:2] + "***@" + parts[1]
	})
}

// Parse compiles a template string, reporting syntax errors.
func (r *Renderer) Parse(source string) error {
	_, err := r.engine.ParseString(source)
	return err
}

// RenderString renders one template string against the context. cacheKey
// may be empty to skip caching.
func (r *Renderer) RenderString(cacheKey, source string, ctx map[string]interface{}) (string, error) {
	if cacheKey != "" {
		if cached, ok := r.cache.Load(cacheKey); ok {
			return cached.(*liquid.Template).RenderString(ctx)
		}
	}

	tpl, err := r.engine.ParseString(source)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	if cacheKey != "" {
		r.cache.Store(cacheKey, tpl)
	}
	return tpl.RenderString(ctx)
}

// Invalidate drops every cached compilation for a slug.
func (r *Renderer) Invalidate(slug string) {
	for _, field := range []string{"subject", "html", "text"} {
		r.cache.Delete(slug + ":" + field)
	}
}

var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*?)(?:\s*\||\s*\}\})`)

// ExtractVariables returns the distinct top-level variable names referenced
// in a template source, in order of first appearance.
func ExtractVariables(source string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, match := range varPattern.FindAllStringSubmatch(source, -1) {
		name := strings.TrimSpace(match[1])
		if dot := strings.IndexByte(name, '.'); dot >= 0 {
			name = name[:dot]
		}
		if seen[name] || isLiquidKeyword(name) {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func isLiquidKeyword(name string) bool {
	switch strings.ToLower(name) {
	case "if", "elsif", "else", "endif", "unless", "endunless",
		"case", "when", "endcase", "for", "endfor", "break", "continue",
		"capture", "endcapture", "assign", "forloop",
		"true", "false", "nil", "null", "blank", "empty",
		"and", "or", "not", "contains", "in":
		return true
	}
	return false
}
