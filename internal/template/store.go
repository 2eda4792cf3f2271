package template

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Template is one named, renderable message body. RequiredVariables must all
// be present in the render context; anything else referenced in the source
// is optional and renders empty when absent.
type Template struct {
	Slug              string    `json:"slug"`
	Name              string    `json:"name"`
	Subject           string    `json:"subject"`
	HTMLBody          string    `json:"html_body,omitempty"`
	TextBody          string    `json:"text_body,omitempty"`
	RequiredVariables []string  `json:"required_variables,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Rendered is the output of rendering a template against one context.
type Rendered struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// Store keeps templates by slug and renders them. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	templates map[string]Template
	renderer  *Renderer

	now func() time.Time
}

// NewStore creates a store with the built-in templates registered.
func NewStore(renderer *Renderer) *Store {
	s := &Store{
		templates: make(map[string]Template),
		renderer:  renderer,
		now:       time.Now,
	}
	for _, t := range builtinTemplates() {
		s.templates[t.Slug] = t
	}
	return s
}

// Upsert validates and saves a template, replacing any existing one with
// the same slug. Syntax errors in any body reject the whole template.
func (s *Store) Upsert(t Template) error {
	t.Slug = strings.ToLower(strings.TrimSpace(t.Slug))
	for _, source := range []string{t.Subject, t.HTMLBody, t.TextBody} {
		if source == "" {
			continue
		}
		if err := s.renderer.Parse(source); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if existing, ok := s.templates[t.Slug]; ok {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.templates[t.Slug] = t
	s.renderer.Invalidate(t.Slug)
	return nil
}

// Get returns the template for a slug.
func (s *Store) Get(slug string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[strings.ToLower(slug)]
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

// Delete removes a template and reports whether it existed.
func (s *Store) Delete(slug string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slug = strings.ToLower(slug)
	if _, ok := s.templates[slug]; !ok {
		return false
	}
	delete(s.templates, slug)
	s.renderer.Invalidate(slug)
	return true
}

// List returns every template, ordered by slug.
func (s *Store) List() []Template {
	s.mu.RLock()
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Render looks up a template and renders subject and bodies against the
// context. Missing required variables fail the render as one unit.
func (s *Store) Render(slug string, ctx map[string]interface{}) (Rendered, error) {
	t, err := s.Get(slug)
	if err != nil {
		return Rendered{}, err
	}

	var missing []string
	for _, name := range t.RequiredVariables {
		if _, ok := ctx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return Rendered{}, &MissingVariableError{Slug: t.Slug, Names: missing}
	}

	var out Rendered
	if out.Subject, err = s.renderer.RenderString(t.Slug+":subject", t.Subject, ctx); err != nil {
		return Rendered{}, err
	}
	if t.HTMLBody != "" {
		if out.HTMLBody, err = s.renderer.RenderString(t.Slug+":html", t.HTMLBody, ctx); err != nil {
			return Rendered{}, err
		}
	}
	if t.TextBody != "" {
		if out.TextBody, err = s.renderer.RenderString(t.Slug+":text", t.TextBody, ctx); err != nil {
			return Rendered{}, err
		}
	}
	return out, nil
}

// builtinTemplates are the system templates available out of the box.
func builtinTemplates() []Template {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Template{
		{
			Slug:     "welcome",
			Name:     "Welcome",
			Subject:  "Welcome, {{ name | default: \"there\" }}!",
			TextBody: "Hi {{ name | default: \"there\" }},\n\nWelcome to {{ product }}. We're glad to have you.\n",
			HTMLBody: "<p>Hi {{ name | default: \"there\" }},</p><p>Welcome to {{ product }}. We're glad to have you.</p>",
			RequiredVariables: []string{"product"},
			CreatedAt:         created,
			UpdatedAt:         created,
		},
		{
			Slug:     "password-reset",
			Name:     "Password reset",
			Subject:  "Reset your {{ product }} password",
			TextBody: "A password reset was requested for your account.\n\nReset link: {{ reset_url }}\n\nIf you did not request this, ignore this email.\n",
			HTMLBody: "<p>A password reset was requested for your account.</p><p><a href=\"{{ reset_url | escape }}\">Reset your password</a></p><p>If you did not request this, ignore this email.</p>",
			RequiredVariables: []string{"product", "reset_url"},
			CreatedAt:         created,
			UpdatedAt:         created,
		},
		{
			Slug:     "notification",
			Name:     "Generic notification",
			Subject:  "{{ title }}",
			TextBody: "{{ body }}\n",
			HTMLBody: "<p>{{ body | escape }}</p>",
			RequiredVariables: []string{"title", "body"},
			CreatedAt:         created,
			UpdatedAt:         created,
		},
	}
}
