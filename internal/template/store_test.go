package template

import (
	"errors"
	"strings"
	"testing"
)

func newTestStore() *Store {
	return NewStore(NewRenderer())
}

func TestBuiltinTemplatesRegistered(t *testing.T) {
	s := newTestStore()

	for _, slug := range []string{"welcome", "password-reset", "notification"} {
		if _, err := s.Get(slug); err != nil {
			t.Errorf("builtin %q not registered: %v", slug, err)
		}
	}
}

func TestUpsertAndRender(t *testing.T) {
	s := newTestStore()

	err := s.Upsert(Template{
		Slug:              "order-shipped",
		Name:              "Order shipped",
		Subject:           "Your order {{ order_id }} has shipped",
		TextBody:          "Hi {{ name | default: \"there\" }}, order {{ order_id }} is on its way.",
		RequiredVariables: []string{"order_id"},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	out, err := s.Render("order-shipped", map[string]interface{}{"order_id": "A-123"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Subject != "Your order A-123 has shipped" {
		t.Errorf("subject = %q", out.Subject)
	}
	if !strings.Contains(out.TextBody, "Hi there, order A-123") {
		t.Errorf("text = %q, default filter not applied", out.TextBody)
	}
}

func TestRenderMissingRequiredVariables(t *testing.T) {
	s := newTestStore()

	_, err := s.Render("password-reset", map[string]interface{}{"product": "Mailroom"})
	var missing *MissingVariableError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingVariableError", err)
	}
	if len(missing.Names) != 1 || missing.Names[0] != "reset_url" {
		t.Errorf("missing = %v, want [reset_url]", missing.Names)
	}
}

func TestRenderUnknownSlug(t *testing.T) {
	s := newTestStore()
	if _, err := s.Render("nope", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertRejectsBadSyntax(t *testing.T) {
	s := newTestStore()

	err := s.Upsert(Template{
		Slug:    "broken",
		Subject: "{% if %}",
	})
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if _, getErr := s.Get("broken"); !errors.Is(getErr, ErrNotFound) {
		t.Error("broken template must not be stored")
	}
}

func TestUpsertReplacesAndKeepsCreatedAt(t *testing.T) {
	s := newTestStore()

	if err := s.Upsert(Template{Slug: "t", Subject: "v1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	first, _ := s.Get("t")

	if err := s.Upsert(Template{Slug: "t", Subject: "v2"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, _ := s.Get("t")

	if second.Subject != "v2" {
		t.Errorf("subject = %q, want v2", second.Subject)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("createdAt must survive replacement")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore()
	if err := s.Upsert(Template{Slug: "gone", Subject: "x"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if !s.Delete("gone") {
		t.Fatal("Delete returned false for an existing template")
	}
	if s.Delete("gone") {
		t.Error("second Delete must report nothing removed")
	}
}

func TestSlugCaseInsensitive(t *testing.T) {
	s := newTestStore()
	if err := s.Upsert(Template{Slug: "Mixed-Case", Subject: "x"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Get("mixed-case"); err != nil {
		t.Errorf("lowercase lookup failed: %v", err)
	}
	if _, err := s.Get("MIXED-CASE"); err != nil {
		t.Errorf("uppercase lookup failed: %v", err)
	}
}

func TestListSortedBySlug(t *testing.T) {
	s := newTestStore()
	got := s.List()
	for i := 1; i < len(got); i++ {
		if got[i-1].Slug >= got[i].Slug {
			t.Fatalf("list not sorted at position %d", i)
		}
	}
}

func TestExtractVariables(t *testing.T) {
	source := `Hello {{ name }}, your {{ order.id }} ships {{ date | default: "soon" }}.
{% if vip %}Thanks {{ name }}!{% endif %}`

	// Only output expressions are scanned; {% if vip %} is a tag.
	got := ExtractVariables(source)
	want := []string{"name", "order", "date"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRendererFilters(t *testing.T) {
	r := NewRenderer()

	tests := []struct {
		name   string
		source string
		ctx    map[string]interface{}
		want   string
	}{
		{"default on missing", `{{ name | default: "Friend" }}`, nil, "Friend"},
		{"default on present", `{{ name | default: "Friend" }}`, map[string]interface{}{"name": "Ada"}, "Ada"},
		{"truncate", `{{ s | truncate: 8 }}`, map[string]interface{}{"s": "abcdefghijk"}, "abcde..."},
		{"email_domain", `{{ e | email_domain }}`, map[string]interface{}{"e": "a@example.com"}, "example.com"},
		{"mask_email", `{{ e | mask_email }}`, map[string]interface{}{"e": "john.doe@example.com"}, "jo***@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.RenderString("", tt.source, tt.ctx)
			if err != nil {
				t.Fatalf("RenderString: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
