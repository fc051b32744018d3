package maintenance

import (
	"strings"
	"testing"
)

func TestFind(t *testing.T) {
	tpl, ok := Find("refactor")
	if !ok || tpl.Name != "Refactor Code" {
		t.Errorf("Find(refactor) = %+v, %v", tpl, ok)
	}
	if _, ok := Find("nope"); ok {
		t.Error("unknown template must not be found")
	}
}

func TestRender_ScopeSubstitution(t *testing.T) {
	tpl, _ := Find("cleanup")

	desc := tpl.Render("internal/parser")
	if !strings.Contains(desc, "internal/parser") {
		t.Errorf("scope not substituted: %q", desc)
	}
	if strings.Contains(desc, "{scope}") {
		t.Error("placeholder left in rendered description")
	}

	// Empty scope defaults to the whole repository.
	if !strings.Contains(tpl.Render(""), "the repository") {
		t.Error("empty scope not defaulted")
	}
}

func TestBuiltinTemplates_Complete(t *testing.T) {
	seen := map[string]bool{}
	for _, tpl := range BuiltinTemplates {
		if tpl.ID == "" || tpl.Name == "" || tpl.Description == "" || tpl.Body == "" {
			t.Errorf("template %q has empty fields", tpl.ID)
		}
		if seen[tpl.ID] {
			t.Errorf("duplicate template ID %q", tpl.ID)
		}
		seen[tpl.ID] = true
		if !strings.Contains(tpl.Body, "{scope}") {
			t.Errorf("template %q has no scope placeholder", tpl.ID)
		}
	}
}

func TestList(t *testing.T) {
	listing := List()
	for _, tpl := range BuiltinTemplates {
		if !strings.Contains(listing, tpl.ID) {
			t.Errorf("listing missing %q", tpl.ID)
		}
	}
}
