// Package maintenance provides canned task descriptions for recurring
// upkeep work. A template expands into a normal task description, so
// templated tasks flow through the regular pipeline, approval gate
// included.
package maintenance

import (
	"fmt"
	"strings"
)

// Template is a reusable task description with a {scope} placeholder.
type Template struct {
	ID          string
	Name        string
	Description string
	Body        string
}

// BuiltinTemplates contains the default maintenance task templates.
var BuiltinTemplates = []Template{
	{
		ID:          "refactor",
		Name:        "Refactor Code",
		Description: "Improve code structure without changing behavior",
		Body: `Refactor {scope} to improve structure, readability, and maintainability without changing external behavior. Focus on: extracting common patterns into helpers, reducing duplication, improving naming, simplifying complex conditionals, and breaking down large functions. Do not change any public API. All existing tests must still pass.`,
	},
	{
		ID:          "cleanup",
		Name:        "Cleanup Dead Code",
		Description: "Remove unused code, fix TODOs, clean up comments",
		Body: `Clean up {scope}: remove unused functions, variables, and imports; address or remove stale TODO and FIXME comments; delete commented-out code blocks; remove leftover debug logging. Be conservative and only remove code that is certainly unused. All existing tests must still pass.`,
	},
	{
		ID:          "deps",
		Name:        "Update Dependencies",
		Description: "Update dependencies and fix any breakage",
		Body: `Update the dependencies of {scope} to their latest compatible versions. Review changelogs for breaking changes, adapt call sites where APIs moved, and fix any resulting test failures. Do not upgrade across major versions unless the migration is trivial.`,
	},
	{
		ID:          "docs",
		Name:        "Improve Documentation",
		Description: "Fill documentation gaps",
		Body: `Improve the documentation of {scope}: add missing doc comments on exported identifiers, correct comments that have drifted from the code, and extend the README where setup or usage steps are missing or wrong. Do not change any behavior.`,
	},
	{
		ID:          "tests",
		Name:        "Strengthen Tests",
		Description: "Add tests for under-covered code paths",
		Body: `Strengthen the test coverage of {scope}: identify exported functions and error paths without tests and add focused unit tests for them. Prefer table-driven tests. Do not modify production code except to fix bugs the new tests uncover.`,
	},
}

// Find returns the template with the given ID.
func Find(id string) (Template, bool) {
	for _, t := range BuiltinTemplates {
		if t.ID == id {
			return t, true
		}
	}
	return Template{}, false
}

// Render expands the template into a task description. An empty scope
// targets the whole repository.
func (t Template) Render(scope string) string {
	if scope == "" {
		scope = "the repository"
	}
	return strings.ReplaceAll(t.Body, "{scope}", scope)
}

// List returns a short usage listing of all builtin templates.
func List() string {
	var b strings.Builder
	for _, t := range BuiltinTemplates {
		fmt.Fprintf(&b, "%-10s %s\n", t.ID, t.Description)
	}
	return b.String()
}
