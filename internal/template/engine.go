// Package template renders task templates whose bodies contain ${name} placeholders.
//
// Rendering is pure: it never touches I/O and returns either the complete
// content or an error, never partial output. That makes it safe to call again
// when a delivery is retried.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lyb88999/gns/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// RenderError reports the first required field missing from the data mapping.
type RenderError struct {
	TemplateID string
	Field      string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("template %q: missing required field %q", e.TemplateID, e.Field)
}

// Unwrap lets callers match with errors.Is(err, domain.ErrMissingField).
func (e *RenderError) Unwrap() error { return domain.ErrMissingField }

// Placeholders returns the distinct placeholder names in body, in order of first appearance.
func Placeholders(body string) []string {
	matches := placeholderRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// Validate checks the template invariant: every placeholder in the body is a required field.
func Validate(tpl *domain.Template) error {
	if strings.TrimSpace(tpl.Body) == "" {
		return fmt.Errorf("%w: body must not be empty", domain.ErrInvalidTemplate)
	}
	required := make(map[string]struct{}, len(tpl.RequiredFields))
	for _, f := range tpl.RequiredFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: required field names must not be empty", domain.ErrInvalidTemplate)
		}
		required[f] = struct{}{}
	}
	for _, name := range Placeholders(tpl.Body) {
		if _, ok := required[name]; !ok {
			return fmt.Errorf("%w: placeholder %q is not listed in required_fields", domain.ErrInvalidTemplate, name)
		}
	}
	return nil
}

// CheckData returns a *RenderError for the first required field absent from data.
func CheckData(tpl *domain.Template, data map[string]string) error {
	for _, f := range tpl.RequiredFields {
		if _, ok := data[f]; !ok {
			return &RenderError{TemplateID: tpl.ID, Field: f}
		}
	}
	// Placeholders are a subset of RequiredFields for validated templates;
	// checking them too keeps Render total for templates built by hand.
	for _, name := range Placeholders(tpl.Body) {
		if _, ok := data[name]; !ok {
			return &RenderError{TemplateID: tpl.ID, Field: name}
		}
	}
	return nil
}

// Render substitutes every placeholder in the template body with its value from data.
// Extra keys in data are ignored.
func Render(tpl *domain.Template, data map[string]string) (string, error) {
	if err := CheckData(tpl, data); err != nil {
		return "", err
	}
	return placeholderRe.ReplaceAllStringFunc(tpl.Body, func(m string) string {
		return data[m[2:len(m)-1]]
	}), nil
}

// IsMissingField reports whether err came from a missing template field.
func IsMissingField(err error) bool {
	return errors.Is(err, domain.ErrMissingField)
}
