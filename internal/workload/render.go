package workload

import (
	"fmt"
	"strconv"
	"strings"
)

// Placeholder names understood by templates.
const (
	PlaceholderIndex = "INDEX"
	PlaceholderSize  = "SIZE"
	PlaceholderKind  = "KIND"
)

// RenderError reports a template that cannot be rendered.
type RenderError struct {
	Offset  int
	Message string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render: offset %d: %s", e.Offset, e.Message)
}

// Render substitutes index into every {{INDEX}} occurrence of template.
// It is a pure function: the same template and index always produce the
// same text. Any other placeholder left in the template is an error.
func Render(template string, index int) (string, error) {
	return substitute(template, map[string]string{
		PlaceholderIndex: strconv.Itoa(index),
	}, true)
}

// Bind replaces every {{name}} occurrence with value and leaves all other
// placeholders untouched. It is used for parameters that are constant
// across a generation run.
func Bind(template, name, value string) (string, error) {
	return substitute(template, map[string]string{name: value}, false)
}

// substitute scans template for {{NAME}} tokens. In strict mode a token
// whose name is not in values is an error; otherwise it is copied through.
func substitute(template string, values map[string]string, strict bool) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	rest := template
	offset := 0
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		closeIdx := strings.Index(rest[open+2:], "}}")
		if closeIdx < 0 {
			return "", &RenderError{Offset: offset + open, Message: "unterminated placeholder"}
		}
		name := strings.TrimSpace(rest[open+2 : open+2+closeIdx])
		end := open + 2 + closeIdx + 2

		b.WriteString(rest[:open])
		if v, ok := values[name]; ok {
			b.WriteString(v)
		} else if strict {
			return "", &RenderError{Offset: offset + open, Message: fmt.Sprintf("unknown placeholder {{%s}}", name)}
		} else {
			b.WriteString(rest[open:end])
		}

		offset += end
		rest = rest[end:]
	}
}

// IndexWidth returns the zero-padding width for count units: the number of
// digits of the largest index, never less than 4.
func IndexWidth(count int) int {
	width := len(strconv.Itoa(max(count-1, 0)))
	return max(width, 4)
}

// PadIndex formats index with the given zero-padding width.
func PadIndex(index, width int) string {
	return fmt.Sprintf("%0*d", width, index)
}

// UnitStem renders the file stem of a unit from a naming template.
// An empty template means "{{KIND}}_{{INDEX}}".
func UnitStem(naming string, kind Kind, index, width int) (string, error) {
	if naming == "" {
		naming = "{{KIND}}_{{INDEX}}"
	}
	stem, err := substitute(naming, map[string]string{
		PlaceholderKind:  string(kind),
		PlaceholderIndex: PadIndex(index, width),
	}, true)
	if err != nil {
		return "", fmt.Errorf("naming template: %w", err)
	}
	if stem == "" || strings.ContainsAny(stem, `/\`) {
		return "", fmt.Errorf("naming template %q produced invalid file stem %q", naming, stem)
	}
	return stem, nil
}
