// Package prompt renders prompt templates from graph state.
//
// Placeholders name state fields:
//
//	${question}        the "question" field
//	${user.name}       the "name" key of the "user" object
//	${docs.0}          the first item of the "docs" list
//
// String values are inserted verbatim; other values use their JSON-like
// rendering. $name placeholders without braces are off by default because
// prompts often contain literal dollar signs; enable them with
// WithDollarStyle.
package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

var (
	bracePattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\}`)

	// dollarPattern stops at a word boundary so $port does not match inside
	// $portNumber.
	dollarPattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)(?:\b|$)`)
)

// ErrEmptyTemplate indicates a template with no text.
var ErrEmptyTemplate = errors.New("empty prompt template")

// MissingAction says what to do with a placeholder that resolves to nothing.
type MissingAction int

const (
	// MissingError fails the render. It is the default.
	MissingError MissingAction = iota
	// MissingKeep leaves the placeholder text in place.
	MissingKeep
	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty
)

// UndefinedError lists the placeholders that resolved to nothing.
type UndefinedError struct {
	Names []string
}

func (e *UndefinedError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined prompt variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined prompt variables: %s", strings.Join(e.Names, ", "))
}

// Template is a parsed prompt. It is safe for concurrent use.
type Template struct {
	text    string
	missing MissingAction
	dollar  bool
}

// Option configures a Template.
type Option func(*Template)

// WithMissingAction sets how unresolved placeholders are handled.
func WithMissingAction(action MissingAction) Option {
	return func(t *Template) { t.missing = action }
}

// WithDollarStyle enables $name placeholders alongside ${name}.
func WithDollarStyle(enabled bool) Option {
	return func(t *Template) { t.dollar = enabled }
}

// New parses text into a template.
func New(text string, opts ...Option) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyTemplate
	}
	t := &Template{text: text}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Must is New that panics on error.
func Must(text string, opts ...Option) *Template {
	t, err := New(text, opts...)
	if err != nil {
		panic("prompt: " + err.Error())
	}
	return t
}

// Text returns the template source.
func (t *Template) Text() string {
	return t.text
}

// Vars returns the placeholder paths in order of first appearance.
func (t *Template) Vars() []string {
	var names []string
	seen := map[string]bool{}
	add := func(matches [][]string) {
		for _, m := range matches {
			if !seen[m[1]] {
				seen[m[1]] = true
				names = append(names, m[1])
			}
		}
	}
	add(bracePattern.FindAllStringSubmatch(t.text, -1))
	if t.dollar {
		add(dollarPattern.FindAllStringSubmatch(t.text, -1))
	}
	return names
}

// Render fills the placeholders from st.
func (t *Template) Render(st state.Map) (string, error) {
	var missing []string

	replace := func(match, path string) string {
		if v, ok := Lookup(st, path); ok {
			return render(v)
		}
		switch t.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, path)
		}
		return match
	}

	out := bracePattern.ReplaceAllStringFunc(t.text, func(match string) string {
		return replace(match, match[2:len(match)-1])
	})
	if t.dollar {
		out = dollarPattern.ReplaceAllStringFunc(out, func(match string) string {
			return replace(match, match[1:])
		})
	}

	if len(missing) > 0 {
		return "", &UndefinedError{Names: missing}
	}
	return out, nil
}

// Lookup resolves a dotted path against st. Numeric segments index lists.
func Lookup(st state.Map, path string) (state.Value, bool) {
	parts := strings.Split(path, ".")
	v, ok := st[parts[0]]
	if !ok {
		return state.Value{}, false
	}
	for _, part := range parts[1:] {
		if i, err := strconv.Atoi(part); err == nil && v.Kind() == state.KindList {
			v, ok = v.Index(i)
		} else {
			v, ok = v.Field(part)
		}
		if !ok {
			return state.Value{}, false
		}
	}
	return v, true
}

func render(v state.Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.String()
}
