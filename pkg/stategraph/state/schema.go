package state

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Type is a declared field type. The zero Type accepts any value.
type Type struct {
	name  string
	check func(Value) bool
}

// Built-in field types.
var (
	TypeAny     = Type{name: "any"}
	TypeBool    = Type{name: "bool", check: kindCheck(KindBool)}
	TypeNumber  = Type{name: "number", check: kindCheck(KindNumber)}
	TypeString  = Type{name: "string", check: kindCheck(KindString)}
	TypeInteger = Type{name: "integer", check: Value.IsInteger}
	TypeList    = Type{name: "list", check: kindCheck(KindList)}
	TypeMap     = Type{name: "map", check: kindCheck(KindMap)}
	TypeTable   = Type{name: "table", check: isTable}
)

func kindCheck(k Kind) func(Value) bool {
	return func(v Value) bool { return v.kind == k }
}

// isTable accepts a map of equally long lists: the column layout of a
// data frame.
func isTable(v Value) bool {
	if v.kind != KindMap {
		return false
	}
	rows := -1
	for _, col := range v.m {
		if col.kind != KindList {
			return false
		}
		if rows >= 0 && len(col.list) != rows {
			return false
		}
		rows = len(col.list)
	}
	return true
}

// InstanceOf declares a custom type checked by pred.
// The name is used in mismatch errors.
func InstanceOf(name string, pred func(Value) bool) Type {
	return Type{name: name, check: pred}
}

// Name returns the type name.
func (t Type) Name() string {
	if t.name == "" {
		return TypeAny.name
	}
	return t.name
}

// Matches reports whether v satisfies the type.
func (t Type) Matches(v Value) bool {
	if t.check == nil {
		return true
	}
	return t.check(v)
}

// ParseType resolves a type by name. Aliases follow common data-language
// spellings (logical, numeric, character, data.frame).
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "any":
		return TypeAny, nil
	case "bool", "boolean", "logical":
		return TypeBool, nil
	case "number", "numeric", "double", "float":
		return TypeNumber, nil
	case "string", "character":
		return TypeString, nil
	case "integer", "int":
		return TypeInteger, nil
	case "list", "array":
		return TypeList, nil
	case "map", "object":
		return TypeMap, nil
	case "table", "data.frame", "dataframe":
		return TypeTable, nil
	}
	return Type{}, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// Reducer is the merge strategy for a schema field.
type Reducer int

// Reducers.
const (
	// Overwrite replaces the current value. It is the default.
	Overwrite Reducer = iota
	// Append concatenates onto the current list, keeping the newest items.
	Append
)

// String returns the reducer name.
func (r Reducer) String() string {
	if r == Append {
		return "append"
	}
	return "overwrite"
}

// ParseReducer resolves a reducer by name.
func ParseReducer(name string) (Reducer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "overwrite":
		return Overwrite, nil
	case "append":
		return Append, nil
	}
	return Overwrite, fmt.Errorf("%w: %q", ErrUnknownReducer, name)
}

// Field declares the type and reducer of one state field.
type Field struct {
	Type    Type
	Reducer Reducer
}

// Schema governs how node output merges into running state.
// A Schema is immutable after NewSchema returns.
type Schema struct {
	fields    map[string]Field
	maxAppend int
}

// SchemaOption configures a Schema.
type SchemaOption func(*Schema)

// WithMaxAppend bounds the retained length of append fields.
// The oldest items are dropped first. Default: unbounded.
func WithMaxAppend(n int) SchemaOption {
	return func(s *Schema) {
		s.maxAppend = n
	}
}

// NewSchema creates a schema from field declarations.
func NewSchema(fields map[string]Field, opts ...SchemaOption) (*Schema, error) {
	if len(fields) == 0 {
		return nil, ErrEmptySchema
	}

	s := &Schema{fields: make(map[string]Field, len(fields)), maxAppend: -1}
	for name, f := range fields {
		if name == "" {
			return nil, errors.New("schema field name cannot be empty")
		}
		s.fields[name] = f
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAppend == 0 || s.maxAppend < -1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxAppend, s.maxAppend)
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error.
func MustSchema(fields map[string]Field, opts ...SchemaOption) *Schema {
	s, err := NewSchema(fields, opts...)
	if err != nil {
		panic("state: " + err.Error())
	}
	return s
}

// Fields returns the declared field names in sorted order.
func (s *Schema) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Field returns the declaration of a field.
func (s *Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// MaxAppend returns the append bound, or 0 when unbounded.
func (s *Schema) MaxAppend() int {
	if s.maxAppend < 0 {
		return 0
	}
	return s.maxAppend
}

// Validate checks every update against the declared fields.
// All failures are joined, in field-name order.
func (s *Schema) Validate(updates Map) error {
	var errs []error
	for _, name := range updates.Keys() {
		f, ok := s.fields[name]
		if !ok {
			errs = append(errs, &FieldError{Field: name, Err: ErrUnknownField})
			continue
		}
		v := updates[name]
		if !f.Type.Matches(v) {
			errs = append(errs, &FieldError{
				Field:    name,
				Expected: f.Type.Name(),
				Actual:   v.Kind().String(),
				Err:      ErrTypeMismatch,
			})
		}
	}
	return errors.Join(errs...)
}

// Merge validates updates and applies each field's reducer onto current.
// current is not modified.
func (s *Schema) Merge(current, updates Map) (Map, error) {
	if err := s.Validate(updates); err != nil {
		return nil, err
	}

	out := current.Clone()
	for name, v := range updates {
		if s.fields[name].Reducer == Append {
			out[name] = s.appendValue(out[name], v)
			continue
		}
		out[name] = v
	}
	return out, nil
}

// appendValue concatenates next onto existing and keeps the newest
// maxAppend items. Lists contribute their items, anything else contributes
// itself; a null existing value is the empty list.
func (s *Schema) appendValue(existing, next Value) Value {
	items := make([]Value, 0, existing.Len()+next.Len()+1)
	items = appendItems(items, existing)
	items = appendItems(items, next)

	if s.maxAppend > 0 && len(items) > s.maxAppend {
		items = items[len(items)-s.maxAppend:]
	}
	return List(items...)
}

func appendItems(dst []Value, v Value) []Value {
	switch v.kind {
	case KindNull:
		return dst
	case KindList:
		return append(dst, v.list...)
	default:
		return append(dst, v)
	}
}

// Merge applies updates onto current. Without a schema every update
// overwrites its field; with one, Schema.Merge applies.
func Merge(current, updates Map, schema *Schema) (Map, error) {
	if schema != nil {
		return schema.Merge(current, updates)
	}
	out := current.Clone()
	for name, v := range updates {
		out[name] = v
	}
	return out, nil
}
