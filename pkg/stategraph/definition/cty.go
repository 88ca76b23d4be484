package definition

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// ToCty converts a state value for use in expressions. Lists become tuples
// and maps become objects, so mixed element types survive.
func ToCty(v state.Value) cty.Value {
	switch v.Kind() {
	case state.KindBool:
		b, _ := v.AsBool()
		return cty.BoolVal(b)
	case state.KindNumber:
		n, _ := v.AsNumber()
		return cty.NumberFloatVal(n)
	case state.KindString:
		s, _ := v.AsString()
		return cty.StringVal(s)
	case state.KindList:
		items, _ := v.AsList()
		if len(items) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(items))
		for i, item := range items {
			vals[i] = ToCty(item)
		}
		return cty.TupleVal(vals)
	case state.KindMap:
		m, _ := v.AsMap()
		return objectVal(m)
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}

// StateToCty converts a whole state into the object bound to "state".
func StateToCty(st state.Map) cty.Value {
	return objectVal(st)
}

func objectVal[M ~map[string]state.Value](m M) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}
	attrs := make(map[string]cty.Value, len(m))
	for k, e := range m {
		attrs[k] = ToCty(e)
	}
	return cty.ObjectVal(attrs)
}

// FromCty converts an expression result back into a state value.
func FromCty(v cty.Value) (state.Value, error) {
	if !v.IsKnown() {
		return state.Null(), fmt.Errorf("value is not known")
	}
	if v.IsNull() {
		return state.Null(), nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return state.String(v.AsString()), nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return state.Number(f), nil
	case ty == cty.Bool:
		return state.Bool(v.True()), nil
	case ty.IsListType() || ty.IsSetType() || ty.IsTupleType():
		items := make([]state.Value, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, e := it.Element()
			item, err := FromCty(e)
			if err != nil {
				return state.Null(), err
			}
			items = append(items, item)
		}
		return state.List(items...), nil
	case ty.IsMapType() || ty.IsObjectType():
		m := make(map[string]state.Value, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			k, e := it.Element()
			item, err := FromCty(e)
			if err != nil {
				return state.Null(), fmt.Errorf("attribute %q: %w", k.AsString(), err)
			}
			m[k.AsString()] = item
		}
		return state.Object(m), nil
	}
	return state.Null(), fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}

// mapFromCty converts an object or map result into a state update.
func mapFromCty(v cty.Value) (state.Map, error) {
	if v.IsNull() {
		return state.Map{}, nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", v.Type().FriendlyName())
	}
	sv, err := FromCty(v)
	if err != nil {
		return nil, err
	}
	m, _ := sv.AsMap()
	return state.Map(m), nil
}
