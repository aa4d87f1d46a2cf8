// Package ctyconv converts between cty values and plain Go values.
package ctyconv

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/vk/dfkernel/internal/result"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// FromCty converts a cty.Value to a Go value. Whole numbers become int64,
// other numbers float64.
func FromCty(val cty.Value) (any, error) {
	if !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			bf := val.AsBigFloat()
			if bf.IsInt() {
				if i, acc := bf.Int64(); acc == big.Exact {
					return i, nil
				}
			}
			f, _ := bf.Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			goVal, err := FromCty(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = goVal
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := []any{}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			goVal, err := FromCty(v)
			if err != nil {
				return nil, err
			}
			out = append(out, goVal)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}

// ToCty converts a Go value to a cty.Value. A *result.Result becomes an
// object of its entries; reading it whole does not record item reads.
func ToCty(data any) (cty.Value, error) {
	switch v := data.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case cty.Value:
		return v, nil
	case string:
		return cty.StringVal(v), nil
	case bool:
		return cty.BoolVal(v), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case map[string]any:
		attrs := make(map[string]cty.Value, len(v))
		for key, val := range v {
			cv, err := ToCty(val)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", key, err)
			}
			attrs[key] = cv
		}
		return cty.ObjectVal(attrs), nil
	case []any:
		return tupleOf(v)
	case result.Tuple:
		return tupleOf(v)
	case *result.Result:
		attrs := make(map[string]cty.Value, v.Len())
		for _, key := range v.Keys() {
			item, _ := v.Peek(key)
			cv, err := ToCty(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("item %q: %w", key, err)
			}
			attrs[key] = cv
		}
		return cty.ObjectVal(attrs), nil
	}
	ty, err := gocty.ImpliedType(data)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported type for conversion to cty.Value: %T", data)
	}
	return gocty.ToCtyValue(data, ty)
}

func tupleOf(items []any) (cty.Value, error) {
	elems := make([]cty.Value, 0, len(items))
	for i, item := range items {
		cv, err := ToCty(item)
		if err != nil {
			return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
		}
		elems = append(elems, cv)
	}
	return cty.TupleVal(elems), nil
}

// Format renders a Go value for display, with map keys sorted.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return fmt.Sprintf("%q", x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := "{"
		for i, k := range keys {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%q: %s", k, Format(x[k]))
		}
		return s + "}"
	case []any:
		return formatSeq("[", "]", x)
	case result.Tuple:
		return formatSeq("(", ")", x)
	case *result.Result:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func formatSeq(open, close string, items []any) string {
	s := open
	for i, item := range items {
		if i > 0 {
			s += ", "
		}
		s += Format(item)
	}
	return s + close
}
