package exprsandbox

import (
	"fmt"
	"io"
	"strings"

	"github.com/vk/dfkernel/internal/ctyconv"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// builtins returns the functions available to cells. print writes to out.
func builtins(out io.Writer) map[string]function.Function {
	return map[string]function.Function{
		"abs":     stdlib.AbsoluteFunc,
		"ceil":    stdlib.CeilFunc,
		"concat":  stdlib.ConcatFunc,
		"floor":   stdlib.FloorFunc,
		"format":  stdlib.FormatFunc,
		"join":    stdlib.JoinFunc,
		"keys":    stdlib.KeysFunc,
		"len":     stdlib.LengthFunc,
		"lower":   stdlib.LowerFunc,
		"max":     stdlib.MaxFunc,
		"merge":   stdlib.MergeFunc,
		"min":     stdlib.MinFunc,
		"range":   stdlib.RangeFunc,
		"reverse": stdlib.ReverseListFunc,
		"sorted":  stdlib.SortFunc,
		"split":   stdlib.SplitFunc,
		"str":     stdlib.MakeToFunc(cty.String),
		"float":   stdlib.MakeToFunc(cty.Number),
		"upper":   stdlib.UpperFunc,
		"values":  stdlib.ValuesFunc,
		"print":   printFunc(out),
	}
}

func printFunc(out io.Writer) function.Function {
	return function.New(&function.Spec{
		VarParam: &function.Parameter{
			Name:      "values",
			Type:      cty.DynamicPseudoType,
			AllowNull: true,
		},
		Type: function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			parts := make([]string, 0, len(args))
			for _, arg := range args {
				v, err := ctyconv.FromCty(arg)
				if err != nil {
					return cty.NilVal, err
				}
				if s, ok := v.(string); ok {
					parts = append(parts, s)
					continue
				}
				parts = append(parts, ctyconv.Format(v))
			}
			if _, err := fmt.Fprintln(out, strings.Join(parts, " ")); err != nil {
				return cty.NilVal, err
			}
			return cty.NullVal(cty.DynamicPseudoType), nil
		},
	})
}
