package remotesandbox

import (
	"fmt"

	"github.com/vk/dfkernel/internal/cellid"
	"github.com/vk/dfkernel/internal/result"
)

// Event names exchanged with the remote runner.
const (
	EventRunCell     = "run_cell"
	EventCellResult  = "cell_result"
	EventReadCell    = "read_cell"
	EventReadResult  = "read_result"
	EventWriteCell   = "write_cell"
	EventWriteResult = "write_result"
)

// message is an inbound event routed to the Run call that owns it.
type message struct {
	event string
	data  map[string]any
}

func decode(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	data, ok := args[0].(map[string]any)
	return data, ok
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// toWire converts a kernel value into plain JSON-compatible data.
func toWire(v any) any {
	switch x := v.(type) {
	case *result.Result:
		out := make(map[string]any, x.Len())
		for _, key := range x.Keys() {
			item, _ := x.Peek(key)
			out[key] = toWire(item)
		}
		return out
	case result.Tuple:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = toWire(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = toWire(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = toWire(item)
		}
		return out
	case nil, string, bool, int, int64, float64:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// fromWire builds a cell value from a cell_result payload. An "outputs"
// list of {key, value} entries becomes a multi-output result; "libs" names
// the leading library entries.
func fromWire(cell cellid.ID, data map[string]any) any {
	raw, ok := data["outputs"].([]any)
	if !ok {
		return data["value"]
	}
	libNames := make(map[string]bool)
	if libs, ok := data["libs"].([]any); ok {
		for _, l := range libs {
			if s, ok := l.(string); ok {
				libNames[s] = true
			}
		}
	}
	var libs, entries []result.Entry
	for _, r := range raw {
		entry, ok := r.(map[string]any)
		if !ok {
			continue
		}
		e := result.Entry{Key: str(entry, "key"), Value: entry["value"]}
		if libNames[e.Key] {
			libs = append(libs, e)
		} else {
			entries = append(entries, e)
		}
	}
	keepNone, _ := data["keep_none"].(bool)
	return result.New(cell, libs, entries, keepNone)
}
