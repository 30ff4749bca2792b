package validation

import (
	"fmt"
	"strings"

	"github.com/Strob0t/phasegate/internal/domain/phase"
)

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []string:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// checkKind returns a failure message when v does not have the field's kind.
func checkKind(f phase.Field, v any) string {
	switch f.Kind {
	case phase.KindString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("field %q must be a string", f.Name)
		}
	case phase.KindList:
		if !isStringList(v) {
			return fmt.Sprintf("field %q must be a list of strings", f.Name)
		}
	case phase.KindEndpoints:
		if bad := badEndpoints(v); bad != "" {
			return fmt.Sprintf("field %q must be a list of endpoint descriptors: %s", f.Name, bad)
		}
	}
	return ""
}

func isStringList(v any) bool {
	switch x := v.(type) {
	case []string:
		return true
	case []any:
		for _, item := range x {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// badEndpoints accepts "GET /todos" strings or {method, path} objects.
func badEndpoints(v any) string {
	var items []any
	switch x := v.(type) {
	case []string:
		for _, s := range x {
			items = append(items, s)
		}
	case []any:
		items = x
	case []map[string]any:
		for _, m := range x {
			items = append(items, m)
		}
	default:
		return "not a list"
	}

	for i, item := range items {
		switch e := item.(type) {
		case string:
			if len(strings.Fields(e)) < 2 {
				return fmt.Sprintf("entry %d %q is not \"METHOD /path\"", i, e)
			}
		case map[string]any:
			method, _ := e["method"].(string)
			path, _ := e["path"].(string)
			if method == "" || path == "" {
				return fmt.Sprintf("entry %d needs method and path", i)
			}
		default:
			return fmt.Sprintf("entry %d has unsupported type %T", i, item)
		}
	}
	return ""
}
