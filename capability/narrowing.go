package capability

import "github.com/trust-arbor/arbor-sub008/kernelerr"

// ValidateNarrowing enforces that child is a constraint-by-constraint
// narrowing of parent: a rate_limit may only shrink, a time_window may
// only shrink, and allowed_paths may only intersect. Any constraint key
// present in child but absent from parent is rejected, known kinds
// included — a child
// cannot introduce a constraint its parent never restricted.
func ValidateNarrowing(parent, child map[string]any) error {
	for key, childVal := range child {
		parentVal, ok := parent[key]
		if !ok {
			return &kernelerr.ConstraintViolated{Kind: kernelerr.ConstraintKind(key), Context: map[string]any{"reason": "parent does not restrict this key"}}
		}
		switch key {
		case "rate_limit":
			childN, childOK := numericValue(childVal)
			parentN, parentOK := numericValue(parentVal)
			if childOK && parentOK && childN > parentN {
				return &kernelerr.ConstraintViolated{Kind: kernelerr.ConstraintRateLimit, Context: map[string]any{"reason": "rate_limit may only shrink", "parent": parentN, "child": childN}}
			}
		case "time_window":
			if !timeWindowNarrows(parentVal, childVal) {
				return &kernelerr.ConstraintViolated{Kind: kernelerr.ConstraintTimeWindow, Context: map[string]any{"reason": "time_window may only shrink"}}
			}
		case "allowed_paths":
			if !allowedPathsNarrow(parentVal, childVal) {
				return &kernelerr.ConstraintViolated{Kind: kernelerr.ConstraintAllowedPaths, Context: map[string]any{"reason": "allowed_paths may only intersect"}}
			}
		}
	}
	return nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}

func timeWindowNarrows(parentVal, childVal any) bool {
	parent, ok := asWindow(parentVal)
	if !ok {
		return true
	}
	child, ok := asWindow(childVal)
	if !ok {
		return true
	}
	return windowContains(parent, child)
}

type window struct {
	start, end int
}

func asWindow(v any) (window, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return window{}, false
	}
	start, sOK := numericValue(m["start_hour"])
	end, eOK := numericValue(m["end_hour"])
	if !sOK || !eOK {
		return window{}, false
	}
	return window{start: int(start), end: int(end)}, true
}

// windowContains reports whether child's [start,end) range (with
// midnight wraparound when start > end) is a subset of parent's.
func windowContains(parent, child window) bool {
	parentHours := expandWindow(parent)
	childHours := expandWindow(child)
	for h := range childHours {
		if !parentHours[h] {
			return false
		}
	}
	return true
}

func expandWindow(w window) map[int]bool {
	hours := make(map[int]bool, 24)
	h := w.start
	for {
		hours[h%24] = true
		h++
		if h%24 == w.end%24 {
			break
		}
		if h-w.start > 24 {
			break
		}
	}
	return hours
}

func allowedPathsNarrow(parentVal, childVal any) bool {
	parentPaths, ok := asStringSlice(parentVal)
	if !ok {
		return true
	}
	childPaths, ok := asStringSlice(childVal)
	if !ok {
		return true
	}
	allowed := make(map[string]bool, len(parentPaths))
	for _, p := range parentPaths {
		allowed[p] = true
	}
	for _, p := range childPaths {
		if !allowed[p] {
			return false
		}
	}
	return true
}

func asStringSlice(v any) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}
