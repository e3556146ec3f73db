// Package constraint implements the single-entry ordered constraint
// evaluator: stateless checks (time_window, allowed_paths) run before the
// stateful rate limiter, so a request doomed to fail never spuriously
// consumes a token. Dynamic constraint values arrive as map[string]any
// (decoded from JSON/TOML) and are mapped into typed variants with
// mitchellh/mapstructure.
package constraint

import (
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/trust-arbor/arbor-sub008/kernelerr"
	"github.com/trust-arbor/arbor-sub008/ratelimit"
)

// TimeWindow restricts a resource to a UTC hour-of-day range. A window
// where Start > End wraps past midnight.
type TimeWindow struct {
	StartHour int `mapstructure:"start_hour"`
	EndHour   int `mapstructure:"end_hour"`
}

// contains reports whether hour falls within [Start, End), wrapping at
// midnight when Start > End.
func (w TimeWindow) contains(hour int) bool {
	if w.StartHour == w.EndHour {
		return true
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// AllowedPaths restricts a resource to an explicit allow-list, matched
// with the same prefix-with-separator rule as the capability store.
type AllowedPaths struct {
	Paths []string `mapstructure:"allowed_paths"`
}

// RateLimit caps the request rate for the (principal, resource) pair.
type RateLimit struct {
	MaxTokens float64 `mapstructure:"rate_limit"`
}

// Limiter is the subset of ratelimit.Limiter the evaluator depends on,
// so tests can substitute a fake.
type Limiter interface {
	Consume(principalID, resourceURI string, maxTokens float64, now time.Time) (float64, error)
}

var _ Limiter = (*ratelimit.Limiter)(nil)

// Enforce runs the ordered evaluator over constraints for a single
// (principalID, resourceURI) request. Unknown constraint keys are
// ignored for forward compatibility; requires_approval is always Ok
// here — its real enforcement is the policy approval guard.
func Enforce(constraints map[string]any, principalID, resourceURI string, limiter Limiter, now time.Time) error {
	if raw, ok := constraints["time_window"]; ok {
		var tw TimeWindow
		if err := decode(raw, &tw); err == nil {
			if !tw.contains(now.Hour()) {
				return &kernelerr.ConstraintViolated{
					Kind:    kernelerr.ConstraintTimeWindow,
					Context: map[string]any{"start_hour": tw.StartHour, "end_hour": tw.EndHour, "hour": now.Hour()},
				}
			}
		}
	}

	if raw, ok := constraints["allowed_paths"]; ok {
		paths, err := decodeStringSlice(raw)
		if err == nil && len(paths) > 0 {
			if !pathAllowed(paths, resourceURI) {
				return &kernelerr.ConstraintViolated{
					Kind:    kernelerr.ConstraintAllowedPaths,
					Context: map[string]any{"allowed_paths": paths, "resource_uri": resourceURI},
				}
			}
		}
	}

	if raw, ok := constraints["rate_limit"]; ok {
		maxTokens, err := decodeFloat(raw)
		if err == nil && maxTokens > 0 && limiter != nil {
			remaining, err := limiter.Consume(principalID, resourceURI, maxTokens, now)
			if err != nil {
				return &kernelerr.ConstraintViolated{
					Kind:    kernelerr.ConstraintRateLimit,
					Context: map[string]any{"remaining": remaining, "max_tokens": maxTokens},
				}
			}
		}
	}

	// requires_approval is evaluated by the approval guard, not here.
	return nil
}

func pathAllowed(paths []string, resourceURI string) bool {
	for _, p := range paths {
		if resourceURI == p || isPrefixWithSeparator(p, resourceURI) {
			return true
		}
	}
	return false
}

func isPrefixWithSeparator(prefix, resourceURI string) bool {
	if len(resourceURI) <= len(prefix)+1 {
		return false
	}
	return resourceURI[:len(prefix)+1] == prefix+"/"
}

func decode(raw any, out any) error {
	return mapstructure.Decode(raw, out)
}

func decodeStringSlice(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	default:
		var out []string
		if err := mapstructure.Decode(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func decodeFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		var out float64
		if err := mapstructure.Decode(raw, &out); err != nil {
			return 0, err
		}
		return out, nil
	}
}
