// ABOUTME: Publish-eligibility filter for widget lists
// ABOUTME: Pure, order-preserving, idempotent

package widget

import "time"

// Live reports whether the entry is publish-eligible at now
func Live(e Entry, now time.Time) bool {
	if !e.Published {
		return false
	}
	if e.PublishEffective != nil && e.PublishEffective.After(now) {
		return false
	}
	if e.PublishExpire != nil && !e.PublishExpire.After(now) {
		return false
	}
	return true
}

// Filter returns the live entries in their original order
func Filter(entries []Entry, now time.Time) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if Live(e, now) {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the set of type tags present in entries
func Types(entries []Entry) map[string]struct{} {
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		set[e.Type] = struct{}{}
	}
	return set
}

// Clone deep-copies a widgets map so a new version shares no slices, config
// maps or date pointers with its source.
func Clone(slots map[string][]Entry) map[string][]Entry {
	if slots == nil {
		return nil
	}
	out := make(map[string][]Entry, len(slots))
	for slot, entries := range slots {
		cp := make([]Entry, len(entries))
		for i, e := range entries {
			cp[i] = e.Clone()
		}
		out[slot] = cp
	}
	return out
}

// Clone returns a copy of the entry with its own config and dates
func (e Entry) Clone() Entry {
	e.Config = cloneConfig(e.Config)
	e.PublishEffective = cloneTime(e.PublishEffective)
	e.PublishExpire = cloneTime(e.PublishExpire)
	return e
}

func cloneConfig(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container shapes JSON, YAML, CBOR and structpb
// decoding produce. Scalars are immutable and returned as is.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneConfig(t)
	case map[any]any:
		out := make(map[any]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []byte:
		return append([]byte(nil), t...)
	case *time.Time:
		return cloneTime(t)
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
