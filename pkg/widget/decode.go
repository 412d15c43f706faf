// ABOUTME: Loading-boundary decoder for loosely-validated widget data
// ABOUTME: Maps legacy boolean flags onto Behavior and drops malformed entries

package widget

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// ErrMalformed marks an entry that cannot be decoded
var ErrMalformed = errors.New("widget: malformed entry")

// DecodeSlots decodes a raw widgets map (slot name to list or map of entries).
// Malformed entries are logged and skipped; they never fail the whole map.
func DecodeSlots(raw map[string]any, log zerolog.Logger) map[string][]Entry {
	out := make(map[string][]Entry, len(raw))
	for slot, value := range raw {
		out[slot] = DecodeSlot(slot, value, log)
	}
	return out
}

// DecodeSlot decodes one slot. A list keeps its array order. A map (keyed by
// widget id) has no authoritative order, so it is sorted by the legacy order
// field and then by id.
func DecodeSlot(slot string, raw any, log zerolog.Logger) []Entry {
	switch v := raw.(type) {
	case nil:
		return []Entry{}
	case []any:
		out := make([]Entry, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				logDropped(log, slot, fmt.Sprintf("#%d", i), fmt.Errorf("%w: expected object, got %T", ErrMalformed, item))
				continue
			}
			e, err := DecodeEntry(m)
			if err != nil {
				logDropped(log, slot, fmt.Sprintf("#%d", i), err)
				continue
			}
			out = append(out, e)
		}
		return out
	case []map[string]any:
		items := make([]any, len(v))
		for i := range v {
			items[i] = v[i]
		}
		return DecodeSlot(slot, items, log)
	case map[string]any:
		out := make([]Entry, 0, len(v))
		for id, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				logDropped(log, slot, id, fmt.Errorf("%w: expected object, got %T", ErrMalformed, item))
				continue
			}
			if _, has := m["id"]; !has {
				withID := make(map[string]any, len(m)+1)
				for k, val := range m {
					withID[k] = val
				}
				withID["id"] = id
				m = withID
			}
			e, err := DecodeEntry(m)
			if err != nil {
				logDropped(log, slot, id, err)
				continue
			}
			out = append(out, e)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Order != out[j].Order {
				return out[i].Order < out[j].Order
			}
			return out[i].ID < out[j].ID
		})
		return out
	default:
		log.Warn().
			Str("slot", slot).
			Str("kind", fmt.Sprintf("%T", raw)).
			Msg("slot value is neither a list nor a map, treating as empty")
		return []Entry{}
	}
}

func logDropped(log zerolog.Logger, slot, ref string, err error) {
	log.Warn().
		Str("slot", slot).
		Str("widget", ref).
		Err(err).
		Msg("dropping malformed widget entry")
}

// DecodeEntry decodes a single entry from a generic map as produced by JSON,
// YAML or structpb decoding.
func DecodeEntry(m map[string]any) (Entry, error) {
	id, err := stringField(m, "id")
	if err != nil {
		return Entry{}, err
	}
	if id == "" {
		return Entry{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	typeTag, err := stringField(m, "type")
	if err != nil {
		return Entry{}, err
	}
	if typeTag == "" {
		// legacy payloads used "widget_type"
		if typeTag, err = stringField(m, "widget_type"); err != nil {
			return Entry{}, err
		}
	}

	e := New(id, typeTag)

	if cfg, ok := m["config"]; ok && cfg != nil {
		cm, ok := cfg.(map[string]any)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %s: config must be an object, got %T", ErrMalformed, id, cfg)
		}
		e.Config = cm
	}

	if v, ok := m["order"]; ok && v != nil {
		if e.Order, err = toInt(v); err != nil {
			return Entry{}, fmt.Errorf("%w: %s: order: %v", ErrMalformed, id, err)
		}
	}

	if v, ok := m["is_published"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %s: is_published must be a bool, got %T", ErrMalformed, id, v)
		}
		e.Published = b
	}

	if e.PublishEffective, err = timeField(m, "publish_effective_date"); err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
	}
	if e.PublishExpire, err = timeField(m, "publish_expire_date"); err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrMalformed, id, err)
	}

	if v, ok := m["inheritance_level"]; ok && v != nil {
		if e.Level, err = toInt(v); err != nil {
			return Entry{}, fmt.Errorf("%w: %s: inheritance_level: %v", ErrMalformed, id, err)
		}
		if e.Level < InfiniteLevel {
			return Entry{}, fmt.Errorf("%w: %s: inheritance_level %d below -1", ErrMalformed, id, e.Level)
		}
	}
	if v, ok := m["inherit_from_parent"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %s: inherit_from_parent must be a bool, got %T", ErrMalformed, id, v)
		}
		if !b {
			e.Level = 0
		}
	}

	// explicit behavior wins over the legacy override_parent flag
	if v, ok := m["inheritance_behavior"]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %s: inheritance_behavior must be a string, got %T", ErrMalformed, id, v)
		}
		if e.Behavior, err = ParseBehavior(s); err != nil {
			return Entry{}, err
		}
	} else if v, ok := m["override_parent"]; ok && v != nil {
		b, ok := v.(bool)
		if !ok {
			return Entry{}, fmt.Errorf("%w: %s: override_parent must be a bool, got %T", ErrMalformed, id, v)
		}
		if b {
			e.Behavior = OverrideParent
		}
	}

	return e, nil
}

// Encode renders the entry as a generic map in the same shape DecodeEntry reads
func (e Entry) Encode() map[string]any {
	m := map[string]any{
		"id":                   e.ID,
		"type":                 e.Type,
		"order":                int64(e.Order),
		"is_published":         e.Published,
		"inheritance_level":    int64(e.Level),
		"inheritance_behavior": e.Behavior.String(),
	}
	if e.Config != nil {
		m["config"] = e.Config
	}
	if e.PublishEffective != nil {
		m["publish_effective_date"] = e.PublishEffective.UTC().Format(time.RFC3339Nano)
	}
	if e.PublishExpire != nil {
		m["publish_expire_date"] = e.PublishExpire.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func stringField(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrMalformed, key, v)
	}
	return s, nil
}

func timeField(m map[string]any, key string) (*time.Time, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	t, err := ParseTime(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

// ParseTime accepts RFC 3339 strings, bare dates and time.Time values.
// An empty string is treated as unset.
func ParseTime(v any) (*time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return &t, nil
	case *time.Time:
		return t, nil
	case string:
		if t == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return &parsed, nil
			}
		}
		return nil, fmt.Errorf("unparseable time %q", t)
	default:
		return nil, fmt.Errorf("unsupported time value of type %T", v)
	}
}

// toInt accepts every integer kind the decoders in use can produce and
// rejects values that do not fit in an int.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		if n < math.MinInt || n > math.MaxInt {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	case uint:
		if n > math.MaxInt {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		if uint64(n) > math.MaxInt {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	case uint64:
		if n > math.MaxInt {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	case float32:
		return toInt(float64(n))
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("value %v is not an integer", n)
		}
		if n < math.MinInt || n >= math.MaxInt {
			return 0, fmt.Errorf("value %v out of range", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported number of type %T", v)
	}
}
