// Conversions between engine types and Struct-shaped wire messages
package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/nainya/cmsengine/pkg/resolve"
	"github.com/nainya/cmsengine/pkg/version"
)

// errBadRequest marks malformed request fields
var errBadRequest = errors.New("bad request")

type args map[string]any

func (a args) str(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", errBadRequest, key)
	}
	return s, nil
}

func (a args) required(key string) (string, error) {
	s, err := a.str(key)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is required", errBadRequest, key)
	}
	return s, nil
}

func (a args) boolean(key string) (bool, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a bool", errBadRequest, key)
	}
	return b, nil
}

func (a args) number(key string) (int, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s is required", errBadRequest, key)
	}
	f, ok := v.(float64)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, key)
	}
	return int(f), nil
}

func (a args) time(key string) (*time.Time, error) {
	s, err := a.str(key)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	return &t, nil
}

func (a args) strings(key string) ([]string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", errBadRequest, key)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must contain strings", errBadRequest, key)
		}
		out = append(out, s)
	}
	return out, nil
}

func (a args) selection() (resolve.Selection, error) {
	s, err := a.str("selection")
	if err != nil {
		return 0, err
	}
	switch s {
	case "", resolve.PublishedOnly.String():
		return resolve.PublishedOnly, nil
	case resolve.PublishedOrLatest.String():
		return resolve.PublishedOrLatest, nil
	default:
		return 0, fmt.Errorf("%w: unknown selection %q", errBadRequest, s)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func encodeVersion(v *version.Version, now time.Time) map[string]any {
	slots := make(map[string]any, len(v.Widgets))
	for slot, entries := range v.Widgets {
		list := make([]any, len(entries))
		for i, e := range entries {
			list[i] = e.Encode()
		}
		slots[slot] = list
	}
	return map[string]any{
		"id":             v.ID,
		"node_id":        v.NodeID,
		"number":         int64(v.Number),
		"status":         string(version.StatusAt(v, now)),
		"effective_date": optionalTime(v.EffectiveDate),
		"expiry_date":    optionalTime(v.ExpiryDate),
		"widgets":        slots,
		"layout_ref":     v.LayoutRef,
		"theme_ref":      v.ThemeRef,
		"created_at":     formatTime(v.CreatedAt),
		"created_by":     v.CreatedBy,
		"description":    v.Description,
	}
}

func encodePlacements(ps []resolve.Placement) []any {
	out := make([]any, len(ps))
	for i, p := range ps {
		out[i] = map[string]any{
			"widget":         p.Widget.Encode(),
			"source_node_id": p.SourceNodeID,
			"depth":          int64(p.Depth),
			"version":        int64(p.Version),
		}
	}
	return out
}

func encodeSlot(r *resolve.ResolvedSlot) map[string]any {
	return map[string]any{
		"node_id":        r.NodeID,
		"slot":           r.Slot,
		"layout":         r.Layout,
		"at":             formatTime(r.At),
		"merge_mode":     r.MergeMode,
		"overridden":     r.Overridden,
		"levels_visited": int64(r.LevelsVisited),
		"hidden_count":   int64(r.HiddenCount()),
		"widgets":        encodePlacements(r.Widgets),
		"inherited_raw":  encodePlacements(r.InheritedRaw),
	}
}
