// ABOUTME: Publication resolver selecting the live or latest version
// ABOUTME: Live and latest are distinct types so callers cannot mix them up

package version

import "time"

// Published is a version that was live at the time it was selected
type Published struct {
	*Version
}

// Head is the highest-numbered version regardless of publish window.
// Editor and preview flows use it; public rendering must not.
type Head struct {
	*Version
}

// CurrentPublished selects the highest-numbered version whose publish window
// contains now. The second return is false when nothing is live, which is a
// normal outcome (draft-only or fully expired node).
func CurrentPublished(versions []*Version, now time.Time) (Published, bool) {
	var best *Version
	for _, v := range versions {
		if !LiveAt(v, now) {
			continue
		}
		if best == nil || v.Number > best.Number {
			best = v
		}
	}
	if best == nil {
		return Published{}, false
	}
	return Published{best}, true
}

// Latest selects the highest-numbered version
func Latest(versions []*Version) (Head, bool) {
	var best *Version
	for _, v := range versions {
		if best == nil || v.Number > best.Number {
			best = v
		}
	}
	if best == nil {
		return Head{}, false
	}
	return Head{best}, true
}

// ByNumber finds a version by its number
func ByNumber(versions []*Version, number int) (*Version, bool) {
	for _, v := range versions {
		if v.Number == number {
			return v, true
		}
	}
	return nil, false
}

// NextNumber returns max(existing)+1, or 1 for a node without versions
func NextNumber(versions []*Version) int {
	next := 1
	for _, v := range versions {
		if v.Number >= next {
			next = v.Number + 1
		}
	}
	return next
}
