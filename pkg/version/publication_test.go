// ABOUTME: Tests for the publication resolver
// ABOUTME: Verifies temporal selection, tie-breaks and derived status

package version

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestCurrentPublishedTemporal(t *testing.T) {
	v1 := &Version{NodeID: "page", Number: 1, EffectiveDate: date(2024, 1, 1), ExpiryDate: date(2024, 2, 1)}
	v2 := &Version{NodeID: "page", Number: 2, EffectiveDate: date(2024, 2, 1)}
	versions := []*Version{v1, v2}

	tests := []struct {
		name string
		now  time.Time
		want int // 0 means none
	}{
		{"mid january", *date(2024, 1, 15), 1},
		{"march", *date(2024, 3, 1), 2},
		{"previous december", *date(2023, 12, 31), 0},
		{"handover instant", *date(2024, 2, 1), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CurrentPublished(versions, tt.now)
			if tt.want == 0 {
				if ok {
					t.Errorf("Expected no published version, got v%d", got.Number)
				}
				return
			}
			if !ok {
				t.Fatalf("Expected v%d, got none", tt.want)
			}
			if got.Number != tt.want {
				t.Errorf("Expected v%d, got v%d", tt.want, got.Number)
			}
		})
	}
}

func TestCurrentPublishedHighestNumberWins(t *testing.T) {
	now := *date(2024, 6, 1)
	versions := []*Version{
		{Number: 3, EffectiveDate: date(2024, 1, 1)},
		{Number: 1, EffectiveDate: date(2024, 1, 1)},
		{Number: 4},                                // draft
		{Number: 2, EffectiveDate: date(2024, 5, 1)}, // later date, lower number
	}

	got, ok := CurrentPublished(versions, now)
	if !ok || got.Number != 3 {
		t.Errorf("Expected v3, got %+v (ok=%v)", got.Version, ok)
	}
}

func TestCurrentPublishedNeverReturnsDraftOrExpired(t *testing.T) {
	versions := []*Version{
		{Number: 1, EffectiveDate: date(2024, 1, 1), ExpiryDate: date(2024, 3, 1)},
		{Number: 2},
		{Number: 3, EffectiveDate: date(2024, 2, 1), ExpiryDate: date(2024, 2, 10)},
		{Number: 4, EffectiveDate: date(2024, 4, 1)},
	}

	for day := 0; day < 150; day++ {
		now := date(2023, 12, 1).AddDate(0, 0, day)
		got, ok := CurrentPublished(versions, now)
		if !ok {
			continue
		}
		if got.EffectiveDate == nil || got.EffectiveDate.After(now) {
			t.Fatalf("%s: v%d is not yet effective", now.Format("2006-01-02"), got.Number)
		}
		if got.ExpiryDate != nil && !got.ExpiryDate.After(now) {
			t.Fatalf("%s: v%d is expired", now.Format("2006-01-02"), got.Number)
		}
	}
}

func TestLatestIgnoresWindow(t *testing.T) {
	now := *date(2024, 6, 1)
	versions := []*Version{
		{Number: 1, EffectiveDate: date(2024, 1, 1)},
		{Number: 2},
	}

	head, ok := Latest(versions)
	if !ok || head.Number != 2 {
		t.Errorf("Expected head v2, got %+v", head.Version)
	}
	live, ok := CurrentPublished(versions, now)
	if !ok || live.Number != 1 {
		t.Errorf("Expected live v1, got %+v", live.Version)
	}

	if _, ok := Latest(nil); ok {
		t.Error("Expected no head for empty history")
	}
}

func TestStatusAt(t *testing.T) {
	now := *date(2024, 6, 1)
	tests := []struct {
		name string
		v    *Version
		want Status
	}{
		{"draft", &Version{}, StatusDraft},
		{"draft with expiry", &Version{ExpiryDate: date(2025, 1, 1)}, StatusDraft},
		{"scheduled", &Version{EffectiveDate: date(2024, 7, 1)}, StatusScheduled},
		{"published open ended", &Version{EffectiveDate: date(2024, 1, 1)}, StatusPublished},
		{"published effective now", &Version{EffectiveDate: &now}, StatusPublished},
		{"expired", &Version{EffectiveDate: date(2024, 1, 1), ExpiryDate: date(2024, 2, 1)}, StatusExpired},
		{"expires now", &Version{EffectiveDate: date(2024, 1, 1), ExpiryDate: &now}, StatusExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusAt(tt.v, now); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestValidateWindow(t *testing.T) {
	if err := ValidateWindow(date(2024, 1, 1), date(2024, 1, 1)); err == nil {
		t.Error("Expected error for empty window")
	}
	if err := ValidateWindow(date(2024, 1, 1), date(2024, 1, 2)); err != nil {
		t.Errorf("Expected valid window, got %v", err)
	}
	if err := ValidateWindow(nil, date(2024, 1, 2)); err != nil {
		t.Errorf("Expected draft with expiry to be valid, got %v", err)
	}
}

func TestNextNumber(t *testing.T) {
	if got := NextNumber(nil); got != 1 {
		t.Errorf("Expected 1, got %d", got)
	}
	if got := NextNumber([]*Version{{Number: 1}, {Number: 5}, {Number: 3}}); got != 6 {
		t.Errorf("Expected 6, got %d", got)
	}
}
