// comparator_test.go: Tests for equality strategies
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"math"
	"reflect"
	"testing"
	"time"
)

type money struct {
	Cents    int64
	Currency string
}

type version struct {
	Major, Minor int
	Label        string
}

// Equal ignores the label.
func (v version) Equal(other version) bool {
	return v.Major == other.Major && v.Minor == other.Minor
}

type noisy struct {
	Values []int
}

func plainField(name string) FieldDescriptor {
	return FieldDescriptor{Name: name, Kind: AutoTrack}
}

func contentsField(name string, depth int) FieldDescriptor {
	return FieldDescriptor{Name: name, Kind: ExplicitTrack,
		Options: CompareOptions{TrackContents: true, MaxDepth: depth}}
}

func customField(name string) FieldDescriptor {
	return FieldDescriptor{Name: name, Kind: ExplicitTrack,
		Options: CompareOptions{UseCustomEquality: true}}
}

func TestComparator_SimpleValues(t *testing.T) {
	c := NewComparator(Config{Logger: NopLogger()})
	now := time.Now()

	tests := []struct {
		name     string
		prev     any
		cur      any
		expected bool
	}{
		{"equal ints", 42, 42, true},
		{"different ints", 42, 43, false},
		{"equal strings", "gear", "gear", true},
		{"different strings", "gear", "cog", false},
		{"nan stays nan", math.NaN(), math.NaN(), true},
		{"float change", 1.5, 2.5, false},
		{"same instant other zone", now, now.In(time.FixedZone("X", 3600)), true},
		{"durations", time.Second, 2 * time.Second, false},
		{"both absent", nil, nil, true},
		{"value cleared", "x", nil, false},
		{"type changed", 1, "1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Equal(tt.prev, tt.cur, plainField("F")); got != tt.expected {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.prev, tt.cur, got, tt.expected)
			}
		})
	}
}

func TestComparator_CollectionsByIdentity(t *testing.T) {
	c := NewComparator(Config{Logger: NopLogger()})

	a := []int{1, 2, 3}
	b := []int{1, 2, 3}
	if !c.Equal(a, a, plainField("Items")) {
		t.Error("Same slice should be equal")
	}
	if c.Equal(a, b, plainField("Items")) {
		t.Error("Distinct slices with equal contents should differ by identity")
	}
	if !c.Equal([]int{}, []int{}, plainField("Items")) {
		t.Error("Empty slices should be equal")
	}

	m := map[string]int{"a": 1}
	if !c.Equal(m, m, plainField("Attrs")) {
		t.Error("Same map should be equal")
	}
	if c.Equal(m, map[string]int{"a": 1}, plainField("Attrs")) {
		t.Error("Distinct maps should differ by identity")
	}

	p := &money{Cents: 1}
	if c.Equal(p, &money{Cents: 1}, plainField("Price")) {
		t.Error("Distinct pointers should differ by identity")
	}
}

func TestComparator_Contents(t *testing.T) {
	c := NewComparator(Config{Logger: NopLogger()})

	tests := []struct {
		name     string
		prev     any
		cur      any
		depth    int
		expected bool
	}{
		{"equal contents", []int{1, 2, 3}, []int{1, 2, 3}, 0, true},
		{"element changed", []int{1, 2, 3}, []int{1, 9, 3}, 0, false},
		{"length changed", []int{1, 2}, []int{1, 2, 3}, 0, false},
		{"nested equal", [][]string{{"a"}, {"b"}}, [][]string{{"a"}, {"b"}}, 2, true},
		{"nested changed", [][]string{{"a"}, {"b"}}, [][]string{{"a"}, {"c"}}, 2, false},
		{"nested beyond depth uses identity", [][]string{{"a"}}, [][]string{{"a"}}, 1, false},
		{"arrays", [3]int{1, 2, 3}, [3]int{1, 2, 3}, 0, true},
		{"interface elements", []any{1, "x"}, []any{1, "x"}, 0, true},
		{"interface element type changed", []any{1}, []any{"1"}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Equal(tt.prev, tt.cur, contentsField("Items", tt.depth)); got != tt.expected {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.prev, tt.cur, got, tt.expected)
			}
		})
	}

	if c.Stats().ContentComparisons == 0 {
		t.Error("Expected content comparisons to be counted")
	}
}

func TestComparator_ContentTrackingDisabled(t *testing.T) {
	c := NewComparator(Config{DisableContentTracking: true, Logger: NopLogger()})
	if c.Equal([]int{1}, []int{1}, contentsField("Items", 0)) {
		t.Error("With content tracking disabled, distinct slices should differ")
	}
}

func TestComparator_CustomEquality(t *testing.T) {
	c := NewComparator(Config{Logger: NopLogger()})

	// Without a registration the struct compares by value
	if c.Equal(money{100, "EUR"}, money{100, "eur"}, customField("Price")) {
		t.Error("Expected difference before registration")
	}

	RegisterEqualityFunc(c, func(a, b money) bool {
		return a.Cents == b.Cents
	})
	if !c.Equal(money{100, "EUR"}, money{100, "eur"}, customField("Price")) {
		t.Error("Registered equality should ignore currency")
	}
	// Fields without the custom option ignore the registration
	if c.Equal(money{100, "EUR"}, money{100, "eur"}, plainField("Price")) {
		t.Error("Plain fields should not use custom equality")
	}

	c.RegisterEquality(reflect.TypeFor[money](), nil)
	if c.Equal(money{100, "EUR"}, money{100, "eur"}, customField("Price")) {
		t.Error("Nil registration should remove the custom equality")
	}

	if !c.Equal(version{1, 2, "beta"}, version{1, 2, "rc"}, customField("Version")) {
		t.Error("Equal method should be used for custom fields")
	}
	if got := c.Stats().CustomComparisons; got != 2 {
		t.Errorf("Expected 2 custom comparisons, got %d", got)
	}
}

func TestComparator_PanicFallsBackToIdentity(t *testing.T) {
	c := NewComparator(Config{Logger: NopLogger()})
	var reported []error
	c.report = func(err error) { reported = append(reported, err) }

	RegisterEqualityFunc(c, func(a, b noisy) bool {
		panic("boom")
	})

	shared := []int{1}
	if !c.Equal(noisy{shared}, noisy{shared}, customField("Noisy")) {
		t.Error("Identity fallback should find shared slices equal")
	}
	if c.Equal(noisy{[]int{1}}, noisy{[]int{1}}, customField("Noisy")) {
		t.Error("Identity fallback should find distinct slices different")
	}

	if got := c.Stats().Failures; got != 2 {
		t.Errorf("Expected 2 failures, got %d", got)
	}
	if len(reported) != 2 || GetValidationErrorCode(reported[0]) != ErrCodeComparisonFailed {
		t.Errorf("Expected comparison failures to be reported, got %v", reported)
	}
}

func TestComparator_UnreadableIsUnchanged(t *testing.T) {
	c := NewComparator(Config{Logger: NopLogger()})
	if !c.Equal(Unreadable, 5, plainField("F")) || !c.Equal(5, Unreadable, plainField("F")) {
		t.Error("Unreadable values should compare equal")
	}
}

func TestComparator_NonComparableStructByIdentity(t *testing.T) {
	c := NewComparator(Config{Logger: NopLogger()})
	shared := []int{1, 2}
	if !c.Equal(noisy{shared}, noisy{shared}, plainField("N")) {
		t.Error("Structs sharing slices should be equal")
	}
	if c.Equal(noisy{shared}, noisy{[]int{1, 2}}, plainField("N")) {
		t.Error("Structs with distinct slices should differ")
	}
}
