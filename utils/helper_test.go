package utils

import "testing"

func TestParseDecimal_AcceptsFormattedStrings(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"120", "120"},
		{"12.5", "12.5"},
		{"1.2E+3", "1200"},
		{"1,234.50", "1234.5"},
		{"1.234,50", "1234.5"},
		{"12,5", "12.5"},
		{"1,234", "1234"},
		{"1,234,567", "1234567"},
		{"€ 12.50", "12.5"},
		{"  EUR -3  ", "-3"},
	}
	for _, tc := range cases {
		d, err := ParseDecimal(tc.in)
		if err != nil {
			t.Fatalf("ParseDecimal(%q) error: %v", tc.in, err)
		}
		if d.String() != tc.expected {
			t.Fatalf("ParseDecimal(%q) expected %s, got %s", tc.in, tc.expected, d.String())
		}
	}
}

func TestParseDecimal_RejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "-", "1.2.3"} {
		if _, err := ParseDecimal(in); err == nil {
			t.Fatalf("ParseDecimal(%q) expected error", in)
		}
	}
}

func TestUniqueSlice_KeepsFirstOccurrenceOrder(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
