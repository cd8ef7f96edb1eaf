package core

import "testing"

func TestParseDecimalToCents(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{" 2.50 ", 250, true},
		{"-1", 0, false},
		{"0", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDecimalToCents(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		1:      "0.01",
		1000:   "10.00",
		123456: "1234.56",
		-250:   "-2.50",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Fatalf("%d: expected %s, got %s", cents, want, got)
		}
	}
}

func TestParseMoney(t *testing.T) {
	m, err := ParseMoney("0.01")
	if err != nil || m.Cents != 1 {
		t.Fatalf("expected 1 cent, got %d (err=%v)", m.Cents, err)
	}
	if _, err := ParseMoney("0"); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestMoneyFloat64(t *testing.T) {
	cases := map[int64]float64{
		1250: 12.5,
		1:    0.01,
		-250: -2.5,
		0:    0,
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).Float64(); got != want {
			t.Fatalf("%d: expected %v, got %v", cents, want, got)
		}
	}
}
