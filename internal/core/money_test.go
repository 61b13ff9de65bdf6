package core

import "testing"

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1.00", true},
		{"1.0", "1.00", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"-50.10", "-50.10", true},
		{" 2.50 ", "2.50", true},
		{"0", "0.00", true},
		{"10.005", "10.01", true}, // half-up rounding
		{"10.004", "10.00", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
		{"  ", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil {
				t.Fatalf("%q unexpected error: %v", tc.in, err)
			}
			if s := FormatAmount(ClampTwoDecimals(got)); s != tc.out {
				t.Fatalf("%q expected %s, got %s", tc.in, tc.out, s)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestClampTwoDecimalsIdempotent(t *testing.T) {
	for _, in := range []string{"10.005", "0.555", "-1.015", "99.999"} {
		d, err := ParseAmount(in)
		if err != nil {
			t.Fatalf("%q parse error: %v", in, err)
		}
		once := ClampTwoDecimals(d)
		twice := ClampTwoDecimals(once)
		if !once.Equal(twice) {
			t.Fatalf("%q clamp not idempotent: %s != %s", in, once, twice)
		}
	}
}

func TestSumAndDifference(t *testing.T) {
	a, _ := ParseAmount("1150.00")
	b, _ := ParseAmount("1000.00")
	c, _ := ParseAmount("0.10")

	if got := FormatAmount(Difference(a, b)); got != "150.00" {
		t.Fatalf("difference expected 150.00, got %s", got)
	}
	// Repeated additions of 0.10 must not drift.
	total := Sum(c, c, c, c, c, c, c, c, c, c)
	if got := FormatAmount(total); got != "1.00" {
		t.Fatalf("sum expected 1.00, got %s", got)
	}
}
