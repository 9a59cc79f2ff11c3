package application

import (
	"math/big"
	"testing"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
		wantErr  bool
	}{
		{"1", 18, "1000000000000000000", false},
		{"1.5", 18, "1500000000000000000", false},
		{"0.000000000000000001", 18, "1", false},
		{".5", 2, "50", false},
		{"2.", 2, "200", false},
		{"0", 18, "0", false},
		{" 3 ", 2, "300", false},
		{"", 18, "", true},
		{".", 18, "", true},
		{"1.2.3", 18, "", true},
		{"abc", 18, "", true},
		{"-1", 18, "", true},
		{"1.234", 2, "", true},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseUnits(%q, %d): expected error, got %s", tc.in, tc.decimals, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseUnits(%q, %d): %v", tc.in, tc.decimals, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("ParseUnits(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"1000000000000000000", 18, "1"},
		{"1500000000000000000", 18, "1.5"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0"},
		{"-1500000000000000000", 18, "-1.5"},
	}
	for _, tc := range cases {
		amount, _ := new(big.Int).SetString(tc.in, 10)
		if got := FormatUnits(amount, tc.decimals); got != tc.want {
			t.Errorf("FormatUnits(%s, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
	if got := FormatUnits(nil, 18); got != "0" {
		t.Errorf("FormatUnits(nil) = %s, want 0", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	parsed, err := ParseUnits("12.75", 18)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := FormatUnits(parsed, 18); got != "12.75" {
		t.Errorf("round trip = %s, want 12.75", got)
	}
}
