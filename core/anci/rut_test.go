package anci

import "testing"

func TestNormalizeRUT(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"76.123.456-0", "76123456-0"},
		{"76.123.456-k", "76123456-K"},
		{" 96 800 570 - 7 ", "96800570-7"},
		{"20347878K", "20347878-K"},
		{"7", "7"},
	}
	for _, tc := range cases {
		if got := NormalizeRUT(tc.in); got != tc.want {
			t.Fatalf("NormalizeRUT(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidRUT(t *testing.T) {
	valid := []string{"76.123.456-0", "96.800.570-7", "20.347.878-K", "20347878-k"}
	for _, rut := range valid {
		if !ValidRUT(rut) {
			t.Fatalf("%q debería ser válido", rut)
		}
	}
	invalid := []string{"76.123.456-5", "96.800.570-K", "12345", "abcdefg-5", "", "76123456"}
	for _, rut := range invalid {
		if ValidRUT(rut) {
			t.Fatalf("%q no debería ser válido", rut)
		}
	}
}
