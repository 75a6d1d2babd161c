package anci

import (
	"strconv"
	"strings"
)

// NormalizeRUT strips dots and spacing and returns the canonical
// "body-dv" form in upper case, e.g. "76.123.456-k" -> "76123456-K".
func NormalizeRUT(raw string) string {
	clean := strings.ToUpper(strings.TrimSpace(raw))
	clean = strings.ReplaceAll(clean, ".", "")
	clean = strings.ReplaceAll(clean, " ", "")
	clean = strings.ReplaceAll(clean, "-", "")
	if len(clean) < 2 {
		return clean
	}
	return clean[:len(clean)-1] + "-" + clean[len(clean)-1:]
}

// ValidRUT checks the modulo-11 verification digit of a Chilean RUT.
func ValidRUT(raw string) bool {
	norm := NormalizeRUT(raw)
	parts := strings.Split(norm, "-")
	if len(parts) != 2 || parts[0] == "" || len(parts[1]) != 1 {
		return false
	}
	body, dv := parts[0], parts[1]
	if len(body) < 6 || len(body) > 9 {
		return false
	}
	sum := 0
	mult := 2
	for i := len(body) - 1; i >= 0; i-- {
		d, err := strconv.Atoi(string(body[i]))
		if err != nil {
			return false
		}
		sum += d * mult
		mult++
		if mult > 7 {
			mult = 2
		}
	}
	expected := 11 - (sum % 11)
	switch expected {
	case 11:
		return dv == "0"
	case 10:
		return dv == "K"
	default:
		return dv == strconv.Itoa(expected)
	}
}
