package ui

import (
	"strings"

	"github.com/holiman/uint256"
)

// FormatUnits renders a base-unit amount with decimals, trimming trailing
// zeros of the fraction: 1500000000 at 9 decimals is "1.5".
func FormatUnits(v *uint256.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	digits := v.Dec()
	if decimals == 0 {
		return digits
	}
	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-d], strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
