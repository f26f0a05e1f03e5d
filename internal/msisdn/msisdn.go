// Package msisdn canonicalizes Kenyan mobile numbers to the 12-digit
// international form the M-Pesa gateway expects (254 followed by a 7 or 1
// prefixed subscriber number).
package msisdn

import (
	"regexp"
	"strings"
)

var canonical = regexp.MustCompile(`^254[71]\d{8}$`)

// Normalize converts phone to canonical form. It reports false when the input
// cannot be mapped to a Safaricom-style 07/01 number.
//
// Accepted shapes after stripping every non-digit:
//
//	2547XXXXXXXX, 2541XXXXXXXX   unchanged
//	2540XXXXXXXX                 0 after 254 dropped
//	07XXXXXXXX, 01XXXXXXXX       0 replaced with 254
//	7XXXXXXXX                    254 prepended
//	11XXXXXXXX (10 digits)       254 + digits without the first 1
//	11XXXXXXX (9 digits)         2541 + digits without the first 1
func Normalize(phone string) (string, bool) {
	d := digits(phone)
	if d == "" {
		return "", false
	}

	out := d
	switch {
	case strings.HasPrefix(d, "254"):
		if len(d) == 12 && strings.HasPrefix(d, "2540") {
			out = "254" + d[4:]
		}
	case strings.HasPrefix(d, "0"):
		if len(d) == 10 {
			out = "254" + d[1:]
		}
	case len(d) == 9 && strings.HasPrefix(d, "7"):
		out = "254" + d
	case len(d) == 10 && strings.HasPrefix(d, "11"):
		out = "254" + d[1:]
	case len(d) == 9 && strings.HasPrefix(d, "11"):
		out = "2541" + d[1:]
	}

	if !Valid(out) {
		return "", false
	}
	return out, true
}

// Valid reports whether phone is already canonical.
func Valid(phone string) bool { return canonical.MatchString(phone) }

// Mask hides the middle of a canonical number for logs, e.g. 254712***678.
func Mask(phone string) string {
	if len(phone) < 9 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:6] + "***" + phone[len(phone)-3:]
}

func digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
