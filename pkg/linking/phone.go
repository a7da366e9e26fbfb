package linking

import (
	"fmt"
	"strings"
	"unicode"
)

// NormalizePhone canonicalizes a contact phone number into international
// E.164-style format: a leading + followed by digits only. Accepted inputs:
//
//	+639171234567      already canonical
//	00639171234567     international 00 prefix
//	09171234567        national format, rewritten with countryCode
//	0917-123 4567      separators are stripped
//
// countryCode is the dialing code without + (e.g. "63"). Anything that
// leaves non-digit characters after stripping separators is rejected.
func NormalizePhone(raw, countryCode string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("phone number is empty")
	}

	plus := strings.HasPrefix(trimmed, "+")
	if plus {
		trimmed = trimmed[1:]
	}

	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// separator, drop
		default:
			return "", fmt.Errorf("phone number contains invalid character %q", r)
		}
	}
	digits := b.String()
	if len(digits) < 7 {
		return "", fmt.Errorf("phone number too short")
	}

	switch {
	case plus:
		return "+" + digits, nil
	case strings.HasPrefix(digits, "00"):
		return "+" + digits[2:], nil
	case strings.HasPrefix(digits, "0"):
		if countryCode == "" {
			return "", fmt.Errorf("national phone number given but no country code configured")
		}
		return "+" + countryCode + digits[1:], nil
	case countryCode != "" && strings.HasPrefix(digits, countryCode):
		return "+" + digits, nil
	default:
		return "+" + digits, nil
	}
}
