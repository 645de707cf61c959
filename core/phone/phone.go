// Package phone canonicalizes phone numbers to international digits without a leading "+",
// the single comparable form used for delivery and deduplication.
package phone

import (
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

const (
	DefaultCountryCode = "20"

	minDigits = 8
	maxDigits = 15 // E.164
)

var (
	ErrEmpty   = errors.New("phone number is empty")
	ErrInvalid = errors.New("phone number is invalid")
)

// Normalize returns number in international form: "+20 10-1234 5678", "0020 1012345678" and
// "01012345678" all become "201012345678" with country code "20".
func Normalize(number, countryCode string) (string, error) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	var b strings.Builder
	for _, r := range strings.TrimSpace(number) {
		switch {
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
		case r == '+', r == ' ', r == '-', r == '.', r == '(', r == ')':
			// separators
		default:
			return "", errors.Wrapf(ErrInvalid, "unexpected character %q", r)
		}
	}
	digits := b.String()
	if digits == "" {
		return "", ErrEmpty
	}

	switch {
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case strings.HasPrefix(digits, "0"):
		digits = countryCode + digits[1:]
	case !strings.HasPrefix(number, "+") && !strings.HasPrefix(digits, countryCode):
		digits = countryCode + digits
	}

	if n := len(digits); n < minDigits || n > maxDigits {
		return "", errors.Wrapf(ErrInvalid, "%d digits", n)
	}
	return digits, nil
}

// Equal reports whether a and b normalize to the same number.
func Equal(a, b, countryCode string) bool {
	na, err := Normalize(a, countryCode)
	if err != nil {
		return false
	}
	nb, err := Normalize(b, countryCode)
	return err == nil && na == nb
}
