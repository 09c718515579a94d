// Package phone normalizes raw contact numbers to E.164.
package phone

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultRegion is assumed for numbers without a country code.
const DefaultRegion = "US"

// ErrInvalid is returned for input that cannot be turned into an E.164 number.
var ErrInvalid = eris.New("phone: invalid number")

var (
	e164Re      = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
	extensionRe = regexp.MustCompile(`(?i)\s*(?:ext\.?|extension|x|#)\s*\d+\s*$`)
)

// nanpRegions share the +1 country code.
var nanpRegions = map[string]bool{"US": true, "CA": true, "PR": true}

// IsE164 reports whether s is already a canonical E.164 number.
func IsE164(s string) bool {
	return e164Re.MatchString(s)
}

// Normalize converts raw to E.164. Extensions are dropped. Numbers without a
// country code are only accepted for NANP regions.
func Normalize(raw, region string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", eris.Wrap(ErrInvalid, "empty")
	}
	s = extensionRe.ReplaceAllString(s, "")

	plus := strings.HasPrefix(s, "+")
	digits := digitsOnly(s)
	if !plus && strings.HasPrefix(digits, "00") {
		plus = true
		digits = digits[2:]
	}

	var out string
	switch {
	case plus:
		out = "+" + digits
	case nanpRegions[strings.ToUpper(region)] && len(digits) == 10:
		out = "+1" + digits
	case nanpRegions[strings.ToUpper(region)] && len(digits) == 11 && digits[0] == '1':
		out = "+" + digits
	default:
		return "", eris.Wrapf(ErrInvalid, "cannot normalize %q", raw)
	}

	if !IsE164(out) {
		return "", eris.Wrapf(ErrInvalid, "cannot normalize %q", raw)
	}
	if strings.HasPrefix(out, "+1") && len(out) != 12 {
		return "", eris.Wrapf(ErrInvalid, "bad NANP length %q", raw)
	}
	return out, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
