package domain

import (
	"fmt"
	"strings"
)

// ibanLengths maps ISO 3166 country codes to the total IBAN length
// published in the SWIFT IBAN registry.
var ibanLengths = map[string]int{
	"AD": 24, "AE": 23, "AL": 28, "AT": 20, "AZ": 28, "BA": 20, "BE": 16,
	"BG": 22, "BH": 22, "BR": 29, "BY": 28, "CH": 21, "CR": 22, "CY": 28,
	"CZ": 24, "DE": 22, "DK": 18, "DO": 28, "EE": 20, "EG": 29, "ES": 24,
	"FI": 18, "FO": 18, "FR": 27, "GB": 22, "GE": 22, "GI": 23, "GL": 18,
	"GR": 27, "GT": 28, "HR": 21, "HU": 28, "IE": 22, "IL": 23, "IQ": 23,
	"IS": 26, "IT": 27, "JO": 30, "KW": 30, "KZ": 20, "LB": 28, "LC": 32,
	"LI": 21, "LT": 20, "LU": 20, "LV": 21, "MC": 27, "MD": 24, "ME": 22,
	"MK": 19, "MR": 27, "MT": 31, "MU": 30, "NL": 18, "NO": 15, "PK": 24,
	"PL": 28, "PS": 29, "PT": 25, "QA": 29, "RO": 24, "RS": 22, "SA": 24,
	"SE": 24, "SI": 19, "SK": 24, "SM": 27, "TN": 24, "TR": 26, "UA": 29,
	"VG": 24, "XK": 20,
}

// bankCodeSpan is the position of the bank identifier inside the BBAN.
type bankCodeSpan struct {
	offset int
	length int
}

// bankCodeSpans lists where the national bank identifier sits in the BBAN
// for countries whose bank tables are supported.
var bankCodeSpans = map[string]bankCodeSpan{
	"AT": {0, 5},
	"BE": {0, 3},
	"CH": {0, 5},
	"DE": {0, 8},
	"ES": {0, 4},
	"FR": {0, 5},
	"GB": {0, 4},
	"IT": {1, 5},
	"LI": {0, 5},
	"LU": {0, 3},
	"NL": {0, 4},
	"PL": {0, 8},
}

// IBAN is a structurally valid International Bank Account Number.
type IBAN struct {
	// Country is the two-letter ISO country code.
	Country string

	// Check is the two check digits.
	Check string

	// BBAN is the country-specific basic bank account number.
	BBAN string
}

// String returns the electronic format without spaces.
func (i IBAN) String() string {
	return i.Country + i.Check + i.BBAN
}

// Printable returns the IBAN in groups of four characters.
func (i IBAN) Printable() string {
	s := i.String()
	var b strings.Builder
	for n, r := range s {
		if n > 0 && n%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// BankCode returns the national bank identifier, or "" if the country's
// layout is not known.
func (i IBAN) BankCode() string {
	span, ok := bankCodeSpans[i.Country]
	if !ok || span.offset+span.length > len(i.BBAN) {
		return ""
	}
	return i.BBAN[span.offset : span.offset+span.length]
}

// NormaliseIBAN strips spaces and separators and upper-cases the candidate.
func NormaliseIBAN(candidate string) string {
	var b strings.Builder
	b.Grow(len(candidate))
	for _, r := range candidate {
		switch {
		case r == ' ', r == '-', r == '\t', r == ' ':
			continue
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseIBAN validates a candidate string and returns the parsed IBAN.
// Any structural problem (character set, country, length, checksum)
// yields an error wrapping ErrInvalidIBAN.
func ParseIBAN(candidate string) (IBAN, error) {
	s := NormaliseIBAN(candidate)
	if len(s) < 5 {
		return IBAN{}, fmt.Errorf("%w: too short", ErrInvalidIBAN)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return IBAN{}, fmt.Errorf("%w: illegal character %q", ErrInvalidIBAN, c)
		}
	}

	country := s[:2]
	if !isUpperAlpha(country) {
		return IBAN{}, fmt.Errorf("%w: country code %q", ErrInvalidIBAN, country)
	}
	if !isDigits(s[2:4]) {
		return IBAN{}, fmt.Errorf("%w: check digits %q", ErrInvalidIBAN, s[2:4])
	}

	want, ok := ibanLengths[country]
	if !ok {
		return IBAN{}, fmt.Errorf("%w: unsupported country %s", ErrInvalidIBAN, country)
	}
	if len(s) != want {
		return IBAN{}, fmt.Errorf("%w: %s IBAN must have %d characters, got %d", ErrInvalidIBAN, country, want, len(s))
	}

	if ibanMod97(s) != 1 {
		return IBAN{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidIBAN)
	}

	return IBAN{Country: country, Check: s[2:4], BBAN: s[4:]}, nil
}

// IsSupportedCountry reports whether IBANs of the country can be validated.
func IsSupportedCountry(country string) bool {
	_, ok := ibanLengths[strings.ToUpper(country)]
	return ok
}

// IBANLength returns the expected IBAN length for a country, or 0.
func IBANLength(country string) int {
	return ibanLengths[strings.ToUpper(country)]
}

// ibanMod97 computes the ISO 7064 MOD 97-10 remainder of the rearranged IBAN.
// The input must be upper-case alphanumeric.
func ibanMod97(s string) int {
	rearranged := s[4:] + s[:4]
	remainder := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		if c >= 'A' && c <= 'Z' {
			v := int(c-'A') + 10
			remainder = (remainder*100 + v) % 97
			continue
		}
		remainder = (remainder*10 + int(c-'0')) % 97
	}
	return remainder
}

func isUpperAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
