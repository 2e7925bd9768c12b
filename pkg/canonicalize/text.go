package canonicalize

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText returns the NFC normalization of s. Account metadata,
// intent descriptions, and member role names pass through here before
// hashing so that visually identical strings with different code point
// sequences compare equal.
func NormalizeText(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("canonicalize: invalid UTF-8 string")
	}
	return norm.NFC.String(s), nil
}

// MustNormalizeText is NormalizeText for strings already known to be valid
// UTF-8, such as Go source literals.
func MustNormalizeText(s string) string {
	out, err := NormalizeText(s)
	if err != nil {
		panic(err)
	}
	return out
}
