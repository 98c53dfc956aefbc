// Package emoji converts the raw emoji bytes carried by a reaction into a
// validated, canonical emoji sequence.
package emoji

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"golang.org/x/text/unicode/norm"
)

// MaxBytes is the largest encoded sequence accepted. The longest RGI
// sequences (tagged subdivision flags, multi-person ZWJ groups) stay well
// below it.
const MaxBytes = 64

// ErrMalformed is returned for byte sequences that are not a single emoji.
var ErrMalformed = errors.New("emoji: malformed sequence")

// Sequence is a validated emoji grapheme cluster in NFC form.
type Sequence string

// String returns the sequence as text.
func (s Sequence) String() string { return string(s) }

const (
	zwj             = 0x200D
	combiningKeycap = 0x20E3
)

const (
	regionalIndicatorA = 0x1F1E6
	regionalIndicatorZ = 0x1F1FF
)

// Parse validates raw and returns its canonical form. It never truncates or
// substitutes: anything that is not exactly one emoji is rejected.
func Parse(raw []byte) (Sequence, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty", ErrMalformed)
	}
	if len(raw) > MaxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformed, len(raw), MaxBytes)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrMalformed)
	}

	s := norm.NFC.String(string(raw))
	if n := uniseg.GraphemeClusterCount(s); n != 1 {
		return "", fmt.Errorf("%w: %d grapheme clusters", ErrMalformed, n)
	}

	first, _ := utf8.DecodeRuneInString(s)
	keycap := false
	for _, r := range s {
		switch {
		case r == zwj, r >= 0xE0020 && r <= 0xE007F:
			// joiners and tag characters
		case r == combiningKeycap:
			keycap = true
		case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			return "", fmt.Errorf("%w: control character U+%04X", ErrMalformed, r)
		}
	}

	if !isBase(first, keycap) {
		return "", fmt.Errorf("%w: U+%04X is not an emoji base", ErrMalformed, first)
	}
	return Sequence(s), nil
}

func isBase(r rune, keycap bool) bool {
	if keycap && (r == '#' || r == '*' || (r >= '0' && r <= '9')) {
		return true
	}
	if r >= regionalIndicatorA && r <= regionalIndicatorZ {
		return true
	}
	return unicode.Is(extendedPictographic, r)
}

// Validator adapts Parse to the reaction pipeline.
type Validator struct{}

// Validate implements the emoji validation step of the reaction pipeline.
func (Validator) Validate(raw []byte) (Sequence, error) {
	return Parse(raw)
}
