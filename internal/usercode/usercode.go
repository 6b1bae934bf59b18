// Package usercode generates and validates the human-transcribable codes of
// RFC 8628 section 6.1.
package usercode

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"
)

const (
	// Charset excludes vowels and the characters confusable with digits (O/0,
	// I/1) so codes survive transcription from a TV screen to a keyboard.
	Charset = "BCDFGHJKLMNPQRSTVWXZ"

	// GroupSize is the number of characters per hyphen-separated group.
	GroupSize = 4
)

var codePattern = regexp.MustCompile(fmt.Sprintf("^[%s]{%d}-[%s]{%d}$",
	Charset, GroupSize, Charset, GroupSize))

// Generate produces a fresh user code in XXXX-XXXX display format using
// crypto/rand with rejection sampling, so every charset character is equally
// likely.
func Generate() (string, error) {
	var b strings.Builder
	for group := 0; group < 2; group++ {
		if group > 0 {
			b.WriteByte('-')
		}
		for i := 0; i < GroupSize; i++ {
			c, err := randomChar()
			if err != nil {
				return "", fmt.Errorf("generating user code: %w", err)
			}
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

// randomChar picks one charset character without modulo bias.
func randomChar() (byte, error) {
	limit := byte(256 - (256 % len(Charset)))
	buf := make([]byte, 1)
	for {
		if _, err := rand.Read(buf); err != nil {
			return 0, err
		}
		if buf[0] >= limit {
			continue
		}
		return Charset[int(buf[0])%len(Charset)], nil
	}
}

// Normalize converts user input to the canonical lookup form: uppercase with
// separators and surrounding space stripped. Lookups are case-insensitive by
// construction.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.ReplaceAll(code, "-", "")
}

// Format renders a normalized code back to XXXX-XXXX display form.
func Format(code string) string {
	if len(code) != 2*GroupSize {
		return code
	}
	return code[:GroupSize] + "-" + code[GroupSize:]
}

// Validate checks that a code is in display format over the allowed charset.
func Validate(code string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codePattern.MatchString(code) {
		return fmt.Errorf("invalid user code %q: must be XXXX-XXXX over charset %s", code, Charset)
	}
	return nil
}
