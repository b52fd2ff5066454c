package notes

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
)

// RedactIdentifiers masks email addresses and phone numbers before a
// transcript leaves the platform. It reports whether anything was masked.
func RedactIdentifiers(text string) (string, bool) {
	out := emailPattern.ReplaceAllString(text, "[EMAIL]")
	out = phonePattern.ReplaceAllString(out, "[PHONE]")
	return out, out != text
}
