package repoctx

import "regexp"

// Placeholders substituted for redacted or truncated content. None of them
// match the patterns they replace, so cleaning is idempotent.
const (
	PlaceholderEmail    = "[REDACTED_EMAIL]"
	PlaceholderIP       = "[REDACTED_IP]"
	PlaceholderJWT      = "[REDACTED_JWT]"
	PlaceholderSecret   = "[REDACTED_SECRET]"
	PlaceholderString   = `"[TRUNCATED_STRING]"`
	PlaceholderDataURI  = "data:[TRUNCATED_BASE64]"
	PlaceholderNumArray = "[/* numeric array truncated */]"
)

var (
	reEmail = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	reIPv4  = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\.){3}(?:25[0-5]|2[0-4][0-9]|1[0-9]{2}|[1-9]?[0-9])\b`)
	reJWT   = regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]{5,}\.[A-Za-z0-9_\-]{5,}\.[A-Za-z0-9_\-]{5,}`)

	// Well-known credential formats.
	reSecrets = []*regexp.Regexp{
		regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}`),
		regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{40,}`),
		regexp.MustCompile(`\b(?:AKIA|ASIA)[A-Z0-9]{16}\b`),
		regexp.MustCompile(`\bsk_live_[A-Za-z0-9]{24,}`),
		regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	}

	reDataURI = regexp.MustCompile(`data:[A-Za-z0-9.+\-]+/[A-Za-z0-9.+\-]+;base64,[A-Za-z0-9+/=]{16,}`)

	// Assignments (`=` or `:`) of quoted literals of 300+ characters.
	reLongStrings = []*regexp.Regexp{
		regexp.MustCompile(`([=:]\s*)"(?:[^"\\\n]|\\.){300,}"`),
		regexp.MustCompile(`([=:]\s*)'(?:[^'\\\n]|\\.){300,}'`),
		regexp.MustCompile("([=:]\\s*)`(?:[^`\\\\]|\\\\.){300,}`"),
	}

	// Arrays of 50+ numeric literals.
	reNumArray = regexp.MustCompile(`\[\s*-?\d+(?:\.\d+)?(?:\s*,\s*-?\d+(?:\.\d+)?){49,}\s*,?\s*\]`)
)

// Redact replaces emails, IPv4 addresses, JWT-shaped tokens and well-known
// credentials with fixed placeholders.
func Redact(s string) string {
	for _, re := range reSecrets {
		s = re.ReplaceAllString(s, PlaceholderSecret)
	}
	s = reJWT.ReplaceAllString(s, PlaceholderJWT)
	s = reEmail.ReplaceAllString(s, PlaceholderEmail)
	s = reIPv4.ReplaceAllString(s, PlaceholderIP)
	return s
}

// TruncateLiterals shortens base64 data URIs and long quoted assignments.
func TruncateLiterals(s string) string {
	s = reDataURI.ReplaceAllString(s, PlaceholderDataURI)
	for _, re := range reLongStrings {
		s = re.ReplaceAllString(s, "${1}"+PlaceholderString)
	}
	return s
}

// TruncateNumericArrays collapses large literal arrays of numbers.
func TruncateNumericArrays(s string) string {
	return reNumArray.ReplaceAllString(s, PlaceholderNumArray)
}
