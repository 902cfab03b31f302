package mailbox

import (
	"regexp"
	"strings"
)

// codePatterns are tried most specific first. The bare 6-digit run comes
// last because message footers and postal addresses also contain digit
// runs; a labeled code always wins.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)verification code[:\s]+(\d{4,8})`),
	regexp.MustCompile(`(?i)code is[:\s]+(\d{4,8})`),
	regexp.MustCompile(`\b(\d{6})\b`),
}

// ExtractCode scans message text for a verification code, returning the
// first match of the most specific pattern that hits.
func ExtractCode(body string) (string, bool) {
	for _, re := range codePatterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1], true
		}
	}
	return "", false
}

var (
	htmlTagRe    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlStripRe  = regexp.MustCompile(`<[^>]*>`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	htmlEntities = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// StripHTML reduces an HTML body to readable text, enough for the code
// patterns to match. It is not a general HTML renderer.
func StripHTML(html string) string {
	text := htmlTagRe.ReplaceAllString(html, " ")
	text = htmlStripRe.ReplaceAllString(text, " ")
	text = htmlEntities.Replace(text)
	text = spaceRunRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
