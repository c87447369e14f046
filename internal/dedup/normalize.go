// Package dedup normalises posting fields and derives the content
// fingerprint used to recognise the same job across fetch runs.
package dedup

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const maxTitleLen = 255

var (
	titleSeparators = strings.NewReplacer(
		"-", "", "_", "", ",", "", "(", "", ")", "",
		"/", "", `\`, "", ":", "", ";", "", `"`, "", "'", "",
	)
	titleStrip    = regexp.MustCompile(`[^\p{L}\p{N}.+#\s]`)
	companyStrip  = regexp.MustCompile(`[^\p{L}\p{N}\s\-&]`)
	locationComma = regexp.MustCompile(`\s*,\s*`)
	locationStrip = regexp.MustCompile(`[^\p{L}\p{N}\s,\-]`)
	spaces        = regexp.MustCompile(`\s+`)
	dots          = regexp.MustCompile(`\.{2,}`)
)

// legalSuffixes are stripped once from the end of a company name.
var legalSuffixes = []string{
	"as", "asa", "ab", "ltd", "limited", "inc", "corporation", "corp", "llc", "gmbh", "sarl",
}

// lower folds s to NFC lowercase. A cases.Caser is stateful, so one is
// built per call.
func lower(s string) string {
	return cases.Lower(language.Und).String(norm.NFC.String(strings.TrimSpace(s)))
}

// NormalizeTitle lowercases the title, drops separators and punctuation
// (keeping letters, digits, '.', '+' and '#' so ".NET" and "C++" survive),
// removes all whitespace and caps the result at 255 characters.
func NormalizeTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return ""
	}
	s := strings.TrimSpace(titleSeparators.Replace(lower(title)))
	s = titleStrip.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, "")
	s = dots.ReplaceAllString(s, ".")
	s = strings.TrimRight(s, ".")

	if utf8.RuneCountInString(s) > maxTitleLen {
		s = string([]rune(s)[:maxTitleLen])
	}
	return s
}

// NormalizeCompanyName lowercases the name, drops punctuation other than
// '-' and '&', collapses whitespace and strips one trailing legal suffix.
func NormalizeCompanyName(name string) string {
	if strings.TrimSpace(name) == "" {
		return ""
	}
	s := companyStrip.ReplaceAllString(lower(name), "")
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(s, " "+suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)-1])
			break
		}
	}
	return s
}

// NormalizeLocationName lowercases the location and tightens comma
// separators so "Oslo , Norway" and "oslo,norway" compare equal.
func NormalizeLocationName(location string) string {
	if strings.TrimSpace(location) == "" {
		return ""
	}
	s := locationComma.ReplaceAllString(lower(location), ",")
	s = locationStrip.ReplaceAllString(s, "")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
