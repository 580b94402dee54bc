package sanitize

import (
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	scriptPattern   = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	filenameUnsafe  = regexp.MustCompile(`[^a-zA-Z0-9._ -]`)
	repeatedSpaces  = regexp.MustCompile(`\s{2,}`)
	repeatedDashes  = regexp.MustCompile(`-{2,}`)
	maxFilenameSize = 128
)

// Filename reduces a client-supplied file name to a safe object key segment.
// Directory parts are dropped; an empty result becomes "file".
func Filename(filename string) string {
	filename = strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/")
	filename = path.Base(filename)
	if filename == "." || filename == "/" || filename == ".." {
		return "file"
	}
	filename = StripControlCharacters(filename)
	filename = filenameUnsafe.ReplaceAllString(filename, "-")
	filename = strings.ReplaceAll(filename, " ", "_")
	filename = repeatedDashes.ReplaceAllString(filename, "-")
	filename = strings.Trim(filename, ".-_")
	if filename == "" {
		return "file"
	}
	if len(filename) > maxFilenameSize {
		filename = filename[len(filename)-maxFilenameSize:]
	}
	return filename
}

// DisplayName cleans a human-readable name: no markup, no control
// characters, single spaces.
func DisplayName(name string) string {
	name = StripHTML(name)
	name = StripControlCharacters(name)
	name = repeatedSpaces.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// MessageText cleans chat text. Line breaks survive; markup does not.
func MessageText(text string) string {
	text = StripHTML(text)
	var b strings.Builder
	for _, r := range text {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// StripHTML removes script and style blocks and every remaining tag
func StripHTML(input string) string {
	input = scriptPattern.ReplaceAllString(input, "")
	return tagPattern.ReplaceAllString(input, "")
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidateStringLength checks the rune count of input is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	n := utf8.RuneCountInString(input)
	return n >= minLen && n <= maxLen
}
