package pipeline

import "regexp"

// codePattern matches a 4-8 digit run that is not part of a longer
// digit run. Letters may touch it; digits may not.
var codePattern = regexp.MustCompile(`(?:^|\D)(\d{4,8})(?:\D|$)`)

// ExtractCode returns the first standalone 4-8 digit run in text.
func ExtractCode(text string) (string, bool) {
	m := codePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}
