package language

import "unicode"

// scriptRanges maps Unicode blocks to the language most farmers writing in
// that script use. Devanagari is shared by Hindi and Marathi; Hindi wins.
var scriptRanges = []struct {
	lang   string
	lo, hi rune
}{
	{"hi", 0x0900, 0x097F},
	{"bn", 0x0980, 0x09FF},
	{"pa", 0x0A00, 0x0A7F},
	{"gu", 0x0A80, 0x0AFF},
	{"ta", 0x0B80, 0x0BFF},
	{"te", 0x0C00, 0x0C7F},
	{"kn", 0x0C80, 0x0CFF},
	{"ml", 0x0D00, 0x0D7F},
	{"ur", 0x0600, 0x06FF},
}

// DetectScript guesses a language from the dominant non-Latin script in text.
// Latin text returns "en"; text without letters returns "".
func DetectScript(text string) string {
	counts := make([]int, len(scriptRanges))
	latin := 0
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r) {
			continue
		}
		if r < 0x0250 {
			latin++
			continue
		}
		for i, s := range scriptRanges {
			if r >= s.lo && r <= s.hi {
				counts[i]++
				break
			}
		}
	}

	best, bestCount := -1, 0
	for i, c := range counts {
		if c > bestCount {
			best, bestCount = i, c
		}
	}
	if best >= 0 {
		return scriptRanges[best].lang
	}
	if latin > 0 {
		return "en"
	}
	return ""
}
