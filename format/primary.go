package format

import (
	"regexp"
	"strings"
)

// primaryPatterns are tried in order; the first matching name wins.
var primaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.part0*1\.rar$`),
	regexp.MustCompile(`\.r00$`),
	regexp.MustCompile(`\.0*1$`),
	regexp.MustCompile(`\.rar$`),
	regexp.MustCompile(`\.(7z|zip|tar|tgz|tbz2|txz)$`),
}

// PickPrimary chooses the part of a multi-volume upload that extraction
// should start from. It returns -1 when names is empty.
func PickPrimary(names []string) int {
	if len(names) == 0 {
		return -1
	}
	for _, pat := range primaryPatterns {
		for i, name := range names {
			if pat.MatchString(strings.ToLower(name)) {
				return i
			}
		}
	}
	return 0
}
