package agent

import (
	"regexp"
	"slices"
	"strings"
)

var identifierPattern = regexp.MustCompile(`[a-zA-Z]+(?:_[a-zA-Z0-9]+)?`)

// ExtractVariables returns the single-letter identifiers (optionally with a
// subscript such as x_1) in expr, sorted and de-duplicated. The article "a"
// and pronoun "I" are skipped.
func ExtractVariables(expr string) []string {
	seen := map[string]bool{}
	for _, v := range identifierPattern.FindAllString(expr, -1) {
		base, _, _ := strings.Cut(v, "_")
		if len(base) != 1 || v == "a" || v == "A" || v == "I" {
			continue
		}
		seen[v] = true
	}
	vars := make([]string, 0, len(seen))
	for v := range seen {
		vars = append(vars, v)
	}
	slices.Sort(vars)
	return vars
}

var forbiddenTokens = []string{";", "import", "exec", "__"}

// ForbiddenTokens returns the tokens in expr that must never reach an
// expression evaluator.
func ForbiddenTokens(expr string) []string {
	var found []string
	for _, tok := range forbiddenTokens {
		if strings.Contains(expr, tok) {
			found = append(found, tok)
		}
	}
	return found
}

// ValidExpression reports whether expr is free of forbidden tokens.
func ValidExpression(expr string) bool {
	return len(ForbiddenTokens(expr)) == 0
}
