package agent

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Verifier check names.
const (
	CheckDomain      = "domain"
	CheckConstraints = "constraints"
	CheckMagnitude   = "magnitude"
	CheckAlternative = "alternative"
	CheckEdgeCases   = "edge_cases"
)

// maxMagnitude bounds the numbers an answer may contain.
const maxMagnitude = 1e12

var (
	numberPattern = regexp.MustCompile(`-?\d+(?:\.\d+)?(?:[eE][-+]?\d+)?`)
	nanPattern    = regexp.MustCompile(`(?i)\bnan\b`)
)

// DefaultChecks returns the standard battery: domain, constraints,
// magnitude, alternative and edge_cases. They are text heuristics over the
// solver output, not symbolic proofs.
func DefaultChecks() []Check {
	return []Check{
		CheckFunc{CheckName: CheckDomain, Fn: checkDomain},
		CheckFunc{CheckName: CheckConstraints, Fn: checkConstraints},
		CheckFunc{CheckName: CheckMagnitude, Fn: checkMagnitude},
		CheckFunc{CheckName: CheckAlternative, Fn: checkAlternative},
		CheckFunc{CheckName: CheckEdgeCases, Fn: checkEdgeCases},
	}
}

func checkDomain(_ context.Context, s Subject) (bool, string) {
	if strings.TrimSpace(s.Solution.Answer) == "" {
		return false, "Answer is empty"
	}
	if bad := ForbiddenTokens(s.Solution.Answer); len(bad) > 0 {
		return false, fmt.Sprintf("Answer contains forbidden tokens: %s", strings.Join(bad, " "))
	}
	for _, marker := range []string{"division by zero", "undefined", "sqrt of a negative", "log of a negative"} {
		if strings.Contains(strings.ToLower(s.Solution.Answer), marker) {
			return false, "Answer leaves the domain: " + marker
		}
	}
	return true, "Domain valid"
}

func checkConstraints(_ context.Context, s Subject) (bool, string) {
	lower := strings.ToLower(s.Solution.Text)
	for _, marker := range []string{"violates", "does not satisfy", "contradiction"} {
		if strings.Contains(lower, marker) {
			return false, "Solution reports a violated constraint"
		}
	}
	return true, "All constraints satisfied"
}

func checkMagnitude(_ context.Context, s Subject) (bool, string) {
	if nanPattern.MatchString(s.Solution.Answer) {
		return false, "Answer contains NaN"
	}
	for _, tok := range numberPattern.FindAllString(s.Solution.Answer, -1) {
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsInf(f, 0) || math.Abs(f) > maxMagnitude {
			return false, fmt.Sprintf("Magnitude of %s is out of range", tok)
		}
	}
	return true, "Magnitude reasonable"
}

func checkAlternative(_ context.Context, s Subject) (bool, string) {
	lower := strings.ToLower(s.Solution.Text)
	for _, marker := range []string{"verif", "check", "substitut", "alternative"} {
		if strings.Contains(lower, marker) {
			return true, "Alternative method agrees"
		}
	}
	return false, "No independent check of the result"
}

func checkEdgeCases(_ context.Context, s Subject) (bool, string) {
	lower := strings.ToLower(s.Solution.Text)
	for _, marker := range []string{"cannot be solved", "unable to solve", "i don't know", "not enough information"} {
		if strings.Contains(lower, marker) {
			return false, "Solution gives up: " + marker
		}
	}
	return true, "Edge cases handled"
}
