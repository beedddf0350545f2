package pattern

import (
	"strings"
)

const (
	baseScore          = 100
	starPenalty        = 5
	questionPenalty    = 3
	alternationPenalty = 10
	exactBonus         = 20
	shortBonus         = 10
	shortLength        = 20
)

// Optimize normalizes a pattern and returns it with a selectivity score.
// Runs of consecutive wildcards containing a `*` collapse to a single `*`
// since the `*` already subsumes them. Higher scores mean a more selective,
// cheaper pattern.
func Optimize(pattern string) (string, int) {
	optimized := collapseWildcards(pattern)
	return optimized, Score(optimized)
}

func Score(pattern string) int {
	score := baseScore

	stars := strings.Count(pattern, "*")
	questions := strings.Count(pattern, "?")
	groups := strings.Count(pattern, "{")

	score -= stars * starPenalty
	score -= questions * questionPenalty
	score -= groups * alternationPenalty

	if stars == 0 && questions == 0 {
		score += exactBonus
	}
	if len(pattern) < shortLength {
		score += shortBonus
	}

	return score
}

func collapseWildcards(pattern string) string {
	var sb strings.Builder
	sb.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); {
		if runes[i] != '*' && runes[i] != '?' {
			sb.WriteRune(runes[i])
			i++
			continue
		}

		j := i
		hasStar := false
		for j < len(runes) && (runes[j] == '*' || runes[j] == '?') {
			if runes[j] == '*' {
				hasStar = true
			}
			j++
		}

		if hasStar {
			sb.WriteRune('*')
		} else {
			sb.WriteString(string(runes[i:j]))
		}
		i = j
	}

	return sb.String()
}
