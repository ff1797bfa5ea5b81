package linker

import "strings"

// fuzzyScore blends normalized edit distance with token overlap. Both
// signals are needed: edit distance catches typos in short identifiers,
// token overlap catches partial names like "aurora" for "Aurora Bakery".
func fuzzyScore(mention, name string) float64 {
	m := normalize(mention)
	n := normalize(name)
	if m == "" || n == "" {
		return 0
	}
	if m == n {
		return 1.0
	}

	edit := 1.0 - float64(levenshtein(m, n))/float64(max(len(m), len(n)))
	overlap := tokenOverlap(m, n)

	score := 0.45*edit + 0.55*overlap
	if score < 0 {
		return 0
	}
	return score
}

func normalize(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	lower = strings.TrimPrefix(lower, "the ")
	return strings.Join(strings.Fields(lower), " ")
}

// tokenOverlap counts mention tokens covered by name tokens, with
// prefix matches counting partially so "deliv" still hits "deliveries"
func tokenOverlap(mention, name string) float64 {
	mTokens := strings.Fields(mention)
	nTokens := strings.Fields(name)
	if len(mTokens) == 0 {
		return 0
	}

	covered := 0.0
	for _, mt := range mTokens {
		for _, nt := range nTokens {
			if mt == nt {
				covered += 1.0
				break
			}
			if len(mt) >= 3 && (strings.HasPrefix(nt, mt) || strings.HasPrefix(mt, nt)) {
				covered += 0.7
				break
			}
		}
	}
	return covered / float64(len(mTokens))
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(min(cur[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
