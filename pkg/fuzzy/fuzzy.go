package fuzzy

import "strings"

// LevenshteinDistance calculates the edit distance between two strings:
// how many single-character insertions, deletions, or substitutions are
// required to change one into the other.
func LevenshteinDistance(s1, s2 string) int {
	s1 = normalize(s1)
	s2 = normalize(s2)

	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	m := len(r1)
	n := len(r2)

	d := make([][]int, m+1)
	for i := range d {
		d[i] = make([]int, n+1)
	}
	for i := 0; i <= m; i++ {
		d[i][0] = i
	}
	for j := 0; j <= n; j++ {
		d[0][j] = j
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			d[i][j] = min3(
				d[i-1][j]+1,      // deletion
				d[i][j-1]+1,      // insertion
				d[i-1][j-1]+cost, // substitution
			)
		}
	}
	return d[m][n]
}

// Match checks if query fuzzy-matches text within the given edit
// distance threshold. Substring and prefix hits always match.
func Match(query, text string, threshold int) bool {
	query = normalize(query)
	text = normalize(text)

	if strings.Contains(text, query) {
		return true
	}

	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, query) {
			return true
		}
		if LevenshteinDistance(query, word) <= threshold {
			return true
		}
	}
	return false
}

// MatchEmail checks whether a processed email matches the query across
// subject, sender, and a bounded body snippet. Typo tolerance scales
// with query length.
func MatchEmail(query, subject, sender, body string) bool {
	threshold := 2
	if len(query) <= 3 {
		threshold = 1
	} else if len(query) >= 8 {
		threshold = 3
	}

	if Match(query, subject, threshold) {
		return true
	}
	if Match(query, sender, threshold) {
		return true
	}
	if body != "" {
		if len(body) > 500 {
			body = body[:500]
		}
		if Match(query, body, threshold) {
			return true
		}
	}
	return false
}

// Score ranks how relevant an email is to a query; higher is more
// relevant. Subject hits outweigh sender hits.
func Score(query, subject, sender string) float64 {
	query = normalize(query)
	score := 0.0

	subjectNorm := normalize(subject)
	if strings.Contains(subjectNorm, query) {
		score += 100.0
		if containsWord(subjectNorm, query) {
			score += 50.0
		}
	} else {
		for _, word := range strings.Fields(subjectNorm) {
			if dist := LevenshteinDistance(query, word); dist <= 2 {
				score += 50.0 - float64(dist)*15
			}
			if strings.HasPrefix(word, query) {
				score += 40.0
			}
		}
	}

	senderNorm := normalize(sender)
	if strings.Contains(senderNorm, query) {
		score += 60.0
		if containsWord(senderNorm, query) {
			score += 20.0
		}
	} else {
		local := senderNorm
		if idx := strings.Index(senderNorm, "@"); idx > 0 {
			local = senderNorm[:idx]
		}
		if strings.HasPrefix(local, query) {
			score += 30.0
		}
	}
	return score
}

func min3(a, b, c int) int {
	if a < b {
		if a < c {
			return a
		}
		return c
	}
	if b < c {
		return b
	}
	return c
}

func normalize(s string) string {
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

func containsWord(text, query string) bool {
	for _, word := range strings.Fields(text) {
		if word == query {
			return true
		}
	}
	return false
}
