// Package fuzzy provides the string-similarity primitives used by the
// matcher cascade and the self-healer. All functions are pure and
// case-insensitive.
package fuzzy

import "strings"

const (
	// Prefix bonus is only applied once the base Jaro similarity already
	// clears this bar, so dissimilar strings that merely share a prefix
	// are not inflated.
	winklerThreshold = 0.7
	winklerPrefixCap = 4
	winklerScale     = 0.1

	// Minimum per-token similarity for a word pair to count as matched.
	tokenPairThreshold = 0.7

	// Below this length the normalized edit distance is more reliable
	// than the composite score.
	shortStringLen = 5
)

// Similarity returns a composite score in [0,1]:
// 0.5×JaroWinkler + 0.3×bigram overlap + 0.2×token alignment.
// For strings under 5 characters the maximum of the composite and the
// normalized edit-distance score is used.
func Similarity(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	composite := 0.5*JaroWinkler(a, b) + 0.3*NGramOverlap(a, b, 2) + 0.2*TokenSimilarity(a, b)
	if len(a) < shortStringLen || len(b) < shortStringLen {
		if ed := EditDistanceScore(a, b); ed > composite {
			return ed
		}
	}
	return clamp(composite)
}

// JaroWinkler returns the Jaro similarity with a common-prefix bonus.
func JaroWinkler(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	base := jaro(a, b)
	if base <= winklerThreshold {
		return base
	}
	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < winklerPrefixCap; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return clamp(base + float64(prefix)*winklerScale*(1-base))
}

func jaro(a, b string) float64 {
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	window := max(len(ra), len(rb))/2 - 1
	if window < 0 {
		window = 0
	}

	matchA := make([]bool, len(ra))
	matchB := make([]bool, len(rb))
	matches := 0
	for i := range ra {
		lo := max(0, i-window)
		hi := min(len(rb)-1, i+window)
		for j := lo; j <= hi; j++ {
			if matchB[j] || ra[i] != rb[j] {
				continue
			}
			matchA[i] = true
			matchB[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	j := 0
	for i := range ra {
		if !matchA[i] {
			continue
		}
		for !matchB[j] {
			j++
		}
		if ra[i] != rb[j] {
			transpositions++
		}
		j++
	}
	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(ra)) + m/float64(len(rb)) + (m-t)/m) / 3
}

// NGramOverlap returns the n-gram overlap coefficient
// |A∩B| / min(|A|,|B|). Strings shorter than n fall back to a
// character-set overlap.
func NGramOverlap(a, b string, n int) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == "" || b == "" {
		return 0
	}
	if n < 1 {
		n = 2
	}
	if len(a) < n || len(b) < n {
		return charSetOverlap(a, b)
	}
	ga := ngrams(a, n)
	gb := ngrams(b, n)
	shared := 0
	for g, ca := range ga {
		if cb, ok := gb[g]; ok {
			shared += min(ca, cb)
		}
	}
	return float64(shared) / float64(min(total(ga), total(gb)))
}

func ngrams(s string, n int) map[string]int {
	out := make(map[string]int)
	runes := []rune(s)
	for i := 0; i+n <= len(runes); i++ {
		out[string(runes[i:i+n])]++
	}
	return out
}

func total(grams map[string]int) int {
	sum := 0
	for _, c := range grams {
		sum += c
	}
	return sum
}

func charSetOverlap(a, b string) float64 {
	setA := make(map[rune]bool)
	for _, r := range a {
		setA[r] = true
	}
	setB := make(map[rune]bool)
	for _, r := range b {
		setB[r] = true
	}
	shared := 0
	for r := range setA {
		if setB[r] {
			shared++
		}
	}
	smaller := min(len(setA), len(setB))
	if smaller == 0 {
		return 0
	}
	return float64(shared) / float64(smaller)
}

// TokenSimilarity pairs words greedily one-to-one by best Jaro-Winkler
// score, tolerant of reordering. A pair counts only above the 0.7
// per-token bar. The result is the summed pair score over the larger
// token count.
func TokenSimilarity(a, b string) float64 {
	tokensA := strings.Fields(normalize(a))
	tokensB := strings.Fields(normalize(b))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	used := make([]bool, len(tokensB))
	sum := 0.0
	for _, ta := range tokensA {
		bestScore := 0.0
		bestIdx := -1
		for j, tb := range tokensB {
			if used[j] {
				continue
			}
			if s := JaroWinkler(ta, tb); s > bestScore {
				bestScore = s
				bestIdx = j
			}
		}
		if bestIdx >= 0 && bestScore >= tokenPairThreshold {
			used[bestIdx] = true
			sum += bestScore
		}
	}
	return sum / float64(max(len(tokensA), len(tokensB)))
}

// EditDistanceScore returns 1 − levenshtein(a,b)/max(len(a),len(b)).
func EditDistanceScore(a, b string) float64 {
	a = normalize(a)
	b = normalize(b)
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(min(cur[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// LCSLength returns the length of the longest common subsequence. The
// self-healer uses it for per-attribute weighting.
func LCSLength(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				cur[j] = prev[j-1] + 1
			} else {
				cur[j] = max(prev[j], cur[j-1])
			}
		}
		prev, cur = cur, prev
		for j := range cur {
			cur[j] = 0
		}
	}
	return prev[len(rb)]
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
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
