package services

import (
	"sort"
	"strings"

	"github.com/ersonp/minutes-core/internal/domain/entities"
)

// LexicalSimilarity scores how alike two names are on purely lexical
// grounds, in [0,1]. It blends token-set overlap (order-insensitive, so
// "Alpha Project" and "Project Alpha" score 1.0) with an edit-distance ratio
// over the normalized strings, taking whichever signal is stronger. Both
// inputs are normalized before scoring.
func LexicalSimilarity(a, b string) float64 {
	na := entities.NormalizeName(a)
	nb := entities.NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	token := tokenSetRatio(na, nb)
	edit := editDistanceRatio(na, nb)
	if token > edit {
		return token
	}
	return edit
}

// tokenSetRatio compares the sorted unique token sets of two normalized
// strings: 2*|intersection| / (|setA| + |setB|).
func tokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	common := 0
	for tok := range setA {
		if setB[tok] {
			common++
		}
	}
	return 2 * float64(common) / float64(len(setA)+len(setB))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// editDistanceRatio converts Levenshtein distance into a similarity ratio:
// 1 - distance/max(len(a), len(b)).
func editDistanceRatio(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance over runes with two rolling rows.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func minInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// scoredMatch pairs an entity with a lexical similarity score.
type scoredMatch struct {
	entity *entities.Entity
	score  float64
}

// rankLexical scores a mention against every known entity's name and
// aliases, keeping each entity's best score, ordered best first.
func rankLexical(mention string, known []*entities.Entity) []scoredMatch {
	matches := make([]scoredMatch, 0, len(known))
	for _, e := range known {
		best := LexicalSimilarity(mention, e.Name)
		for _, alias := range e.Aliases {
			if s := LexicalSimilarity(mention, alias); s > best {
				best = s
			}
		}
		matches = append(matches, scoredMatch{entity: e, score: best})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	return matches
}
