// Package rag holds the retrieval-side ranking: keyword scoring over
// decrypted candidates, Reciprocal Rank Fusion with the vector ranking, and
// the context budget.
package rag

import (
	"regexp"
	"sort"
	"strings"
)

// RRFK smooths the gap between high and low ranks in the fusion.
const RRFK = 60

const (
	phraseWeight  = 1.0
	keywordWeight = 0.5
	maxHits       = 3
)

var stopWords = toSet(strings.Fields(
	"a an the is are was were be been being have has had do does did " +
		"will would shall should may might can could about above after " +
		"again against all am and any at before below between both but by " +
		"down during each few for from further get got he her " +
		"here hers herself him himself his how i if in into it its itself " +
		"just let me more most my myself no nor not now of off on once only " +
		"or other our ours ourselves out over own same she so some still " +
		"such than that their theirs them themselves then there these " +
		"they this those through to too under until up us very we " +
		"what when where which while who whom why with you your yours " +
		"yourself yourselves",
))

var (
	quotedPhrase = regexp.MustCompile(`"([^"]+)"`)
	keywordToken = regexp.MustCompile(`[A-Za-z0-9_\-.]+`)
)

func toSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// Terms is what the query contributes to keyword scoring.
type Terms struct {
	Phrases  []string
	Keywords []string
}

func (t Terms) Empty() bool {
	return len(t.Phrases) == 0 && len(t.Keywords) == 0
}

// ExtractTerms splits a query into quoted phrases and significant keywords
// (longer than two characters, not a stop word).
func ExtractTerms(query string) Terms {
	var terms Terms
	for _, m := range quotedPhrase.FindAllStringSubmatch(query, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			terms.Phrases = append(terms.Phrases, p)
		}
	}

	remaining := quotedPhrase.ReplaceAllString(query, " ")
	for _, word := range keywordToken.FindAllString(remaining, -1) {
		if len(word) > 2 && !stopWords[strings.ToLower(word)] {
			terms.Keywords = append(terms.Keywords, word)
		}
	}
	return terms
}

type pattern struct {
	re     *regexp.Regexp
	weight float64
}

func compile(terms Terms) []pattern {
	patterns := make([]pattern, 0, len(terms.Phrases)+len(terms.Keywords))
	add := func(term string, weight float64) {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		if err == nil {
			patterns = append(patterns, pattern{re: re, weight: weight})
		}
	}
	for _, p := range terms.Phrases {
		add(p, phraseWeight)
	}
	for _, k := range terms.Keywords {
		add(k, keywordWeight)
	}
	return patterns
}

// keywordScore is the capped weighted hit count normalised to [0, 1].
func keywordScore(text string, patterns []pattern) float64 {
	total, possible := 0.0, 0.0
	for _, p := range patterns {
		possible += p.weight * maxHits
		hits := len(p.re.FindAllStringIndex(text, maxHits))
		total += p.weight * float64(hits)
	}
	if possible == 0 {
		return 0
	}
	if score := total / possible; score < 1 {
		return score
	}
	return 1
}

// Candidate is one vector hit with its decrypted text.
type Candidate struct {
	ID           string
	Text         string
	Similarity   float64
	KeywordScore float64
	// Score is the fused RRF score, or the similarity when no keyword matched.
	Score float64
}

// Rank fuses the vector order of candidates with their keyword ranking and
// returns at most topK. Without keyword hits the vector order is kept and
// Score equals Similarity.
//
// Fusion works on positions, not scores: a candidate that is first by
// keywords and fifth by similarity beats one that is second by similarity
// and unmatched, however close or far their similarities are. Use
// RankBySimilarity where the similarity order must hold.
func Rank(query string, candidates []Candidate, topK int) []Candidate {
	ranked := bySimilarity(candidates)

	patterns := compile(ExtractTerms(query))
	matched := 0
	if len(patterns) > 0 {
		for i := range ranked {
			ranked[i].KeywordScore = keywordScore(ranked[i].Text, patterns)
			if ranked[i].KeywordScore > 0 {
				matched++
			}
		}
	}

	if matched == 0 {
		for i := range ranked {
			ranked[i].Score = ranked[i].Similarity
		}
		return limit(ranked, topK)
	}

	byKeyword := make([]int, 0, matched)
	for i := range ranked {
		if ranked[i].KeywordScore > 0 {
			byKeyword = append(byKeyword, i)
		}
	}
	sort.SliceStable(byKeyword, func(a, b int) bool {
		return ranked[byKeyword[a]].KeywordScore > ranked[byKeyword[b]].KeywordScore
	})

	for i := range ranked {
		ranked[i].Score = 1.0 / float64(RRFK+i+1)
	}
	for rank, i := range byKeyword {
		ranked[i].Score += 1.0 / float64(RRFK+rank+1)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return limit(ranked, topK)
}

// RankBySimilarity orders candidates by similarity alone and returns at most
// topK, with Score equal to Similarity.
func RankBySimilarity(candidates []Candidate, topK int) []Candidate {
	ranked := bySimilarity(candidates)
	for i := range ranked {
		ranked[i].Score = ranked[i].Similarity
	}
	return limit(ranked, topK)
}

func bySimilarity(candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})
	return ranked
}

func limit(c []Candidate, n int) []Candidate {
	if n >= 0 && len(c) > n {
		return c[:n]
	}
	return c
}

// WithinBudget returns the indexes, in order, of the items whose token
// counts fit into budget. The first item is always kept, even when it alone
// is over budget; the caller shortens it with utils.TruncateTokens. Later
// items that do not fit are skipped whole.
func WithinBudget(tokens []int, budget int) []int {
	if len(tokens) == 0 {
		return nil
	}
	kept := []int{0}
	used := tokens[0]
	for i := 1; i < len(tokens); i++ {
		if used+tokens[i] > budget {
			continue
		}
		kept = append(kept, i)
		used += tokens[i]
	}
	return kept
}
