package catalog

import "strings"

// Match is a catalog hit inside a tokenized phrase.
type Match struct {
	Item     Item
	Distance int
	// Start and End delimit the matched words: words[Start:End].
	Start int
	End   int
	rank  int
}

// MaxDistance is the edit budget allowed for a catalog name: a quarter of
// its length, at least one for names of four or more characters, capped at
// three.
func MaxDistance(name string) int {
	n := len([]rune(name))
	if n < 4 {
		return 0
	}
	d := n / 4
	if d < 1 {
		d = 1
	}
	if d > 3 {
		d = 3
	}
	return d
}

// Distance scores query against name as the smaller of the plain and the
// phonetic edit distance.
func Distance(query, name string) int {
	q, n := Normalize(query), Normalize(name)
	plain := Levenshtein(q, n)
	if plain == 0 {
		return 0
	}
	phonetic := Levenshtein(PhoneticKey(q), PhoneticKey(n))
	if phonetic < plain {
		return phonetic
	}
	return plain
}

// BestMatch finds the candidate that best matches a window of words.
// Windows span the candidate's own word count plus or minus one. Ties are
// broken by the shorter edit distance and then by candidate order, so
// callers pass candidates in catalog sort order.
func BestMatch(words []string, candidates []Item) (Match, bool) {
	best := Match{Distance: -1}
	for rank, item := range candidates {
		name := Normalize(item.Name)
		if name == "" {
			continue
		}
		size := len(strings.Fields(name))
		limit := MaxDistance(name)
		for w := size - 1; w <= size+1; w++ {
			if w < 1 || w > len(words) {
				continue
			}
			for start := 0; start+w <= len(words); start++ {
				phrase := strings.Join(words[start:start+w], " ")
				d := Distance(phrase, name)
				if d > limit {
					continue
				}
				m := Match{Item: item, Distance: d, Start: start, End: start + w, rank: rank}
				if better(m, best) {
					best = m
				}
			}
		}
	}
	return best, best.Distance >= 0
}

func better(m, cur Match) bool {
	if cur.Distance < 0 {
		return true
	}
	if m.Distance != cur.Distance {
		return m.Distance < cur.Distance
	}
	if m.rank != cur.rank {
		return m.rank < cur.rank
	}
	// Same item: prefer the longer window so "grote friet" beats "friet".
	return m.End-m.Start > cur.End-cur.Start
}

// Levenshtein is the rune-wise edit distance between a and b.
func Levenshtein(a, b string) int {
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
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
