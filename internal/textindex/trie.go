// Package textindex is the in-memory prefix index over tokens from stored
// chunk text. It answers autocomplete, exact-token and bounded edit-distance
// lookups; the chunk table stays authoritative and the index can always be
// rebuilt from it.
package textindex

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	Token     string `json:"token"`
	Frequency int    `json:"frequency"`
}

// FuzzyMatch is one token within edit distance of the probe.
type FuzzyMatch struct {
	Token    string `json:"token"`
	Distance int    `json:"distance"`
}

type node struct {
	children map[rune]*node
	terminal bool
	// postings holds per-file occurrence counts so removing one file
	// restores the exact prior state.
	postings map[uuid.UUID]int
	freq     int
}

func newNode() *node {
	return &node{children: map[rune]*node{}}
}

type trie struct {
	root   *node
	tokens int
}

func newTrie() *trie {
	return &trie{root: newNode()}
}

func (t *trie) insert(token string, fileID uuid.UUID, count int) {
	if token == "" || count <= 0 {
		return
	}
	n := t.root
	for _, r := range token {
		child, ok := n.children[r]
		if !ok {
			child = newNode()
			n.children[r] = child
		}
		n = child
	}
	if !n.terminal {
		n.terminal = true
		t.tokens++
	}
	if n.postings == nil {
		n.postings = map[uuid.UUID]int{}
	}
	n.postings[fileID] += count
	n.freq += count
}

// remove drops one file's contribution to a token, pruning emptied branches.
func (t *trie) remove(token string, fileID uuid.UUID) {
	if token == "" {
		return
	}

	runes := []rune(token)
	path := make([]*node, 0, len(runes)+1)
	n := t.root
	path = append(path, n)
	for _, r := range runes {
		child, ok := n.children[r]
		if !ok {
			return
		}
		n = child
		path = append(path, n)
	}
	if !n.terminal {
		return
	}

	count, ok := n.postings[fileID]
	if !ok {
		return
	}
	delete(n.postings, fileID)
	n.freq -= count
	if len(n.postings) == 0 {
		n.terminal = false
		n.freq = 0
		t.tokens--
	}

	// Walk back up, unlinking nodes that no longer lead anywhere.
	for i := len(path) - 1; i > 0; i-- {
		cur := path[i]
		if cur.terminal || len(cur.children) > 0 {
			break
		}
		delete(path[i-1].children, runes[i-1])
	}
}

func (t *trie) find(prefix string) *node {
	n := t.root
	for _, r := range prefix {
		child, ok := n.children[r]
		if !ok {
			return nil
		}
		n = child
	}
	return n
}

func (t *trie) exact(token string) []uuid.UUID {
	n := t.find(token)
	if n == nil || !n.terminal {
		return nil
	}
	out := make([]uuid.UUID, 0, len(n.postings))
	for id := range n.postings {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (t *trie) autocomplete(prefix string, k int) []Suggestion {
	n := t.find(prefix)
	if n == nil {
		return nil
	}

	var all []Suggestion
	collect(n, []rune(prefix), &all)
	sort.Slice(all, func(i, j int) bool {
		if all[i].Frequency != all[j].Frequency {
			return all[i].Frequency > all[j].Frequency
		}
		return all[i].Token < all[j].Token
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

func collect(n *node, path []rune, out *[]Suggestion) {
	if n.terminal {
		*out = append(*out, Suggestion{Token: string(path), Frequency: n.freq})
	}
	for r, child := range n.children {
		collect(child, append(path[:len(path):len(path)], r), out)
	}
}

// fuzzy walks the trie carrying one Levenshtein DP row per node, pruning any
// branch whose row minimum already exceeds maxEdits.
func (t *trie) fuzzy(token string, maxEdits int) []FuzzyMatch {
	q := []rune(token)
	row := make([]int, len(q)+1)
	for i := range row {
		row[i] = i
	}

	var out []FuzzyMatch
	for r, child := range t.root.children {
		fuzzyWalk(child, r, q, row, []rune{r}, maxEdits, &out)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Token < out[j].Token
	})
	return out
}

func fuzzyWalk(n *node, r rune, q []rune, prev []int, path []rune, maxEdits int, out *[]FuzzyMatch) {
	row := make([]int, len(q)+1)
	row[0] = prev[0] + 1
	minVal := row[0]
	for i := 1; i <= len(q); i++ {
		insert := row[i-1] + 1
		remove := prev[i] + 1
		replace := prev[i-1]
		if q[i-1] != r {
			replace++
		}
		row[i] = insert
		if remove < row[i] {
			row[i] = remove
		}
		if replace < row[i] {
			row[i] = replace
		}
		if row[i] < minVal {
			minVal = row[i]
		}
	}

	if n.terminal && row[len(q)] <= maxEdits {
		*out = append(*out, FuzzyMatch{Token: string(path), Distance: row[len(q)]})
	}
	if minVal > maxEdits {
		return
	}
	for next, child := range n.children {
		fuzzyWalk(child, next, q, row, append(path[:len(path):len(path)], next), maxEdits, out)
	}
}
