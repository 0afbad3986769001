// ABOUTME: In-memory index of solved question/SQL examples with lexical similarity lookup.
// ABOUTME: Seeds from built-in samples and a YAML file; grows as runs succeed.

package examples

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultThreshold is the minimum similarity for a match to be attached as
// an in-context example.
const DefaultThreshold = 0.65

// Example is one previously solved question with its query.
type Example struct {
	Question    string   `yaml:"question"`
	SQL         string   `yaml:"sql"`
	Explanation string   `yaml:"explanation,omitempty"`
	Tables      []string `yaml:"tables,omitempty"`
}

// Index holds examples and answers similarity lookups. Safe for concurrent
// use; lookups take a read lock, additions a write lock.
type Index struct {
	mu        sync.RWMutex
	examples  []Example
	threshold float64
}

// NewIndex creates an index seeded with the built-in samples. A threshold at
// or below zero uses the default.
func NewIndex(threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Index{
		examples:  builtinSamples(),
		threshold: threshold,
	}
}

// LoadFile merges examples from a YAML file into the index.
func (ix *Index) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading examples file: %w", err)
	}
	var loaded []Example
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing examples file: %w", err)
	}
	ix.AddAll(loaded)
	return nil
}

// Add inserts one example.
func (ix *Index) Add(e Example) {
	ix.mu.Lock()
	ix.examples = append(ix.examples, e)
	ix.mu.Unlock()
}

// AddAll inserts a batch of examples.
func (ix *Index) AddAll(es []Example) {
	ix.mu.Lock()
	ix.examples = append(ix.examples, es...)
	ix.mu.Unlock()
}

// Len returns the number of indexed examples.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.examples)
}

// FindSimilar returns the most similar example to the question, its score,
// and whether the score clears the threshold. Absence of a match is not an
// error.
func (ix *Index) FindSimilar(question string) (Example, float64, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var best Example
	bestScore := 0.0
	for _, e := range ix.examples {
		score := Similarity(question, e.Question)
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	if bestScore <= ix.threshold {
		return Example{}, bestScore, false
	}
	return best, bestScore, true
}

// Similarity scores two texts in [0,1] using a weighted blend of character
// overlap, containment, and word-set overlap.
func Similarity(text1, text2 string) float64 {
	a := strings.ToLower(strings.TrimSpace(text1))
	b := strings.ToLower(strings.TrimSpace(text2))
	if a == "" || b == "" {
		return 0
	}

	// Character-level overlap of a's runes found in b.
	bSet := make(map[rune]struct{})
	for _, r := range b {
		bSet[r] = struct{}{}
	}
	aRunes := []rune(a)
	matched := 0
	for _, r := range aRunes {
		if _, ok := bSet[r]; ok {
			matched++
		}
	}
	charMatch := float64(matched) / float64(len(aRunes))

	containment := 0.0
	if strings.Contains(a, b) || strings.Contains(b, a) {
		containment = 1.0
	}

	// Jaccard overlap of whitespace-split words.
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	wordMatch := 0.0
	if len(wordsA) > 0 && len(wordsB) > 0 {
		inter := 0
		for w := range wordsA {
			if _, ok := wordsB[w]; ok {
				inter++
			}
		}
		union := len(wordsA) + len(wordsB) - inter
		wordMatch = float64(inter) / float64(union)
	}

	return 0.2*charMatch + 0.5*containment + 0.3*wordMatch
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}
