// ABOUTME: Keyword-cascade classifier deciding whether a question is an
// ABOUTME: answerable data question before any query generation happens.

package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"github.com/2389/askdb-gateway/internal/llm"
	"github.com/2389/askdb-gateway/internal/metadata"
)

// Confidence levels per cascade layer. Earlier layers are cheaper and more
// certain; the model fallback only runs when every lexical layer is
// inconclusive.
const (
	confidenceCommand  = 0.95
	confidenceStrong   = 0.9
	confidenceSchema   = 0.8
	confidenceAux      = 0.7
	confidenceFallback = 0.51
)

// sqlCommandPrefixes screen out raw SQL and database administration input.
// Someone pasting "SHOW TABLES" wants a console, not an analyst.
var sqlCommandPrefixes = []string{
	"show ", "describe ", "desc ", "explain ", "use ",
	"create ", "drop ", "alter ", "truncate ",
	"insert ", "update ", "delete ", "grant ", "revoke ",
	"set ", "kill ", "select 1", "select version", "select now",
}

// strongKeywords signal a business question on their own.
var strongKeywords = newKeywordSet(
	"revenue", "sales", "profit", "margin", "turnover", "gmv",
	"orders", "customers", "users", "retention", "churn", "conversion",
	"inventory", "refund", "refunds", "growth", "arpu", "dau", "mau",
	"transactions", "purchases", "spend", "spending", "repurchase",
	"best-selling", "top-selling", "market share",
)

// auxiliaryKeywords are analytic vocabulary that only counts in combination.
var auxiliaryKeywords = newKeywordSet(
	"total", "count", "sum", "average", "mean", "median", "percentage",
	"ratio", "rate", "trend", "compare", "comparison", "ranking", "rank",
	"top", "distribution", "breakdown", "daily", "weekly", "monthly",
	"quarterly", "yearly", "annual", "report", "statistics", "metric",
	"metrics", "how many", "how much", "per region", "per product",
	"year-over-year", "month-over-month",
)

type keywordSet struct {
	words   map[string]struct{} // single tokens, matched against the token set
	phrases []string            // multi-word, matched by substring
}

func newKeywordSet(keywords ...string) keywordSet {
	ks := keywordSet{words: make(map[string]struct{}, len(keywords))}
	for _, kw := range keywords {
		if strings.ContainsRune(kw, ' ') {
			ks.phrases = append(ks.phrases, kw)
			continue
		}
		ks.words[kw] = struct{}{}
	}
	return ks
}

// matches returns how many distinct keywords appear in the question.
func (ks keywordSet) matches(lowered string, tokens map[string]struct{}) int {
	n := 0
	for w := range ks.words {
		if _, ok := tokens[w]; ok {
			n++
		}
	}
	for _, p := range ks.phrases {
		if strings.Contains(lowered, p) {
			n++
		}
	}
	return n
}

// Classifier screens questions before the expensive pipeline stages run.
// Lexical layers decide most cases; a model call breaks ties.
type Classifier struct {
	catalog   *metadata.Catalog
	generator llm.Generator
	logger    *slog.Logger
}

func NewClassifier(catalog *metadata.Catalog, generator llm.Generator, logger *slog.Logger) *Classifier {
	return &Classifier{
		catalog:   catalog,
		generator: generator,
		logger:    logger.With("component", "classifier"),
	}
}

// Classify reports whether the question is in domain and how confident the
// decision is. It never returns an error: when the model fallback fails the
// question is waved through at low confidence so a transient LLM outage does
// not reject real questions.
func (c *Classifier) Classify(ctx context.Context, question string) (bool, float64) {
	lowered := strings.ToLower(strings.TrimSpace(question))
	tokens := tokenize(lowered)

	for _, prefix := range sqlCommandPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			c.logger.Debug("classified as raw command", "prefix", strings.TrimSpace(prefix))
			return false, confidenceCommand
		}
	}

	if strongKeywords.matches(lowered, tokens) > 0 {
		return true, confidenceStrong
	}

	if schemaWords := c.catalog.Keywords(ctx); len(schemaWords) > 0 {
		for _, w := range schemaWords {
			if _, ok := auxiliaryKeywords.words[w]; ok {
				continue
			}
			if _, ok := tokens[w]; ok {
				c.logger.Debug("matched schema vocabulary", "word", w)
				return true, confidenceSchema
			}
		}
	}

	if auxiliaryKeywords.matches(lowered, tokens) >= 2 {
		return true, confidenceAux
	}

	return c.classifyWithModel(ctx, question)
}

type classification struct {
	IsDataQuestion bool    `json:"is_data_question"`
	Confidence     float64 `json:"confidence"`
}

func (c *Classifier) classifyWithModel(ctx context.Context, question string) (bool, float64) {
	system, user := classifyPrompts(question)
	raw, err := c.generator.Complete(ctx, system, user)
	if err != nil {
		c.logger.Warn("classification fallback failed, allowing question through", "error", err)
		return true, confidenceFallback
	}
	block, err := extractTagged(raw, "json")
	if err != nil {
		c.logger.Warn("classification response had no json block, allowing question through")
		return true, confidenceFallback
	}
	var verdict classification
	if err := json.Unmarshal([]byte(block), &verdict); err != nil {
		c.logger.Warn("classification response unparseable, allowing question through", "error", err)
		return true, confidenceFallback
	}
	return verdict.IsDataQuestion, verdict.Confidence
}

// tokenize splits on anything that is not a letter or digit, keeping hyphens
// so compound words like "year-over-year" survive as single tokens.
func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, f := range fields {
		out[strings.Trim(f, "-")] = struct{}{}
	}
	return out
}
