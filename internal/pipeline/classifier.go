package pipeline

import "strings"

// Query intents.
const (
	IntentSQL        = "sql"
	IntentSimilarity = "similarity"
	IntentAnalytical = "analytical"
	IntentGeneral    = "general"
)

// Classifier assigns an intent to a query.
type Classifier interface {
	Classify(query string) string
}

// classifierRule binds an intent to its trigger keywords. Rules are
// evaluated in order and the first match wins, so more specific intents
// must precede broader ones.
type classifierRule struct {
	Intent   string
	Keywords []string
}

// defaultRules mirror the deployed keyword tables.
func defaultRules() []classifierRule {
	return []classifierRule{
		{Intent: IntentSQL, Keywords: []string{"select", "insert", "update", "delete", "from", "where"}},
		{Intent: IntentSimilarity, Keywords: []string{"compare", "similar", "find like", "vector"}},
		{Intent: IntentAnalytical, Keywords: []string{"summarize", "explain", "describe"}},
	}
}

// KeywordClassifier classifies queries by substring keyword matching
// against an ordered rule table. Queries matching no rule are general.
type KeywordClassifier struct {
	rules []classifierRule
}

// NewKeywordClassifier builds a classifier from per-intent keyword lists.
// Empty lists fall back to the built-in defaults for that intent.
func NewKeywordClassifier(sql, similarity, analytical []string) *KeywordClassifier {
	rules := defaultRules()
	override := map[string][]string{
		IntentSQL:        sql,
		IntentSimilarity: similarity,
		IntentAnalytical: analytical,
	}
	for i := range rules {
		if kw := override[rules[i].Intent]; len(kw) > 0 {
			rules[i].Keywords = kw
		}
	}
	return &KeywordClassifier{rules: rules}
}

// Classify returns the query's intent.
func (c *KeywordClassifier) Classify(query string) string {
	lowered := strings.ToLower(query)
	for _, rule := range c.rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lowered, keyword) {
				return rule.Intent
			}
		}
	}
	return IntentGeneral
}

// Ensure KeywordClassifier implements Classifier.
var _ Classifier = (*KeywordClassifier)(nil)
