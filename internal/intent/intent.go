// Package intent labels pivot-language questions with an agricultural intent
// and extracts crop and season entities.
//
// Classification is a pure function over a table compiled once at startup.
// It is advisory: the result shapes analytics and responses but never gates
// the pipeline.
package intent

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

// General is the intent used when no rule matches.
const General = "general"

const (
	generalConfidence = 0.5
	confidenceStep    = 0.03
	maxConfidence     = 0.99
)

// Rule maps an intent to its trigger keywords and expected entity types.
// Keywords match whole words and their plurals. A trailing "*" marks a stem
// whose last word matches as a prefix, so "irrigat*" matches "irrigation".
type Rule struct {
	Name        string
	Keywords    []string
	EntityTypes []string
	Confidence  float64
}

// Result is the outcome of classifying one question.
type Result struct {
	Intent     string
	Confidence float64
	Entities   map[string][]string
	Matched    []string
}

type compiledRule struct {
	name        string
	keywords    [][]string
	stems       []bool
	raw         []string
	entityTypes map[string]bool
	confidence  float64
}

type entityTerm struct {
	entityType string
	value      string
	tokens     []string
}

// Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	rules    []compiledRule
	entities []entityTerm
}

// New compiles the rule and entity tables. Rule order is the tie-break order.
// entities maps an entity type (e.g., "crop") to its dictionary; a value of the
// form "rice=paddy" records "paddy" as a synonym reported as "rice".
func New(rules []Rule, entities map[string][]string) *Classifier {
	c := &Classifier{}

	for _, r := range rules {
		if r.Name == "" || len(r.Keywords) == 0 {
			continue
		}
		cr := compiledRule{
			name:        r.Name,
			entityTypes: make(map[string]bool, len(r.EntityTypes)),
			confidence:  r.Confidence,
		}
		if cr.confidence <= 0 {
			cr.confidence = 0.8
		}
		for _, kw := range r.Keywords {
			kw = strings.TrimSpace(kw)
			stem := strings.HasSuffix(kw, "*")
			toks := tokenize(strings.TrimSuffix(kw, "*"))
			if len(toks) == 0 {
				continue
			}
			cr.keywords = append(cr.keywords, toks)
			cr.stems = append(cr.stems, stem)
			cr.raw = append(cr.raw, strings.Join(toks, " "))
		}
		for _, et := range r.EntityTypes {
			cr.entityTypes[et] = true
		}
		c.rules = append(c.rules, cr)
	}

	types := make([]string, 0, len(entities))
	for t := range entities {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		for _, v := range entities[t] {
			value, synonym := v, v
			if canonical, alias, ok := strings.Cut(v, "="); ok {
				value, synonym = canonical, alias
			}
			toks := tokenize(synonym)
			if len(toks) == 0 {
				continue
			}
			c.entities = append(c.entities, entityTerm{
				entityType: t,
				value:      strings.ToLower(strings.TrimSpace(value)),
				tokens:     toks,
			})
		}
	}
	return c
}

// NewDefault builds the built-in agricultural classifier.
func NewDefault() *Classifier {
	return New(DefaultRules(), DefaultEntities())
}

// Classify labels text. It never fails; no match yields General.
func (c *Classifier) Classify(text string) Result {
	tokens := tokenize(text)

	best, bestCount := -1, 0
	var bestMatched []string
	for i, r := range c.rules {
		var matched []string
		for k, kw := range r.keywords {
			if containsPhrase(tokens, kw, r.stems[k]) {
				matched = append(matched, r.raw[k])
			}
		}
		// Strictly greater keeps the earlier rule on ties.
		if len(matched) > bestCount {
			best, bestCount, bestMatched = i, len(matched), matched
		}
	}

	res := Result{Intent: General, Confidence: generalConfidence}
	var allowed map[string]bool
	if best >= 0 {
		r := c.rules[best]
		res.Intent = r.name
		res.Matched = bestMatched
		res.Confidence = math.Min(r.confidence+confidenceStep*float64(bestCount-1), maxConfidence)
		allowed = r.entityTypes
	}
	res.Entities = c.extractEntities(tokens, allowed)
	return res
}

func (c *Classifier) extractEntities(tokens []string, allowed map[string]bool) map[string][]string {
	var out map[string][]string
	seen := make(map[string]bool)
	for _, e := range c.entities {
		if allowed != nil && !allowed[e.entityType] {
			continue
		}
		key := e.entityType + "\x00" + e.value
		if seen[key] || !containsPhrase(tokens, e.tokens, false) {
			continue
		}
		seen[key] = true
		if out == nil {
			out = make(map[string][]string)
		}
		out[e.entityType] = append(out[e.entityType], e.value)
	}
	return out
}

// tokenize case-folds text and splits it into words. A Caser holds state, so
// each call gets its own.
func tokenize(text string) []string {
	folded := cases.Fold().String(text)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.Is(unicode.Mn, r) && !unicode.Is(unicode.Mc, r)
	})
}

// isWordForm matches a dictionary word or its plural.
func isWordForm(token, word string) bool {
	return token == word || token == word+"s" || token == word+"es"
}

// containsPhrase reports whether phrase occurs as consecutive tokens. Each
// word must match as a word form; with stem set, the last word matches as a
// prefix instead.
func containsPhrase(tokens, phrase []string, stem bool) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
	last := len(phrase) - 1
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		ok := true
		for j, p := range phrase {
			tok := tokens[i+j]
			if stem && j == last {
				ok = strings.HasPrefix(tok, p)
			} else {
				ok = isWordForm(tok, p)
			}
			if !ok {
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
