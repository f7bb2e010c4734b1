// Package classify decides whether free text is about the AI industry, which
// keywords it mentions, and which company it is about.
package classify

import (
	"strings"

	"github.com/abdulachik/aipulse/internal/model"
)

// PrimaryKeywords are product and company terms.
var PrimaryKeywords = []string{
	"claude", "claude code", "anthropic",
	"openai", "chatgpt", "codex", "gpt-4", "gpt-5",
	"gemini", "deepmind",
	"agentic", "ai agent", "ai coding",
	"cursor", "windsurf", "copilot", "cline", "aider",
}

// SecondaryKeywords are broader domain terms.
var SecondaryKeywords = []string{
	"llm", "large language model", "model release",
	"mcp", "tool use", "function calling",
	"ai cli", "ai terminal", "code generation",
	"google ai",
}

// CompanyTerms maps each attributable company to the terms that indicate it.
// Order is the order companies are reported in.
var CompanyTerms = []struct {
	Company model.Company
	Terms   []string
}{
	{model.CompanyAnthropic, []string{"anthropic", "claude"}},
	{model.CompanyOpenAI, []string{"openai", "chatgpt", "codex", "gpt-4", "gpt-5"}},
	{model.CompanyGoogle, []string{"gemini", "deepmind", "google ai"}},
}

// Classifier matches text against a fixed keyword set. Matching is substring
// based on the lowercased text, so "codexistence" matches "codex".
// A Classifier is immutable after New and safe for concurrent use.
type Classifier struct {
	keywords []string
}

// Config holds classifier configuration.
type Config struct {
	AdditionalKeywords []string
}

// New creates a classifier over the primary and secondary keywords plus any
// additional ones.
func New(cfg Config) *Classifier {
	terms := make([]string, 0, len(PrimaryKeywords)+len(SecondaryKeywords)+len(cfg.AdditionalKeywords))
	seen := make(map[string]struct{})

	for _, group := range [][]string{PrimaryKeywords, SecondaryKeywords, cfg.AdditionalKeywords} {
		for _, term := range group {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			terms = append(terms, term)
		}
	}

	return &Classifier{keywords: terms}
}

var defaultClassifier = New(Config{})

// Default returns the shared classifier built from the built-in keyword lists.
func Default() *Classifier {
	return defaultClassifier
}

// Keywords returns a copy of the full keyword set.
func (c *Classifier) Keywords() []string {
	return append([]string(nil), c.keywords...)
}

// MatchesAny reports whether the text contains any keyword.
func (c *Classifier) MatchesAny(text string) bool {
	lower, ok := normalize(text)
	if !ok {
		return false
	}

	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// MatchingTags returns every keyword contained in the text, in keyword order.
func (c *Classifier) MatchingTags(text string) []string {
	lower, ok := normalize(text)
	if !ok {
		return []string{}
	}

	tags := make([]string, 0)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			tags = append(tags, kw)
		}
	}
	return tags
}

// DetectCompany attributes the text to a single company, to CompanyBoth when
// two or more companies are mentioned, or to CompanyOther.
func (c *Classifier) DetectCompany(text string) model.Company {
	lower, ok := normalize(text)
	if !ok {
		return model.CompanyOther
	}

	var matched []model.Company
	for _, entry := range CompanyTerms {
		for _, term := range entry.Terms {
			if strings.Contains(lower, term) {
				matched = append(matched, entry.Company)
				break
			}
		}
	}

	switch len(matched) {
	case 0:
		return model.CompanyOther
	case 1:
		return matched[0]
	default:
		return model.CompanyBoth
	}
}

func normalize(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return strings.ToLower(text), true
}
