// Package quality implements the deterministic quality gate applied to
// a finished draft before anything touches the remote platform.
package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// Checker evaluates a draft. A returned error means the check itself
// could not run (a network-based sub-check failed) and is retryable by
// kind; a verdict with Passed=false is a deterministic veto.
type Checker interface {
	Check(ctx context.Context, draft types.ContentDraft) (types.QualityVerdict, error)
}

// Rules configures the deterministic checks.
type Rules struct {
	MinWordCount     int
	MaxWordCount     int
	BannedTerms      []string
	MinExcerptLength int
	MaxSlugLength    int
	// PassScore is the minimum score out of 100 to pass.
	PassScore float64
	// MaxIssues is the maximum number of recorded issues to still pass.
	MaxIssues int
	// Links optionally verifies outbound links; nil disables the check.
	Links LinkChecker
}

// DefaultRules mirrors the shipped configuration defaults.
func DefaultRules() Rules {
	return Rules{
		MinWordCount:     500,
		MaxWordCount:     3000,
		MinExcerptLength: 50,
		MaxSlugLength:    50,
		PassScore:        70,
		MaxIssues:        3,
	}
}

// Gate is the composite quality checker.
type Gate struct {
	rules Rules
}

var _ Checker = (*Gate)(nil)

// NewGate builds a gate from the given rules.
func NewGate(rules Rules) *Gate {
	return &Gate{rules: rules}
}

// Check scores the draft from 100 down. Deterministic rule failures
// reduce the score and accumulate issues; only the link check can
// return an error, and only for network reasons.
func (g *Gate) Check(ctx context.Context, draft types.ContentDraft) (types.QualityVerdict, error) {
	var issues, suggestions []string
	score := 100.0

	text, err := extractText(draft.BodyHTML)
	if err != nil {
		return types.QualityVerdict{}, types.Permanent("parsing draft HTML", err)
	}

	words := len(strings.Fields(text))
	switch {
	case words < g.rules.MinWordCount:
		issues = append(issues, fmt.Sprintf("content too short: %d words, minimum %d", words, g.rules.MinWordCount))
		score -= 20
	case g.rules.MaxWordCount > 0 && words > g.rules.MaxWordCount:
		issues = append(issues, fmt.Sprintf("content too long: %d words, maximum %d", words, g.rules.MaxWordCount))
		score -= 10
	}

	lowerText := strings.ToLower(text)
	lowerTitle := strings.ToLower(draft.Title)
	for _, term := range g.rules.BannedTerms {
		needle := strings.ToLower(term)
		if needle == "" {
			continue
		}
		if strings.Contains(lowerText, needle) || strings.Contains(lowerTitle, needle) {
			issues = append(issues, fmt.Sprintf("banned term present: %q", term))
			score -= 25
		}
	}

	if len(draft.Excerpt) < g.rules.MinExcerptLength {
		issues = append(issues, fmt.Sprintf("excerpt too short: %d characters, minimum %d", len(draft.Excerpt), g.rules.MinExcerptLength))
		score -= 5
	}
	if g.rules.MaxSlugLength > 0 && len(draft.Slug) > g.rules.MaxSlugLength {
		issues = append(issues, fmt.Sprintf("slug too long: %d characters, maximum %d", len(draft.Slug), g.rules.MaxSlugLength))
		score -= 3
	}

	if g.rules.Links != nil {
		broken, err := g.rules.Links.Broken(ctx, draft.BodyHTML)
		if err != nil {
			// Network failure of the check itself, not a content verdict.
			return types.QualityVerdict{}, err
		}
		for _, link := range broken {
			issues = append(issues, "broken link: "+link)
			score -= 10
		}
	}

	if words < 1000 {
		suggestions = append(suggestions, "add more detail to give readers more value")
	}
	if len(draft.Images) == 0 {
		suggestions = append(suggestions, "add a featured image to improve presentation")
	}

	if score < 0 {
		score = 0
	}
	return types.QualityVerdict{
		Passed:      score >= g.rules.PassScore && len(issues) <= g.rules.MaxIssues,
		Score:       score,
		Issues:      issues,
		Suggestions: suggestions,
	}, nil
}

func extractText(html string) (string, error) {
	if html == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	return doc.Text(), nil
}
