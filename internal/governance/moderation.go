package governance

import (
	"context"
	"strings"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// Moderator scores a piece of text for harmful content. Implementations must
// not panic; provider failures are surfaced as errors and the caller decides
// whether to fail open.
type Moderator interface {
	Moderate(ctx context.Context, text string) (domain.ModerationResult, error)
}

// thresholdSeverity returns the minimum severity at which content is flagged
// for the configured threshold.
func thresholdSeverity(threshold string) int {
	switch strings.ToLower(strings.TrimSpace(threshold)) {
	case "low":
		return 1
	case "high":
		return 5
	default: // medium
		return 3
	}
}

// actionForSeverity applies the fixed action mapping: High blocks,
// Medium/Low warn, Safe allows.
func actionForSeverity(severity int) domain.ModerationAction {
	switch domain.LevelForSeverity(severity) {
	case domain.SeverityHigh:
		return domain.ActionBlock
	case domain.SeverityMedium, domain.SeverityLow:
		return domain.ActionAllowWithWarning
	default:
		return domain.ActionAllow
	}
}

// localModerator assigns severities from a keyword table. It exists for demo
// mode and tests; production deployments point at the external provider.
type localModerator struct {
	flagAt   int
	keywords map[string]keywordEntry
}

type keywordEntry struct {
	category string
	severity int
}

// NewLocalModerator builds the deterministic keyword moderator with the
// given flag threshold (Low|Medium|High).
func NewLocalModerator(threshold string) Moderator {
	return &localModerator{
		flagAt: thresholdSeverity(threshold),
		keywords: map[string]keywordEntry{
			"dangerous": {category: "Violence", severity: 6},
			"weapon":    {category: "Violence", severity: 6},
			"attack":    {category: "Violence", severity: 5},
			"kill":      {category: "Violence", severity: 5},
			"harm":      {category: "Violence", severity: 4},
			"threat":    {category: "Violence", severity: 4},
			"suicide":   {category: "SelfHarm", severity: 6},
			"self-harm": {category: "SelfHarm", severity: 6},
			"hate":      {category: "Hate", severity: 4},
			"abuse":     {category: "Hate", severity: 3},
			"drunk":     {category: "Substance", severity: 2},
		},
	}
}

func (m *localModerator) Moderate(_ context.Context, text string) (domain.ModerationResult, error) {
	lowered := strings.ToLower(text)
	bySeverity := map[string]int{}
	for word, entry := range m.keywords {
		if strings.Contains(lowered, word) && entry.severity > bySeverity[entry.category] {
			bySeverity[entry.category] = entry.severity
		}
	}
	overall := 0
	var categories []domain.ModerationCategory
	for name, sev := range bySeverity {
		categories = append(categories, domain.ModerationCategory{
			Name:     name,
			Severity: sev,
			Level:    domain.LevelForSeverity(sev),
		})
		if sev > overall {
			overall = sev
		}
	}
	return domain.ModerationResult{
		Flagged:         overall >= m.flagAt,
		Action:          actionForSeverity(overall),
		Categories:      categories,
		OverallSeverity: overall,
	}, nil
}
