package governance

import (
	"regexp"
	"sort"
	"strings"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// RedactionRule is one pattern-driven PII rule. Validate, when set, rejects
// pattern matches that fail structural constraints (Luhn, SSN area rules).
type RedactionRule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
	Validate    func(match string) bool
}

// Redactor applies an ordered rule set over text. Earlier rules win on
// overlapping matches; replacement runs right-to-left so recorded offsets
// stay valid against the original text.
type Redactor struct {
	rules []RedactionRule
}

// NewRedactor builds a redactor with the default rule set: SSNs, credit
// cards, emails, phone numbers.
func NewRedactor() *Redactor {
	return &Redactor{rules: defaultRules()}
}

// AddRule appends a custom rule evaluated after the defaults.
func (r *Redactor) AddRule(rule RedactionRule) {
	r.rules = append(r.rules, rule)
}

func defaultRules() []RedactionRule {
	return []RedactionRule{
		{
			Name:        "ssn",
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[SSN-REDACTED]",
			Validate:    validSSN,
		},
		{
			Name:        "credit_card",
			Pattern:     regexp.MustCompile(`\b(?:4\d{12}(?:\d{3})?|5[1-5]\d{14}|3[47]\d{13}|6(?:011|5\d{2})\d{12})\b`),
			Replacement: "[CARD-REDACTED]",
			Validate:    luhnValid,
		},
		{
			Name:        "email",
			Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			Replacement: "[EMAIL-REDACTED]",
		},
		{
			Name:        "phone",
			Pattern:     regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),
			Replacement: "[PHONE-REDACTED]",
		},
	}
}

// validSSN enforces the standard validity constraints: area not 000, 666 or
// 900-999; group not 00; serial not 0000.
func validSSN(s string) bool {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return false
	}
	area, group, serial := parts[0], parts[1], parts[2]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

func luhnValid(s string) bool {
	sum := 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		d := int(s[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

type span struct {
	start, end  int
	rule        *RedactionRule
	originalVal string
}

// Redact replaces all PII matches and records each replacement with its
// offset in the original text.
func (r *Redactor) Redact(text string) domain.RedactionResult {
	var spans []span
	for i := range r.rules {
		rule := &r.rules[i]
		for _, loc := range rule.Pattern.FindAllStringIndex(text, -1) {
			val := text[loc[0]:loc[1]]
			if rule.Validate != nil && !rule.Validate(val) {
				continue
			}
			if overlaps(spans, loc[0], loc[1]) {
				continue
			}
			spans = append(spans, span{start: loc[0], end: loc[1], rule: rule, originalVal: val})
		}
	}
	if len(spans) == 0 {
		return domain.RedactionResult{Original: text, Redacted: text}
	}
	// Right-to-left replacement preserves the offsets of earlier spans.
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	redacted := text
	matches := make([]domain.RedactionMatch, 0, len(spans))
	for _, sp := range spans {
		redacted = redacted[:sp.start] + sp.rule.Replacement + redacted[sp.end:]
		matches = append(matches, domain.RedactionMatch{
			Type:          sp.rule.Name,
			OriginalValue: sp.originalVal,
			RedactedValue: sp.rule.Replacement,
			StartPosition: sp.start,
			Length:        sp.end - sp.start,
		})
	}
	// report matches in document order
	sort.Slice(matches, func(i, j int) bool { return matches[i].StartPosition < matches[j].StartPosition })
	return domain.RedactionResult{Original: text, Redacted: redacted, Matches: matches}
}

func overlaps(spans []span, start, end int) bool {
	for _, sp := range spans {
		if start < sp.end && end > sp.start {
			return true
		}
	}
	return false
}
