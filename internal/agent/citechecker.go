package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/observability"
)

// paragraphs containing a marker / non-empty paragraphs must reach this
// fraction for an answer to count as properly cited
const coverageThreshold = 0.8

// CiteChecker validates citation markers on answers and extracts policy
// references from letter drafts. It never fails the pipeline; the
// orchestrator treats it as a soft stage.
type CiteChecker struct{}

// NewCiteChecker builds the citation checking stage.
func NewCiteChecker() *CiteChecker { return &CiteChecker{} }

func (c *CiteChecker) Name() string { return "cite_checker" }

func (c *CiteChecker) Execute(ctx context.Context, ac *Context) error {
	start := time.Now()
	switch ac.RequestType {
	case RequestDraft:
		if ac.LetterDraft != nil {
			ac.PolicyRefs = &domain.PolicyValidationResult{References: ExtractPolicyRefs(ac.LetterDraft.Body)}
		}
		ac.AddTrace(c.Name(), "policy_refs", refsSummary(ac.PolicyRefs), time.Since(start))
	default:
		if ac.Answer != nil {
			if !HasValidCitations(ac.Answer.Content, len(ac.Answer.Citations)) {
				repaired := RepairCitations(ac.Answer.Content, len(ac.Answer.Citations))
				observability.Logger(ctx).Debug().Msg("citation markers repaired")
				ac.Answer.Content = repaired
			}
		}
		ac.AddTrace(c.Name(), "validate_markers", "", time.Since(start))
	}
	return nil
}

func refsSummary(r *domain.PolicyValidationResult) string {
	if r == nil {
		return ""
	}
	return fmt.Sprintf("refs=%d", len(r.References))
}

// HasValidCitations reports whether the content carries at least one marker,
// all markers reference an existing citation, and marker coverage over
// non-empty paragraphs meets the threshold.
func HasValidCitations(content string, citations int) bool {
	markers := markerRe.FindAllStringSubmatch(content, -1)
	if len(markers) == 0 {
		return false
	}
	for _, m := range markers {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > citations {
			return false
		}
	}
	return paragraphCoverage(content) >= coverageThreshold
}

func paragraphCoverage(content string) float64 {
	var total, covered int
	for _, para := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		total++
		if markerRe.MatchString(para) {
			covered++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

// RepairCitations deterministically re-marks the content: each unmarked
// sentence gets the marker of its position while citations remain.
func RepairCitations(content string, citations int) string {
	if citations == 0 {
		return content
	}
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return content
	}
	for i := range sentences {
		if i >= citations {
			break
		}
		if !markerRe.MatchString(sentences[i]) {
			sentences[i] += fmt.Sprintf(" [#%d]", i+1)
		}
	}
	return strings.Join(sentences, ". ") + "."
}

var policyRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bPolicy\s+\d+(?:\.\d+)?\b`),
	regexp.MustCompile(`(?i)\bSection\s+\d+(?:\.\d+)?\b`),
	regexp.MustCompile(`(?i)\bRegulation\s+\d+(?:\.\d+)?\b`),
	regexp.MustCompile(`(?i)\bForm\s+[A-Z0-9][A-Z0-9-]*\b`),
	regexp.MustCompile(`(?i)\bProcedure\s+[A-Z0-9][A-Z0-9-]*\b`),
}

// ExtractPolicyRefs finds policy/form/section-like references in a letter
// body. The draft itself is never modified.
func ExtractPolicyRefs(body string) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, re := range policyRefPatterns {
		for _, m := range re.FindAllString(body, -1) {
			if !seen[m] {
				seen[m] = true
				refs = append(refs, m)
			}
		}
	}
	return refs
}
