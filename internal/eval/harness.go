package eval

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
	"github.com/moyavari/ohs-copilot/internal/orchestrator"
)

// Case is one golden-dataset row.
type Case struct {
	ID            string
	Question      string
	MustContain   string
	MustCiteTitle string
	Category      string
}

// CaseResult is the outcome for one case.
type CaseResult struct {
	Case     Case
	Passed   bool
	Failures []string
	Answer   string
	Duration time.Duration
}

// Report aggregates a harness run.
type Report struct {
	Total      int
	Passed     int
	Failed     int
	ByCategory map[string]int
	Results    []CaseResult
	Duration   time.Duration
}

// PassRate returns the fraction of passing cases.
func (r Report) PassRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total)
}

// Harness batch-scores ask responses against a golden dataset.
type Harness struct {
	orch *orchestrator.Orchestrator
}

// New builds an evaluation harness over the orchestrator.
func New(orch *orchestrator.Orchestrator) *Harness {
	return &Harness{orch: orch}
}

// ParseDataset reads the golden CSV: id, question, mustContain,
// mustCiteTitle, category. A header row is skipped when present.
func ParseDataset(r io.Reader) ([]Case, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 5
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse golden dataset: %w", err)
	}
	var cases []Case
	for i, row := range rows {
		if i == 0 && strings.EqualFold(row[0], "id") {
			continue
		}
		cases = append(cases, Case{
			ID:            row[0],
			Question:      row[1],
			MustContain:   row[2],
			MustCiteTitle: row[3],
			Category:      row[4],
		})
	}
	return cases, nil
}

// Run evaluates every case sequentially and produces the report.
func (h *Harness) Run(ctx context.Context, cases []Case) Report {
	start := time.Now()
	report := Report{ByCategory: make(map[string]int)}
	for _, c := range cases {
		report.Total++
		result := h.evaluate(ctx, c)
		if result.Passed {
			report.Passed++
			report.ByCategory[c.Category]++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}
	report.Duration = time.Since(start)
	return report
}

func (h *Harness) evaluate(ctx context.Context, c Case) CaseResult {
	start := time.Now()
	result := CaseResult{Case: c}
	resp, err := h.orch.ProcessAsk(ctx, &domain.AskRequest{Question: c.Question})
	result.Duration = time.Since(start)
	if err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("pipeline error: %v", err))
		return result
	}
	result.Answer = resp.Answer
	if c.MustContain != "" && !strings.Contains(strings.ToLower(resp.Answer), strings.ToLower(c.MustContain)) {
		result.Failures = append(result.Failures, fmt.Sprintf("answer missing %q", c.MustContain))
	}
	if c.MustCiteTitle != "" && !citesTitle(resp.Citations, c.MustCiteTitle) {
		result.Failures = append(result.Failures, fmt.Sprintf("no citation titled %q", c.MustCiteTitle))
	}
	result.Passed = len(result.Failures) == 0
	return result
}

func citesTitle(citations []domain.Citation, title string) bool {
	for _, c := range citations {
		if strings.EqualFold(c.Title, title) {
			return true
		}
	}
	return false
}

// WriteReport renders the report as text, one line per case plus a summary.
func WriteReport(w io.Writer, report Report) error {
	for _, r := range report.Results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		if _, err := fmt.Fprintf(w, "%s  %s  %s  %s\n", status, r.Case.ID, r.Case.Category, strings.Join(r.Failures, "; ")); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "\n%d/%d passed (%.0f%%) in %s\n",
		report.Passed, report.Total, report.PassRate()*100, report.Duration.Round(time.Millisecond))
	return err
}
