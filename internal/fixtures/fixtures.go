package fixtures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// DemoHashPrefix marks responses served from fixtures instead of a model.
const DemoHashPrefix = "DEMO_"

const signatureLength = 20

// AskFixture is one canned ask response.
type AskFixture struct {
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	Citations []domain.Citation `json:"citations"`
}

// LetterFixture is one canned letter response.
type LetterFixture struct {
	Purpose string             `json:"purpose"`
	Letter  domain.LetterDraft `json:"letter"`
}

// TraceRecord is one demo-mode request appended to the trace file.
type TraceRecord struct {
	Operation     string    `json:"operation"`
	Signature     string    `json:"signature"`
	CorrelationID string    `json:"correlationId"`
	Matched       bool      `json:"matched"`
	Timestamp     time.Time `json:"timestamp"`
}

// Service loads canned responses keyed by normalized request signature and
// records demo traces. Files are default-created on first run if absent.
type Service struct {
	mu        sync.RWMutex
	asks      map[string]AskFixture
	letters   map[string]LetterFixture
	tracePath string
}

// Signature normalizes a question or purpose for fixture lookup: lowercase,
// punctuation stripped, clipped to the first 20 characters.
func Signature(text string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r == ' ' {
			sb.WriteRune(r)
		}
	}
	sig := strings.Join(strings.Fields(sb.String()), " ")
	if len(sig) > signatureLength {
		sig = sig[:signatureLength]
	}
	return strings.TrimSpace(sig)
}

// Load reads fixtures from fixturesPath, seeding the default files first
// when they do not exist.
func Load(fixturesPath, tracePath string) (*Service, error) {
	if err := os.MkdirAll(fixturesPath, 0o755); err != nil {
		return nil, fmt.Errorf("create fixtures dir: %w", err)
	}
	if err := os.MkdirAll(tracePath, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	askPath := filepath.Join(fixturesPath, "ask-fixtures.json")
	letterPath := filepath.Join(fixturesPath, "letter-fixtures.json")
	if err := seedIfAbsent(askPath, defaultAskFixtures()); err != nil {
		return nil, err
	}
	if err := seedIfAbsent(letterPath, defaultLetterFixtures()); err != nil {
		return nil, err
	}

	var asks []AskFixture
	if err := readJSON(askPath, &asks); err != nil {
		return nil, err
	}
	var letters []LetterFixture
	if err := readJSON(letterPath, &letters); err != nil {
		return nil, err
	}

	s := &Service{
		asks:      make(map[string]AskFixture, len(asks)),
		letters:   make(map[string]LetterFixture, len(letters)),
		tracePath: filepath.Join(tracePath, "demo-traces.json"),
	}
	for _, f := range asks {
		s.asks[Signature(f.Question)] = f
	}
	for _, f := range letters {
		s.letters[Signature(f.Purpose)] = f
	}
	return s, nil
}

// MatchAsk returns the fixture for a question, if one exists.
func (s *Service) MatchAsk(question string) (AskFixture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.asks[Signature(question)]
	return f, ok
}

// MatchLetter returns the fixture for a purpose, if one exists.
func (s *Service) MatchLetter(purpose string) (LetterFixture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.letters[Signature(purpose)]
	return f, ok
}

// RecordTrace appends one demo request to the trace file.
func (s *Service) RecordTrace(rec TraceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	var traces []TraceRecord
	if data, err := os.ReadFile(s.tracePath); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &traces)
	}
	traces = append(traces, rec)
	data, err := json.MarshalIndent(traces, "", "  ")
	if err != nil {
		return fmt.Errorf("encode demo traces: %w", err)
	}
	if err := os.WriteFile(s.tracePath, data, 0o644); err != nil {
		return fmt.Errorf("write demo traces: %w", err)
	}
	return nil
}

func seedIfAbsent(path string, v any) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode default fixtures: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultAskFixtures() []AskFixture {
	return []AskFixture{
		{
			Question: "What PPE is required for construction work?",
			Answer: "Construction work requires hard hats at all times on site [#1]. " +
				"Workers must wear safety glasses during any cutting, grinding or drilling [#1]. " +
				"On active construction zones, steel-toed boots are mandatory for all workers [#2].",
			Citations: []domain.Citation{
				{ID: "c1", Score: 0.92, Title: "PPE Requirements for Construction Sites", Excerpt: "Hard hats and safety glasses are mandatory for all personnel..."},
				{ID: "c2", Score: 0.87, Title: "Footwear Standards", Excerpt: "Steel-toed boots meeting CSA Grade 1 are required in active zones..."},
			},
		},
		{
			Question: "How do I report a workplace incident?",
			Answer: "Report the incident to your supervisor immediately and file Form WS-101 within 24 hours [#1]. " +
				"Serious injuries must also be reported to the safety board by phone [#1].",
			Citations: []domain.Citation{
				{ID: "c1", Score: 0.95, Title: "Incident Reporting Procedures", Excerpt: "All workplace incidents must be reported within 24 hours using Form WS-101..."},
			},
		},
	}
}

func defaultLetterFixtures() []LetterFixture {
	return []LetterFixture{
		{
			Purpose: "safety training reminder",
			Letter: domain.LetterDraft{
				Subject: "Upcoming Safety Training Requirement",
				Body: "Dear {{recipient_name}},\n\nOur records show your annual safety training expires on {expiry_date}. " +
					"Please schedule your renewal session before that date.\n\nSincerely,\n{{sender_name}}",
				Placeholders: []string{"recipient_name", "expiry_date", "sender_name"},
			},
		},
	}
}
