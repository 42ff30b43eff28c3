package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

const contentSafetyAPIVersion = "2023-10-01"

// contentSafetyModerator calls the Azure AI Content Safety text:analyze
// endpoint. Provider errors are returned to the caller, which fails open.
type contentSafetyModerator struct {
	endpoint string
	apiKey   string
	flagAt   int
	client   *http.Client
}

// NewContentSafetyModerator builds the external moderation adapter.
func NewContentSafetyModerator(endpoint, apiKey, threshold string) Moderator {
	return &contentSafetyModerator{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		flagAt:   thresholdSeverity(threshold),
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type contentSafetyRequest struct {
	Text string `json:"text"`
}

type contentSafetyResponse struct {
	CategoriesAnalysis []struct {
		Category string `json:"category"`
		Severity int    `json:"severity"`
	} `json:"categoriesAnalysis"`
}

func (m *contentSafetyModerator) Moderate(ctx context.Context, text string) (domain.ModerationResult, error) {
	body, err := json.Marshal(contentSafetyRequest{Text: text})
	if err != nil {
		return domain.ModerationResult{}, fmt.Errorf("moderation: marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/contentsafety/text:analyze?api-version=%s", m.endpoint, contentSafetyAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.ModerationResult{}, fmt.Errorf("moderation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return domain.ModerationResult{}, fmt.Errorf("moderation: http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ModerationResult{}, fmt.Errorf("moderation: provider status %d: %s", resp.StatusCode, string(b))
	}
	var parsed contentSafetyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.ModerationResult{}, fmt.Errorf("moderation: decode response: %w", err)
	}

	overall := 0
	categories := make([]domain.ModerationCategory, 0, len(parsed.CategoriesAnalysis))
	for _, c := range parsed.CategoriesAnalysis {
		categories = append(categories, domain.ModerationCategory{
			Name:     c.Category,
			Severity: c.Severity,
			Level:    domain.LevelForSeverity(c.Severity),
		})
		if c.Severity > overall {
			overall = c.Severity
		}
	}
	return domain.ModerationResult{
		Flagged:         overall >= m.flagAt,
		Action:          actionForSeverity(overall),
		Categories:      categories,
		OverallSeverity: overall,
	}, nil
}
