package domain

import "time"

// Turn is one exchange in a conversation.
type Turn struct {
	UserMessage       string    `json:"userMessage"`
	AssistantResponse string    `json:"assistantResponse"`
	CitationIDs       []string  `json:"citationIds,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// ConversationMemory keeps the rolling window of recent turns for one
// conversation. Turns are append-only; the store trims the oldest once the
// configured retention is exceeded.
type ConversationMemory struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// RecentContext concatenates the last k turns for prompt interpolation.
func (c *ConversationMemory) RecentContext(k int) []Turn {
	if k <= 0 || len(c.Turns) == 0 {
		return nil
	}
	if len(c.Turns) < k {
		k = len(c.Turns)
	}
	return c.Turns[len(c.Turns)-k:]
}

// PersonaVariant enumerates the supported user personas.
type PersonaVariant string

const (
	PersonaInspector         PersonaVariant = "Inspector"
	PersonaClaimsAdjudicator PersonaVariant = "ClaimsAdjudicator"
	PersonaPolicyAnalyst     PersonaVariant = "PolicyAnalyst"
	PersonaAdministrator     PersonaVariant = "Administrator"
)

// PersonaMemory is a per-user profile influencing answer style.
type PersonaMemory struct {
	UserID      string            `json:"userId"`
	Variant     PersonaVariant    `json:"variant"`
	Profile     map[string]string `json:"profile"`
	Preferences []string          `json:"preferences,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// DefaultPersona seeds the profile for a variant.
func DefaultPersona(userID string, variant PersonaVariant) PersonaMemory {
	now := time.Now().UTC()
	p := PersonaMemory{UserID: userID, Variant: variant, CreatedAt: now, UpdatedAt: now}
	switch variant {
	case PersonaInspector:
		p.Profile = map[string]string{
			"role":              "Field safety inspector",
			"response_style":    "concise, checklist-oriented",
			"preferred_sources": "inspection procedures, hazard classifications",
			"typical_questions": "site compliance, violation citations",
		}
	case PersonaClaimsAdjudicator:
		p.Profile = map[string]string{
			"role":              "Claims adjudicator",
			"response_style":    "precise, regulation-cited",
			"preferred_sources": "claims policies, entitlement schedules",
			"typical_questions": "claim eligibility, benefit calculations",
		}
	case PersonaPolicyAnalyst:
		p.Profile = map[string]string{
			"role":              "Policy analyst",
			"response_style":    "thorough, comparative",
			"preferred_sources": "policy manuals, legislative references",
			"typical_questions": "policy interpretation, precedent review",
		}
	default:
		p.Variant = PersonaAdministrator
		p.Profile = map[string]string{
			"role":              "Program administrator",
			"response_style":    "plain language, action-oriented",
			"preferred_sources": "program guides, forms",
			"typical_questions": "process steps, form selection",
		}
	}
	return p
}

// PolicyMemory is a keyword-searchable policy knowledge entry. Access is
// recorded on every read and drives search ranking.
type PolicyMemory struct {
	Key          string    `json:"key"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Tags         []string  `json:"tags,omitempty"`
	Category     string    `json:"category,omitempty"`
	AccessCount  int       `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed"`
}
