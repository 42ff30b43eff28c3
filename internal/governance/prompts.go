package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/moyavari/ohs-copilot/internal/domain"
)

// PromptRegistry is the content-addressed store of every prompt the service
// sends. The hash is computed over the fully interpolated prompt, so persona
// and conversation context changes register new versions automatically.
type PromptRegistry struct {
	mu      sync.RWMutex
	byHash  map[string]domain.PromptVersion
	history map[string][]string // name -> hashes in version order
}

// NewPromptRegistry builds an empty in-process registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{
		byHash:  make(map[string]domain.PromptVersion),
		history: make(map[string][]string),
	}
}

// HashPrompt returns the SHA-256 hex digest of prompt content.
func HashPrompt(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// Store registers content under a logical name and returns its hash. Content
// already seen returns the existing hash without assigning a new version;
// the hash is the primary key, so distinct content can never overwrite.
func (r *PromptRegistry) Store(content, name string) string {
	hash := HashPrompt(content)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[hash]; ok {
		return hash
	}
	version := len(r.history[name]) + 1
	r.byHash[hash] = domain.PromptVersion{
		Hash:      hash,
		Name:      name,
		Content:   content,
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
	r.history[name] = append(r.history[name], hash)
	return hash
}

// GetByHash looks up a prompt version by its content hash.
func (r *PromptRegistry) GetByHash(hash string) (domain.PromptVersion, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pv, ok := r.byHash[hash]
	return pv, ok
}

// GetHistory returns all versions registered under a name, oldest first.
func (r *PromptRegistry) GetHistory(name string) []domain.PromptVersion {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hashes := r.history[name]
	out := make([]domain.PromptVersion, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, r.byHash[h])
	}
	return out
}
