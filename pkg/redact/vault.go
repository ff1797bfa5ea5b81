package redact

import "sync"

// Vault stores redaction maps keyed by turn id, apart from the memory
// store so raw PII never shares storage with conversational memory.
type Vault interface {
	Put(turnID string, m RedactionMap) error
	Get(turnID string) (RedactionMap, bool)
}

// MemoryVault is an in-process Vault
type MemoryVault struct {
	mu   sync.RWMutex
	maps map[string]RedactionMap
}

// NewMemoryVault creates an empty in-process vault
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{maps: make(map[string]RedactionMap)}
}

func (v *MemoryVault) Put(turnID string, m RedactionMap) error {
	if len(m) == 0 {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	clone := make(RedactionMap, len(m))
	for k, val := range m {
		clone[k] = val
	}
	v.maps[turnID] = clone
	return nil
}

func (v *MemoryVault) Get(turnID string) (RedactionMap, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	m, ok := v.maps[turnID]
	return m, ok
}
