package presence

import (
	"sort"
	"sync"

	"mogakjak-gateway/internal/models"
)

// MateStatusStore mirrors /topic/mates/active-status.
type MateStatusStore struct {
	mu    sync.RWMutex
	mates map[string]models.MateStatus
}

func NewMateStatusStore() *MateStatusStore {
	return &MateStatusStore{mates: make(map[string]models.MateStatus)}
}

// Apply replaces the set on a full list and upserts otherwise. Messages
// without a user id are ignored.
func (s *MateStatusStore) Apply(msg models.MateStatusMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Mates != nil {
		next := make(map[string]models.MateStatus, len(msg.Mates))
		for _, m := range msg.Mates {
			if m.UserID != "" {
				next[m.UserID] = m
			}
		}
		s.mates = next
		return true
	}
	if msg.UserID == "" {
		return false
	}
	s.mates[msg.UserID] = msg.MateStatus
	return true
}

func (s *MateStatusStore) List() []models.MateStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.MateStatus, 0, len(s.mates))
	for _, m := range s.mates {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *MateStatusStore) Active(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mates[userID].Active
}
