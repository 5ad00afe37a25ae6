package presence

import (
	"sort"
	"sync"

	"mogakjak-gateway/internal/models"
)

// MemberStatusStore mirrors the member-status topic of many groups, keyed
// by (groupId, userId).
type MemberStatusStore struct {
	mu     sync.RWMutex
	groups map[string]map[string]models.MemberStatus
}

func NewMemberStatusStore() *MemberStatusStore {
	return &MemberStatusStore{groups: make(map[string]map[string]models.MemberStatus)}
}

// Apply reduces one message into the store. A snapshot replaces the group's
// members, pruning absent ones; a delta upserts the updated member. It
// returns false and leaves the store untouched when msg carries neither, or
// when any member lacks a user id or has an unknown participation status.
func (s *MemberStatusStore) Apply(msg models.MemberStatusMessage) bool {
	if msg.GroupID == "" {
		return false
	}
	if msg.IsSnapshot() {
		next := make(map[string]models.MemberStatus, len(msg.Members))
		for _, m := range msg.Members {
			if !validMember(m) {
				return false
			}
			next[m.UserID] = m
		}
		s.mu.Lock()
		s.groups[msg.GroupID] = next
		s.mu.Unlock()
		return true
	}
	if msg.UpdatedMember == nil || !validMember(*msg.UpdatedMember) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	group := s.groups[msg.GroupID]
	if group == nil {
		group = make(map[string]models.MemberStatus)
		s.groups[msg.GroupID] = group
	}
	group[msg.UpdatedMember.UserID] = *msg.UpdatedMember
	return true
}

func validMember(m models.MemberStatus) bool {
	return m.UserID != "" && m.ParticipationStatus.Valid()
}

// Reconcile aligns a group with its REST member list: statuses of users
// that left are pruned, new members start as NOT_PARTICIPATING.
func (s *MemberStatusStore) Reconcile(groupID string, members []models.GroupMember) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.groups[groupID]
	next := make(map[string]models.MemberStatus, len(members))
	for _, m := range members {
		if m.UserID == "" {
			continue
		}
		if st, ok := current[m.UserID]; ok {
			if st.Nickname == "" {
				st.Nickname = m.Nickname
			}
			if st.ProfileImageURL == "" {
				st.ProfileImageURL = m.ProfileImageURL
			}
			next[m.UserID] = st
			continue
		}
		next[m.UserID] = models.MemberStatus{
			UserID:              m.UserID,
			Nickname:            m.Nickname,
			ProfileImageURL:     m.ProfileImageURL,
			Level:               m.Level,
			ParticipationStatus: models.StatusNotParticipating,
		}
	}
	s.groups[groupID] = next
}

// Members returns a copy of the group's statuses ordered by user id.
func (s *MemberStatusStore) Members(groupID string) []models.MemberStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group := s.groups[groupID]
	out := make([]models.MemberStatus, 0, len(group))
	for _, m := range group {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (s *MemberStatusStore) Get(groupID, userID string) (models.MemberStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.groups[groupID][userID]
	return m, ok
}

// Forget drops a group entirely.
func (s *MemberStatusStore) Forget(groupID string) {
	s.mu.Lock()
	delete(s.groups, groupID)
	s.mu.Unlock()
}
