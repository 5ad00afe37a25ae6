package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mogakjak-gateway/internal/models"
)

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }

func member(userID string) models.MemberStatus {
	return models.MemberStatus{UserID: userID, ParticipationStatus: models.StatusNotParticipating}
}

func TestMemberStatusSnapshotThenDelta(t *testing.T) {
	s := NewMemberStatusStore()
	require.True(t, s.Apply(models.MemberStatusMessage{
		GroupID: "g1",
		Members: []models.MemberStatus{
			{UserID: "u1", Nickname: "kim", ParticipationStatus: models.StatusParticipating, TodoTitle: strPtr("read")},
			{UserID: "u2", Nickname: "lee", ParticipationStatus: models.StatusNotParticipating},
		},
	}))

	require.True(t, s.Apply(models.MemberStatusMessage{
		GroupID:       "g1",
		UpdatedMember: &models.MemberStatus{UserID: "u1", Nickname: "kim", ParticipationStatus: models.StatusResting},
	}))

	u1, ok := s.Get("g1", "u1")
	require.True(t, ok)
	assert.Equal(t, models.StatusResting, u1.ParticipationStatus)
	assert.Nil(t, u1.TodoTitle, "delta replaces the whole record")

	u2, ok := s.Get("g1", "u2")
	require.True(t, ok)
	assert.Equal(t, models.StatusNotParticipating, u2.ParticipationStatus)
}

func TestMemberStatusDeltaIsIdempotent(t *testing.T) {
	s := NewMemberStatusStore()
	delta := models.MemberStatusMessage{
		GroupID:       "g1",
		UpdatedMember: &models.MemberStatus{UserID: "u1", ParticipationStatus: models.StatusParticipating, PersonalTimerSeconds: i64Ptr(90)},
	}
	require.True(t, s.Apply(delta))
	first := s.Members("g1")
	require.True(t, s.Apply(delta))
	assert.Equal(t, first, s.Members("g1"))
	assert.Len(t, first, 1)
}

func TestMemberStatusSnapshotPrunes(t *testing.T) {
	s := NewMemberStatusStore()
	require.True(t, s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{member("u1"), member("u2")}}))
	require.True(t, s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{member("u2")}}))

	_, ok := s.Get("g1", "u1")
	assert.False(t, ok)
	assert.Len(t, s.Members("g1"), 1)

	s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{}})
	assert.Empty(t, s.Members("g1"))
}

func TestMemberStatusIgnoresEmptyMessages(t *testing.T) {
	s := NewMemberStatusStore()
	s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{member("u1")}})

	assert.False(t, s.Apply(models.MemberStatusMessage{GroupID: "g1"}))
	assert.False(t, s.Apply(models.MemberStatusMessage{GroupID: "g1", UpdatedMember: &models.MemberStatus{}}))
	assert.False(t, s.Apply(models.MemberStatusMessage{Members: []models.MemberStatus{}}))
	assert.Len(t, s.Members("g1"), 1)
}

func TestMemberStatusRejectsUnknownStatus(t *testing.T) {
	s := NewMemberStatusStore()
	require.True(t, s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{
		{UserID: "u1", ParticipationStatus: models.StatusParticipating},
	}}))

	assert.False(t, s.Apply(models.MemberStatusMessage{
		GroupID:       "g1",
		UpdatedMember: &models.MemberStatus{UserID: "u1", ParticipationStatus: "ASLEEP"},
	}))
	assert.False(t, s.Apply(models.MemberStatusMessage{
		GroupID:       "g1",
		UpdatedMember: &models.MemberStatus{UserID: "u1"},
	}))

	u1, ok := s.Get("g1", "u1")
	require.True(t, ok)
	assert.Equal(t, models.StatusParticipating, u1.ParticipationStatus)
}

func TestMemberStatusRejectsBrokenSnapshot(t *testing.T) {
	s := NewMemberStatusStore()
	require.True(t, s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{
		{UserID: "u1", ParticipationStatus: models.StatusParticipating},
		{UserID: "u2", ParticipationStatus: models.StatusResting},
	}}))

	assert.False(t, s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{
		{Nickname: "no-id", ParticipationStatus: models.StatusResting},
	}}))
	assert.False(t, s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{
		{UserID: "u1", ParticipationStatus: models.StatusResting},
		{UserID: "u2", ParticipationStatus: "ASLEEP"},
	}}))

	members := s.Members("g1")
	require.Len(t, members, 2)
	assert.Equal(t, models.StatusParticipating, members[0].ParticipationStatus)
	assert.Equal(t, models.StatusResting, members[1].ParticipationStatus)
}

func TestMemberStatusReconcile(t *testing.T) {
	s := NewMemberStatusStore()
	s.Apply(models.MemberStatusMessage{GroupID: "g1", Members: []models.MemberStatus{
		{UserID: "u1", ParticipationStatus: models.StatusParticipating},
		{UserID: "u2", ParticipationStatus: models.StatusResting},
	}})

	s.Reconcile("g1", []models.GroupMember{
		{UserID: "u1", Nickname: "kim"},
		{UserID: "u3", Nickname: "park", Level: 2},
	})

	_, ok := s.Get("g1", "u2")
	assert.False(t, ok, "member that left is pruned")

	u1, _ := s.Get("g1", "u1")
	assert.Equal(t, models.StatusParticipating, u1.ParticipationStatus)
	assert.Equal(t, "kim", u1.Nickname)

	u3, ok := s.Get("g1", "u3")
	require.True(t, ok)
	assert.Equal(t, models.StatusNotParticipating, u3.ParticipationStatus)
	assert.Equal(t, 2, u3.Level)

	ids := []string{}
	for _, m := range s.Members("g1") {
		ids = append(ids, m.UserID)
	}
	assert.Equal(t, []string{"u1", "u3"}, ids)
}

func TestMateStatusStore(t *testing.T) {
	s := NewMateStatusStore()
	require.True(t, s.Apply(models.MateStatusMessage{Mates: []models.MateStatus{
		{UserID: "a", Active: true},
		{UserID: "b"},
	}}))
	require.True(t, s.Apply(models.MateStatusMessage{MateStatus: models.MateStatus{UserID: "b", Active: true}}))
	assert.True(t, s.Active("b"))
	assert.False(t, s.Apply(models.MateStatusMessage{}))

	require.True(t, s.Apply(models.MateStatusMessage{Mates: []models.MateStatus{{UserID: "c"}}}))
	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "c", list[0].UserID)
}
