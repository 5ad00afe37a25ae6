package models

// ParticipationStatus is a member's live focus state within a group.
type ParticipationStatus string

const (
	StatusNotParticipating ParticipationStatus = "NOT_PARTICIPATING"
	StatusResting          ParticipationStatus = "RESTING"
	StatusParticipating    ParticipationStatus = "PARTICIPATING"
)

// Valid reports whether s is a known status.
func (s ParticipationStatus) Valid() bool {
	switch s {
	case StatusNotParticipating, StatusResting, StatusParticipating:
		return true
	}
	return false
}

// MemberStatus is the presence record of one member in one group.
// PersonalTimerSeconds and TodoTitle are nil when the member keeps them
// private.
type MemberStatus struct {
	UserID               string              `json:"userId"`
	Nickname             string              `json:"nickname"`
	ProfileImageURL      string              `json:"profileImageUrl"`
	Level                int                 `json:"level"`
	ParticipationStatus  ParticipationStatus `json:"participationStatus"`
	EnteredAt            *Timestamp          `json:"enteredAt"`
	PersonalTimerSeconds *int64              `json:"personalTimerSeconds"`
	TodoTitle            *string             `json:"todoTitle"`
	CheerCount           int                 `json:"cheerCount"`
}

// MemberStatusMessage arrives on /topic/group/{groupId}/member-status.
// Members set (even empty) marks a full snapshot; UpdatedMember marks a
// single-member delta.
type MemberStatusMessage struct {
	GroupID       string         `json:"groupId"`
	Members       []MemberStatus `json:"members"`
	UpdatedMember *MemberStatus  `json:"updatedMember"`
}

// IsSnapshot reports whether the message replaces the group's member set.
func (m MemberStatusMessage) IsSnapshot() bool {
	return m.Members != nil
}

// GroupMember is a member entry from the group data REST endpoint.
type GroupMember struct {
	UserID          string `json:"userId"`
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profileImageUrl"`
	Level           int    `json:"level"`
}

// GroupEvent is written to browser websocket clients by the bridge.
type GroupEvent struct {
	Type         string         `json:"type"`
	GroupID      string         `json:"groupId,omitempty"`
	Members      []MemberStatus `json:"members,omitempty"`
	Timer        *TimerView     `json:"timer,omitempty"`
	Mates        []MateStatus   `json:"mates,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	// Channel and State identify which broker subscription a connection
	// event is about.
	Channel   string `json:"channel,omitempty"`
	State     string `json:"state,omitempty"`
	Connected *bool  `json:"connected,omitempty"`
}

// Bridge event types.
const (
	EventMemberStatus = "member_status"
	EventTimer        = "timer"
	EventMates        = "mates"
	EventNotification = "notification"
	EventConnection   = "connection"
)

// Bridge channels, one broker session each.
const (
	ChannelMemberStatus    = "member-status"
	ChannelTimer           = "timer"
	ChannelFocusReminder   = "focus-reminder"
	ChannelCheer           = "cheer"
	ChannelPoke            = "poke"
	ChannelTimerCompletion = "timer-completion"
	ChannelMates           = "mates"
)
