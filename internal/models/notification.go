package models

// CheerNotification arrives on /topic/user/{userId}/cheer.
type CheerNotification struct {
	GroupID        string     `json:"groupId"`
	SenderID       string     `json:"senderId"`
	SenderNickname string     `json:"senderNickname"`
	ReceiverID     string     `json:"receiverId"`
	CheerCount     int        `json:"cheerCount"`
	Message        string     `json:"message"`
	SentAt         *Timestamp `json:"sentAt"`
}

// PokeNotification arrives on /topic/user/{userId}/poke.
type PokeNotification struct {
	GroupID        string     `json:"groupId"`
	SenderID       string     `json:"senderId"`
	SenderNickname string     `json:"senderNickname"`
	ReceiverID     string     `json:"receiverId"`
	Message        string     `json:"message"`
	SentAt         *Timestamp `json:"sentAt"`
}

// TimerCompletionNotification arrives on /topic/user/{userId}/timer-completion.
type TimerCompletionNotification struct {
	UserID          string     `json:"userId"`
	GroupID         *string    `json:"groupId"`
	TimerMode       *TimerMode `json:"timerMode"`
	DurationSeconds int64      `json:"durationSeconds"`
	Message         string     `json:"message"`
	CompletedAt     *Timestamp `json:"completedAt"`
}

// FocusReminderNotification arrives on /topic/group/{groupId}/notification.
type FocusReminderNotification struct {
	GroupID string     `json:"groupId"`
	Type    string     `json:"type"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	SentAt  *Timestamp `json:"sentAt"`
}

// Notification kinds forwarded to browser clients.
const (
	KindCheer           = "cheer"
	KindPoke            = "poke"
	KindTimerCompletion = "timer_completion"
	KindFocusReminder   = "focus_reminder"
	KindNotice          = "notice"
)

// Notification wraps one single-shot payload for the bridge.
type Notification struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// MateStatus is a mate's active flag from /topic/mates/active-status.
type MateStatus struct {
	UserID    string     `json:"userId"`
	Nickname  string     `json:"nickname,omitempty"`
	Active    bool       `json:"isActive"`
	UpdatedAt *Timestamp `json:"updatedAt,omitempty"`
}

// MateStatusMessage is either a full list (Mates set) or one change.
type MateStatusMessage struct {
	Mates []MateStatus `json:"mates"`
	MateStatus
}
