package models

// TimerEventType is the kind of group timer event.
type TimerEventType string

const (
	TimerStart  TimerEventType = "START"
	TimerPause  TimerEventType = "PAUSE"
	TimerResume TimerEventType = "RESUME"
	TimerFinish TimerEventType = "FINISH"
	TimerSync   TimerEventType = "SYNC"
)

// TimerMode is the timer flavour a group runs.
type TimerMode string

const (
	ModeStopwatch TimerMode = "STOPWATCH"
	ModeTimer     TimerMode = "TIMER"
	ModePomodoro  TimerMode = "POMODORO"
)

// TimerStatus is the run state of a timer.
type TimerStatus string

const (
	TimerIdle     TimerStatus = "IDLE"
	TimerRunning  TimerStatus = "RUNNING"
	TimerPaused   TimerStatus = "PAUSED"
	TimerFinished TimerStatus = "FINISHED"
)

// GroupTimerEvent arrives on /topic/group/{groupId}/timer. Every field but
// the event type may be absent.
type GroupTimerEvent struct {
	GroupID            string         `json:"groupId"`
	EventType          TimerEventType `json:"eventType"`
	TimerMode          *TimerMode     `json:"timerMode"`
	Status             *TimerStatus   `json:"status"`
	StartedAt          *Timestamp     `json:"startedAt"`
	PausedAt           *Timestamp     `json:"pausedAt"`
	TargetSeconds      *int64         `json:"targetSeconds"`
	TotalSeconds       *int64         `json:"totalSeconds"`
	AccumulatedSeconds *int64         `json:"accumulatedSeconds"`
	ProgressRate       *float64       `json:"progressRate"`
	ServerTime         *Timestamp     `json:"serverTime"`
}

// TimerView is the reduced timer state shown to clients.
type TimerView struct {
	GroupID          string         `json:"groupId"`
	Mode             TimerMode      `json:"mode"`
	Status           TimerStatus    `json:"status"`
	ElapsedSeconds   int64          `json:"elapsedSeconds"`
	RemainingSeconds *int64         `json:"remainingSeconds,omitempty"`
	TargetSeconds    *int64         `json:"targetSeconds,omitempty"`
	ProgressRate     float64        `json:"progressRate"`
	LastEvent        TimerEventType `json:"lastEvent,omitempty"`
}
