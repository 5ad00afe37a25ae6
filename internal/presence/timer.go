package presence

import (
	"sync"
	"time"

	"mogakjak-gateway/internal/models"
)

// GroupTimer reduces timer events of one group to its latest state. Clock
// math runs on server time, estimated from serverTime and the local
// receive time.
type GroupTimer struct {
	mu sync.RWMutex

	groupID     string
	mode        models.TimerMode
	status      models.TimerStatus
	lastEvent   models.TimerEventType
	startedAt   time.Time
	accumulated int64
	target      *int64
	total       *int64
	progress    *float64
	offset      time.Duration
}

func NewGroupTimer(groupID string) *GroupTimer {
	return &GroupTimer{groupID: groupID, status: models.TimerIdle}
}

// Apply folds ev into the timer. Events for another group or with an
// unknown type are ignored and reported as false.
func (t *GroupTimer) Apply(ev models.GroupTimerEvent, receivedAt time.Time) bool {
	if ev.GroupID != "" && t.groupID != "" && ev.GroupID != t.groupID {
		return false
	}

	var status models.TimerStatus
	switch ev.EventType {
	case models.TimerStart, models.TimerResume:
		status = models.TimerRunning
	case models.TimerPause:
		status = models.TimerPaused
	case models.TimerFinish:
		status = models.TimerFinished
	case models.TimerSync:
	default:
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.ServerTime != nil && !ev.ServerTime.IsZero() {
		t.offset = ev.ServerTime.Sub(receivedAt)
	}
	if ev.EventType == models.TimerSync {
		status = t.status
		if ev.Status != nil {
			status = *ev.Status
		}
	}
	if ev.EventType == models.TimerStart {
		t.accumulated = 0
		t.target = nil
		t.total = nil
		t.progress = nil
	}

	if ev.TimerMode != nil {
		t.mode = *ev.TimerMode
	}
	if ev.AccumulatedSeconds != nil {
		t.accumulated = *ev.AccumulatedSeconds
	} else if status != models.TimerRunning && t.status == models.TimerRunning {
		// Freeze the running segment locally when the server omitted it.
		t.accumulated = t.elapsedLocked(receivedAt)
	}
	if ev.StartedAt != nil && !ev.StartedAt.IsZero() {
		t.startedAt = ev.StartedAt.Time
	} else if status == models.TimerRunning && (t.status != models.TimerRunning || ev.EventType == models.TimerStart) {
		t.startedAt = receivedAt.Add(t.offset)
	}
	if ev.TargetSeconds != nil {
		t.target = ev.TargetSeconds
	}
	if ev.TotalSeconds != nil {
		t.total = ev.TotalSeconds
	}
	if ev.ProgressRate != nil {
		t.progress = ev.ProgressRate
	}
	t.status = status
	t.lastEvent = ev.EventType
	return true
}

// Elapsed returns the seconds run so far at local time now.
func (t *GroupTimer) Elapsed(now time.Time) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.elapsedLocked(now)
}

func (t *GroupTimer) elapsedLocked(now time.Time) int64 {
	if t.status == models.TimerFinished && t.total != nil {
		return *t.total
	}
	elapsed := t.accumulated
	if t.status == models.TimerRunning && !t.startedAt.IsZero() {
		if d := now.Add(t.offset).Sub(t.startedAt); d > 0 {
			elapsed += int64(d / time.Second)
		}
	}
	return elapsed
}

// Remaining returns the seconds left for countdown timers; ok is false
// when the timer has no target.
func (t *GroupTimer) Remaining(now time.Time) (int64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remainingLocked(now)
}

func (t *GroupTimer) remainingLocked(now time.Time) (int64, bool) {
	if t.target == nil {
		return 0, false
	}
	left := *t.target - t.elapsedLocked(now)
	if left < 0 {
		left = 0
	}
	return left, true
}

// View renders the timer state at local time now.
func (t *GroupTimer) View(now time.Time) models.TimerView {
	t.mu.RLock()
	defer t.mu.RUnlock()

	v := models.TimerView{
		GroupID:        t.groupID,
		Mode:           t.mode,
		Status:         t.status,
		ElapsedSeconds: t.elapsedLocked(now),
		LastEvent:      t.lastEvent,
	}
	if t.target != nil {
		target := *t.target
		v.TargetSeconds = &target
		left, _ := t.remainingLocked(now)
		v.RemainingSeconds = &left
		if target > 0 {
			v.ProgressRate = float64(v.ElapsedSeconds) / float64(target)
			if v.ProgressRate > 1 {
				v.ProgressRate = 1
			}
		}
	}
	if t.progress != nil && t.status != models.TimerRunning {
		v.ProgressRate = *t.progress
	}
	return v
}

// Status is the current run state.
func (t *GroupTimer) Status() models.TimerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// ClockOffset is the estimated server time minus local time.
func (t *GroupTimer) ClockOffset() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.offset
}
