package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"mogakjak-gateway/internal/models"
	"mogakjak-gateway/internal/observability"
	"mogakjak-gateway/internal/realtime"
)

// Options are shared by every watcher.
type Options struct {
	Client        realtime.Config
	GraceDelay    time.Duration
	OnStateChange func(from, to realtime.State)
	// ReconcileInterval re-runs the group data reconciliation of a
	// MemberStatusWatcher periodically; zero reconciles only on start and
	// when a delta names an unknown member.
	ReconcileInterval time.Duration
	// Now is used for timer clock math; defaults to time.Now.
	Now func() time.Time
}

func (o Options) session(name string, params map[string]string, bindings ...realtime.Binding) realtime.SessionConfig {
	return realtime.SessionConfig{
		Name:          name,
		Params:        params,
		Bindings:      bindings,
		Client:        o.Client,
		GraceDelay:    o.GraceDelay,
		OnStateChange: o.OnStateChange,
	}
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// watcher is the lifecycle shared by all watchers.
type watcher struct {
	session *realtime.Session
}

// SetEnabled starts or stops the underlying session.
func (w *watcher) SetEnabled(ctx context.Context, enabled bool) error {
	return w.session.SetEnabled(ctx, enabled)
}

func (w *watcher) Stop(ctx context.Context) { w.session.Disable(ctx) }

func (w *watcher) IsConnected() bool { return w.session.IsConnected() }

func (w *watcher) Session() *realtime.Session { return w.session }

// GroupDataSource loads a group's member list for reconciliation.
type GroupDataSource interface {
	GroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error)
}

// GroupDataFunc adapts a function to GroupDataSource.
type GroupDataFunc func(ctx context.Context, groupID string) ([]models.GroupMember, error)

func (f GroupDataFunc) GroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	return f(ctx, groupID)
}

// MemberStatusWatcher follows /topic/group/{groupId}/member-status.
type MemberStatusWatcher struct {
	watcher
	groupID  string
	store    *MemberStatusStore
	source   GroupDataSource
	interval time.Duration
	onChange func([]models.MemberStatus)

	refreshC chan struct{}
	loopMu   sync.Mutex
	stopLoop context.CancelFunc
	loopDone chan struct{}
}

// NewMemberStatusWatcher wires a watcher for groupID. source may be nil,
// in which case no REST reconciliation happens.
func NewMemberStatusWatcher(factory realtime.ClientFactory, opts Options, groupID string, store *MemberStatusStore, source GroupDataSource, onChange func([]models.MemberStatus)) *MemberStatusWatcher {
	w := &MemberStatusWatcher{
		groupID:  groupID,
		store:    store,
		source:   source,
		interval: opts.ReconcileInterval,
		onChange: onChange,
		refreshC: make(chan struct{}, 1),
	}
	w.session = realtime.NewSession(factory, opts.session("member-status",
		map[string]string{realtime.ParamGroupID: groupID},
		realtime.Binding{
			Topic:   realtime.TopicGroupMemberStatus,
			Handler: realtime.JSON(realtime.TopicGroupMemberStatus, w.handle),
		},
	))
	return w
}

func (w *MemberStatusWatcher) handle(msg models.MemberStatusMessage) {
	if msg.GroupID == "" {
		msg.GroupID = w.groupID
	}
	if msg.GroupID != w.groupID {
		return
	}
	known := true
	if !msg.IsSnapshot() && msg.UpdatedMember != nil {
		_, known = w.store.Get(w.groupID, msg.UpdatedMember.UserID)
	}
	if !w.store.Apply(msg) {
		log.Printf("member-status: dropped invalid message for group %s", w.groupID)
		observability.IncStompDropped(realtime.TopicGroupMemberStatus)
		return
	}
	w.notify()
	if !known {
		w.requestRefresh()
	}
}

// Start reconciles with group data, enables the session and keeps
// reconciling in the background until Stop.
func (w *MemberStatusWatcher) Start(ctx context.Context) error {
	if err := w.Refresh(ctx); err != nil {
		log.Printf("member-status: reconcile group %s: %v", w.groupID, err)
	}
	if err := w.SetEnabled(ctx, true); err != nil {
		return err
	}
	w.startLoop(ctx)
	return nil
}

// Stop ends background reconciliation and disables the session.
func (w *MemberStatusWatcher) Stop(ctx context.Context) {
	w.loopMu.Lock()
	cancel, done := w.stopLoop, w.loopDone
	w.stopLoop, w.loopDone = nil, nil
	w.loopMu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	w.watcher.Stop(ctx)
}

// Refresh reloads group data and prunes members that left.
func (w *MemberStatusWatcher) Refresh(ctx context.Context) error {
	if w.source == nil {
		return nil
	}
	members, err := w.source.GroupMembers(ctx, w.groupID)
	if err != nil {
		return err
	}
	w.store.Reconcile(w.groupID, members)
	w.notify()
	return nil
}

func (w *MemberStatusWatcher) startLoop(ctx context.Context) {
	if w.source == nil {
		return
	}
	w.loopMu.Lock()
	defer w.loopMu.Unlock()
	if w.stopLoop != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.stopLoop = cancel
	w.loopDone = make(chan struct{})
	go w.reconcileLoop(ctx, w.loopDone)
}

func (w *MemberStatusWatcher) reconcileLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	var tick <-chan time.Time
	if w.interval > 0 {
		t := time.NewTicker(w.interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-w.refreshC:
		}
		if err := w.Refresh(ctx); err != nil && ctx.Err() == nil {
			log.Printf("member-status: reconcile group %s: %v", w.groupID, err)
		}
	}
}

// requestRefresh schedules one reconciliation; requests made while one is
// pending are merged.
func (w *MemberStatusWatcher) requestRefresh() {
	if w.source == nil {
		return
	}
	select {
	case w.refreshC <- struct{}{}:
	default:
	}
}

func (w *MemberStatusWatcher) Members() []models.MemberStatus {
	return w.store.Members(w.groupID)
}

func (w *MemberStatusWatcher) notify() {
	if w.onChange != nil {
		w.onChange(w.store.Members(w.groupID))
	}
}

// GroupTimerWatcher follows /topic/group/{groupId}/timer.
type GroupTimerWatcher struct {
	watcher
	timer    *GroupTimer
	opts     Options
	onChange func(models.TimerView)
}

func NewGroupTimerWatcher(factory realtime.ClientFactory, opts Options, groupID string, onChange func(models.TimerView)) *GroupTimerWatcher {
	w := &GroupTimerWatcher{timer: NewGroupTimer(groupID), opts: opts, onChange: onChange}
	w.session = realtime.NewSession(factory, opts.session("group-timer",
		map[string]string{realtime.ParamGroupID: groupID},
		realtime.Binding{
			Topic:   realtime.TopicGroupTimer,
			Handler: realtime.JSON(realtime.TopicGroupTimer, w.handle),
		},
	))
	return w
}

func (w *GroupTimerWatcher) handle(ev models.GroupTimerEvent) {
	now := w.opts.now()
	if !w.timer.Apply(ev, now) {
		log.Printf("group-timer: ignored event %q", ev.EventType)
		return
	}
	if w.onChange != nil {
		w.onChange(w.timer.View(now))
	}
}

func (w *GroupTimerWatcher) Start(ctx context.Context) error { return w.SetEnabled(ctx, true) }

func (w *GroupTimerWatcher) View() models.TimerView { return w.timer.View(w.opts.now()) }

func (w *GroupTimerWatcher) Timer() *GroupTimer { return w.timer }

// MateStatusWatcher follows /topic/mates/active-status.
type MateStatusWatcher struct {
	watcher
	store    *MateStatusStore
	onChange func([]models.MateStatus)
}

func NewMateStatusWatcher(factory realtime.ClientFactory, opts Options, store *MateStatusStore, onChange func([]models.MateStatus)) *MateStatusWatcher {
	w := &MateStatusWatcher{store: store, onChange: onChange}
	w.session = realtime.NewSession(factory, opts.session("mates", nil,
		realtime.Binding{
			Topic:   realtime.TopicMatesActiveStatus,
			Handler: realtime.JSON(realtime.TopicMatesActiveStatus, w.handle),
		},
	))
	return w
}

func (w *MateStatusWatcher) handle(msg models.MateStatusMessage) {
	if !w.store.Apply(msg) {
		return
	}
	if w.onChange != nil {
		w.onChange(w.store.List())
	}
}

func (w *MateStatusWatcher) Start(ctx context.Context) error { return w.SetEnabled(ctx, true) }

func (w *MateStatusWatcher) Mates() []models.MateStatus { return w.store.List() }

// NotificationWatcher delivers single-shot payloads of type T from one
// topic template to fn. Nothing is stored.
type NotificationWatcher[T any] struct {
	watcher
}

func NewNotificationWatcher[T any](factory realtime.ClientFactory, opts Options, name, template string, params map[string]string, fn func(T)) *NotificationWatcher[T] {
	w := &NotificationWatcher[T]{}
	w.session = realtime.NewSession(factory, opts.session(name, params,
		realtime.Binding{Topic: template, Handler: realtime.JSON(template, fn)},
	))
	return w
}

func (w *NotificationWatcher[T]) Start(ctx context.Context) error { return w.SetEnabled(ctx, true) }

func CheerWatcher(factory realtime.ClientFactory, opts Options, userID string, fn func(models.CheerNotification)) *NotificationWatcher[models.CheerNotification] {
	return NewNotificationWatcher(factory, opts, "cheer", realtime.TopicUserCheer,
		map[string]string{realtime.ParamUserID: userID}, fn)
}

func PokeWatcher(factory realtime.ClientFactory, opts Options, userID string, fn func(models.PokeNotification)) *NotificationWatcher[models.PokeNotification] {
	return NewNotificationWatcher(factory, opts, "poke", realtime.TopicUserPoke,
		map[string]string{realtime.ParamUserID: userID}, fn)
}

func TimerCompletionWatcher(factory realtime.ClientFactory, opts Options, userID string, fn func(models.TimerCompletionNotification)) *NotificationWatcher[models.TimerCompletionNotification] {
	return NewNotificationWatcher(factory, opts, "timer-completion", realtime.TopicUserTimerCompletion,
		map[string]string{realtime.ParamUserID: userID}, fn)
}

func FocusReminderWatcher(factory realtime.ClientFactory, opts Options, groupID string, fn func(models.FocusReminderNotification)) *NotificationWatcher[models.FocusReminderNotification] {
	return NewNotificationWatcher(factory, opts, "focus-reminder", realtime.TopicGroupNotification,
		map[string]string{realtime.ParamGroupID: groupID}, fn)
}
