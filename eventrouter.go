package realtime

import (
	"strings"
	"sync"
	"time"

	"github.com/kitaflow/realtime-go-sdk/api"
	"github.com/kitaflow/realtime-go-sdk/util"
)

// KeyPatterns names the cache keys the router invalidates.
type KeyPatterns struct {
	// GroupVisitsPrefix prefixes the visit list of every group, including
	// views that are not keyed by a single group.
	GroupVisitsPrefix string `json:"groupVisitsPrefix,omitempty" yaml:"group_visits_prefix"`
	// StudentDetailPrefix + student id is the key of a student's detail view.
	StudentDetailPrefix string `json:"studentDetailPrefix,omitempty" yaml:"student_detail_prefix"`
	// DashboardKeyword matches every dashboard key.
	DashboardKeyword string `json:"dashboardKeyword,omitempty" yaml:"dashboard_keyword"`
	// ActivityKeywords match keys of activity, room and supervision views.
	ActivityKeywords []string `json:"activityKeywords,omitempty" yaml:"activity_keywords"`
}

func DefaultKeyPatterns() KeyPatterns {
	return KeyPatterns{
		GroupVisitsPrefix:   "active-group-visits",
		StudentDetailPrefix: "student-detail-",
		DashboardKeyword:    "dashboard",
		ActivityKeywords:    []string{"activit", "room", "supervision"},
	}
}

func (k KeyPatterns) withDefaults() KeyPatterns {
	defaults := DefaultKeyPatterns()
	if k.GroupVisitsPrefix == "" {
		k.GroupVisitsPrefix = defaults.GroupVisitsPrefix
	}
	if k.StudentDetailPrefix == "" {
		k.StudentDetailPrefix = defaults.StudentDetailPrefix
	}
	if k.DashboardKeyword == "" {
		k.DashboardKeyword = defaults.DashboardKeyword
	}
	if len(k.ActivityKeywords) == 0 {
		k.ActivityKeywords = defaults.ActivityKeywords
	}
	return k
}

func (k KeyPatterns) StudentDetailKey(studentID string) string {
	return k.StudentDetailPrefix + studentID
}

func (k KeyPatterns) isGroupVisits(key string) bool {
	return strings.HasPrefix(key, k.GroupVisitsPrefix)
}

func (k KeyPatterns) isDashboard(key string) bool {
	return strings.Contains(key, k.DashboardKeyword)
}

func (k KeyPatterns) isActivityView(key string) bool {
	return util.ContainsAny(key, k.ActivityKeywords)
}

type RouterOptions struct {
	DebounceWindow     time.Duration
	Keys               KeyPatterns
	Clock              Clock
	ClientEventHandler chan api.ClientEvent
}

func (o *RouterOptions) CheckDefaults() {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	o.Keys = o.Keys.withDefaults()
	if o.Clock == nil {
		o.Clock = realClock{}
	}
}

// EventRouter turns stream events into debounced, targeted cache
// invalidations. Pending identifiers are only touched under mu.
type EventRouter struct {
	cache   Cache
	options *RouterOptions

	mu                sync.Mutex
	groupIDs          map[string]struct{}
	studentIDs        map[string]struct{}
	activitiesTouched bool
	flushTimer        Timer
	timerSeq          uint64
	closed            bool
}

func NewEventRouter(cache Cache, options *RouterOptions) *EventRouter {
	if options == nil {
		options = &RouterOptions{}
	}
	options.CheckDefaults()
	return &EventRouter{
		cache:      cache,
		options:    options,
		groupIDs:   make(map[string]struct{}),
		studentIDs: make(map[string]struct{}),
	}
}

// OnEvent records the identifiers an event affects and re-arms the flush timer.
func (r *EventRouter) OnEvent(event api.IncomingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	switch event.Type {
	case api.EventType_StudentCheckin, api.EventType_StudentCheckout:
		r.addGroupLocked(event.ActiveGroupID)
		if event.Data.StudentID != "" {
			r.studentIDs[event.Data.StudentID.String()] = struct{}{}
		}
	case api.EventType_ActivityStart, api.EventType_ActivityEnd, api.EventType_ActivityUpdate:
		r.addGroupLocked(event.ActiveGroupID)
		r.activitiesTouched = true
	default:
		util.Warnf("Router - Unhandled event type: %s", event.Type)
		return
	}

	r.scheduleFlushLocked()
}

func (r *EventRouter) addGroupLocked(id api.ID) {
	if id != "" {
		r.groupIDs[id.String()] = struct{}{}
	}
}

// scheduleFlushLocked cancels any pending flush and arms a new one.
func (r *EventRouter) scheduleFlushLocked() {
	r.cancelFlushLocked()
	seq := r.timerSeq
	r.flushTimer = r.options.Clock.AfterFunc(r.options.DebounceWindow, func() {
		r.flush(seq)
	})
}

func (r *EventRouter) cancelFlushLocked() {
	r.timerSeq++
	if r.flushTimer != nil {
		r.flushTimer.Stop()
		r.flushTimer = nil
	}
}

func (r *EventRouter) flush(seq uint64) {
	r.mu.Lock()
	if r.closed || seq != r.timerSeq {
		r.mu.Unlock()
		return
	}
	r.flushTimer = nil
	summary := r.takePendingLocked()
	r.mu.Unlock()

	r.invalidate(summary)
}

// Flush runs a pending flush immediately.
func (r *EventRouter) Flush() {
	r.mu.Lock()
	if r.flushTimer == nil {
		r.mu.Unlock()
		return
	}
	r.cancelFlushLocked()
	summary := r.takePendingLocked()
	r.mu.Unlock()

	r.invalidate(summary)
}

// takePendingLocked clears the accumulators and returns what they held.
func (r *EventRouter) takePendingLocked() api.InvalidationSummary {
	summary := api.InvalidationSummary{
		GroupIDs:          util.SortedKeys(r.groupIDs),
		StudentIDs:        util.SortedKeys(r.studentIDs),
		ActivitiesTouched: r.activitiesTouched,
	}
	r.groupIDs = make(map[string]struct{})
	r.studentIDs = make(map[string]struct{})
	r.activitiesTouched = false
	return summary
}

func (r *EventRouter) invalidate(summary api.InvalidationSummary) {
	keys := r.options.Keys
	touchedGroups := len(summary.GroupIDs) > 0

	// Visit lists of every group: a checkout can change overflow views
	// that are not keyed by the origin group.
	if touchedGroups {
		r.cache.InvalidateMatching(keys.isGroupVisits)
	}
	for _, studentID := range summary.StudentIDs {
		r.cache.Invalidate(keys.StudentDetailKey(studentID))
	}
	if touchedGroups || summary.ActivitiesTouched {
		r.cache.InvalidateMatching(keys.isDashboard)
	}
	if summary.ActivitiesTouched {
		r.cache.InvalidateMatching(keys.isActivityView)
	}

	util.Debugf("Router - Invalidated %d groups, %d students, activities=%t",
		len(summary.GroupIDs), len(summary.StudentIDs), summary.ActivitiesTouched)
	emitClientEvent(r.options.ClientEventHandler, api.ClientEvent{
		EventType: api.ClientEventType_CacheInvalidated,
		EventData: summary,
		Status:    "info",
	})
}

// Close cancels a pending flush. Later events are ignored.
func (r *EventRouter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cancelFlushLocked()
}
