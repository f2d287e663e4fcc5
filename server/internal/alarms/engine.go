package alarms

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tagalarm/tagalarm/server/internal/metrics"
	"github.com/tagalarm/tagalarm/server/internal/notify"
)

// DefaultAckUser is recorded when Acknowledge is called without a user.
const DefaultAckUser = "system"

// ClearedPrefix is prepended to the rule message in clear notifications.
const ClearedPrefix = "CLEARED: "

// Dispatcher delivers one alarm to a set of channels. *notify.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, a notify.Alarm, channels []notify.Channel) []notify.Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithDispatcher sets the notification dispatcher. Without one, transitions
// are logged and recorded but nothing is sent.
func WithDispatcher(d Dispatcher) Option { return func(e *Engine) { e.dispatcher = d } }

// WithMetrics records engine activity on m.
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock overrides the wall clock used for missing timestamps and
// acknowledgement times.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithHistorySize bounds the history. Non-positive sizes use DefaultHistorySize.
func WithHistorySize(n int) Option { return func(e *Engine) { e.history = newHistory(n) } }

// WithNotifyOnlyDebounce makes the debounce window throttle notifications
// only. A trigger inside the window still opens an ACTIVE record and a
// history entry, but no notification is sent and the window is not reset.
func WithNotifyOnlyDebounce() Option { return func(e *Engine) { e.notifyOnlyDebounce = true } }

// Engine evaluates rules against tag updates and maintains alarm state.
//
// Engine is safe for concurrent use. All state lives behind one mutex;
// notifications are dispatched on separate goroutines after the lock is
// released, so a slow transport never blocks Publish.
type Engine struct {
	mu      sync.Mutex
	rules   *RuleSet
	active  map[Key]*Record
	order   []Key // active keys in trigger order
	gate    *debounceGate
	history *history

	dispatcher         Dispatcher
	metrics            *metrics.Metrics
	now                func() time.Time
	notifyOnlyDebounce bool

	inflight sync.WaitGroup
}

// New creates an Engine evaluating rules. A nil rule set is valid and makes
// Publish a no-op until SetRules is called.
func New(rules *RuleSet, opts ...Option) *Engine {
	e := &Engine{
		rules:  rules,
		active: make(map[Key]*Record),
		gate:   newDebounceGate(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.history == nil {
		e.history = newHistory(DefaultHistorySize)
	}
	e.metrics.ObserveRules(rules.Len(), rules.Rejected())
	return e
}

// outbound is a notification captured under the lock and sent after it.
type outbound struct {
	alarm    notify.Alarm
	channels []notify.Channel
}

// Publish evaluates every rule watching tag against value. A zero ts means
// now. Publish never blocks on notification delivery and never panics.
func (e *Engine) Publish(tag string, value any, ts time.Time) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("alarms: publish panicked", "tag", tag, "panic", r)
		}
	}()

	if ts.IsZero() {
		ts = e.now()
	}
	e.metrics.ObserveTagUpdate()

	if value == nil {
		slog.Warn("alarms: ignoring update without value", "tag", tag)
		return
	}

	for _, out := range e.evaluate(tag, value, ts) {
		e.dispatch(out)
	}
}

func (e *Engine) evaluate(tag string, value any, ts time.Time) []outbound {
	e.mu.Lock()
	defer e.mu.Unlock()

	var pending []outbound
	for _, rule := range e.rules.ForTag(tag) {
		if out, ok := e.step(rule, value, ts); ok {
			pending = append(pending, out)
		}
	}
	return pending
}

// step applies one rule to one update. Must be called with e.mu held.
func (e *Engine) step(rule Rule, value any, ts time.Time) (outbound, bool) {
	key := rule.Key()
	triggered := Evaluate(value, rule.Condition, rule.Threshold)
	rec, isActive := e.active[key]

	switch {
	case triggered && isActive:
		rec.LastValue = value
		rec.LastUpdate = ts
		return outbound{}, false

	case triggered:
		notifyAllowed := e.gate.allow(key, rule.Debounce, ts)
		if !notifyAllowed && !e.notifyOnlyDebounce {
			slog.Debug("alarms: trigger suppressed by debounce",
				"rule", rule.Name, "tag", rule.Tag, "value", value, "debounce", rule.Debounce)
			e.metrics.ObserveSuppressed()
			return outbound{}, false
		}
		opened := e.open(rule, value, ts)
		if !notifyAllowed {
			slog.Debug("alarms: notification suppressed by debounce",
				"rule", rule.Name, "tag", rule.Tag, "value", value, "debounce", rule.Debounce)
			e.metrics.ObserveSuppressed()
			return outbound{}, false
		}
		e.gate.record(key, ts)
		return outbound{alarm: opened.notification(), channels: rule.Channels}, true

	case isActive && rule.AutoClear:
		cleared := e.clear(key, rec, value, ts)
		if !rule.NotifyOnClear {
			return outbound{}, false
		}
		a := cleared.notification()
		a.Message = ClearedPrefix + rule.Message
		return outbound{alarm: a, channels: rule.Channels}, true
	}
	return outbound{}, false
}

// open creates the ACTIVE record for rule and returns a copy of it.
func (e *Engine) open(rule Rule, value any, ts time.Time) Record {
	rec := &Record{
		ID:             uuid.NewString(),
		RuleName:       rule.Name,
		Tag:            rule.Tag,
		Priority:       rule.Priority,
		Message:        rule.Message,
		Condition:      rule.Describe(),
		TriggeredValue: value,
		LastValue:      value,
		TriggeredAt:    ts,
		LastUpdate:     ts,
		Status:         StatusActive,
	}
	key := rule.Key()
	e.active[key] = rec
	e.order = append(e.order, key)
	e.history.append(rec.clone())

	slog.Warn("alarms: alarm triggered",
		"rule", rule.Name,
		"tag", rule.Tag,
		"priority", string(rule.Priority),
		"value", value,
		"condition", rec.Condition,
		"message", rule.Message,
	)
	e.metrics.ObserveTriggered(string(rule.Priority))
	return rec.clone()
}

// clear moves the active record for key to CLEARED and returns a copy.
func (e *Engine) clear(key Key, rec *Record, value any, ts time.Time) Record {
	clearedAt := ts
	rec.Status = StatusCleared
	rec.ClearedAt = &clearedAt
	rec.ClearedValue = value

	e.history.append(rec.clone())
	delete(e.active, key)
	if i := slices.Index(e.order, key); i >= 0 {
		e.order = slices.Delete(e.order, i, i+1)
	}

	slog.Info("alarms: alarm cleared",
		"rule", rec.RuleName,
		"tag", rec.Tag,
		"priority", string(rec.Priority),
		"value", value,
		"triggered_value", rec.TriggeredValue,
		"active_for", ts.Sub(rec.TriggeredAt),
	)
	e.metrics.ObserveCleared(string(rec.Priority))
	return rec.clone()
}

func (e *Engine) dispatch(out outbound) {
	if e.dispatcher == nil {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.dispatcher.Dispatch(context.Background(), out.alarm, out.channels)
	}()
}

// Wait blocks until every notification started so far has been delivered
// or has failed.
func (e *Engine) Wait() { e.inflight.Wait() }

// SetRules replaces the rule set. Active alarms are kept. An alarm whose
// rule was removed stays active and is only evaluated again if a rule with
// the same name and tag comes back.
func (e *Engine) SetRules(rules *RuleSet) {
	e.mu.Lock()
	e.rules = rules
	orphaned := 0
	for key := range e.active {
		if !rules.has(key) {
			orphaned++
		}
	}
	e.mu.Unlock()

	e.metrics.ObserveRules(rules.Len(), rules.Rejected())
	slog.Info("alarms: rule set replaced", "rules", rules.Len(), "orphaned_active", orphaned)
}

// Rules returns the current rule set.
func (e *Engine) Rules() *RuleSet {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rules
}

// Active returns copies of all ACTIVE records in the order they triggered.
func (e *Engine) Active() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Record, 0, len(e.order))
	for _, key := range e.order {
		out = append(out, e.active[key].clone())
	}
	return out
}

// History returns up to limit of the most recent history entries, oldest
// first. limit <= 0 returns the whole history.
func (e *Engine) History(limit int) []Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.last(limit)
}

// Acknowledge marks the ACTIVE alarm for (rule, tag) as acknowledged by
// user, or DefaultAckUser when user is empty. Acknowledging again overwrites
// the previous user and time. It reports false when no such alarm is active.
func (e *Engine) Acknowledge(rule, tag, user string) bool {
	if user == "" {
		user = DefaultAckUser
	}

	e.mu.Lock()
	rec, ok := e.active[Key{Rule: rule, Tag: tag}]
	if ok {
		at := e.now()
		rec.Acknowledged = true
		rec.AcknowledgedBy = user
		rec.AcknowledgedAt = &at
	}
	e.mu.Unlock()

	if ok {
		slog.Info("alarms: alarm acknowledged", "rule", rule, "tag", tag, "user", user)
	}
	return ok
}
