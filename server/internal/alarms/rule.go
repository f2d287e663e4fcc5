package alarms

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/tagalarm/tagalarm/server/internal/config"
	"github.com/tagalarm/tagalarm/server/internal/notify"
)

// maxDebounceSeconds bounds debounce_seconds so the window fits a time.Duration.
const maxDebounceSeconds = math.MaxInt64 / float64(time.Second)

// Priority is the severity label attached to a rule and its alarms.
type Priority string

const (
	PriorityInfo     Priority = "INFO"
	PriorityWarning  Priority = "WARNING"
	PriorityCritical Priority = "CRITICAL"
)

// ParsePriority accepts a priority name in any case.
func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.ToUpper(strings.TrimSpace(s))); p {
	case PriorityInfo, PriorityWarning, PriorityCritical:
		return p, true
	}
	return "", false
}

// Defaults applied to optional rule fields.
const (
	DefaultRuleName = "Unnamed Rule"
	DefaultMessage  = "Alarm triggered"
	DefaultDebounce = 60 * time.Second
	DefaultPriority = PriorityWarning
	DefaultCond     = GreaterThan
)

// clearChannel is the pseudo channel that requests a notification on clear.
const clearChannel = "clear"

// Rule is one validated alarm rule.
type Rule struct {
	Name      string
	Tag       string
	Condition Condition
	Threshold any
	Priority  Priority
	Debounce  time.Duration
	Message   string
	AutoClear bool

	// Channels lists delivery channels for trigger notifications, deduplicated
	// and in configured order. The clear pseudo channel is never included.
	Channels []notify.Channel

	// NotifyOnClear is set when the rule listed the clear pseudo channel.
	NotifyOnClear bool
}

// Key returns the identity of alarms produced by r.
func (r Rule) Key() Key { return Key{Rule: r.Name, Tag: r.Tag} }

// Describe renders the condition as shown to operators, e.g. "> 25".
func (r Rule) Describe() string { return fmt.Sprintf("%s %v", r.Condition, r.Threshold) }

// RuleSet is an immutable collection of rules indexed by tag.
type RuleSet struct {
	rules    []Rule
	byTag    map[string][]Rule
	rejected int
}

// NewRuleSet validates raw rule configurations. Invalid or duplicate rules
// are logged and skipped; Rejected reports how many.
func NewRuleSet(raw []config.RuleConfig) *RuleSet {
	rs := &RuleSet{byTag: make(map[string][]Rule)}
	seen := make(map[Key]bool, len(raw))

	for i, rc := range raw {
		r, err := parseRule(rc)
		if err == nil && seen[r.Key()] {
			err = fmt.Errorf("duplicate rule %q for tag %q", r.Name, r.Tag)
		}
		if err != nil {
			slog.Warn("alarms: rule rejected", "index", i, "name", rc.Name, "tag", rc.Tag, "err", err)
			rs.rejected++
			continue
		}
		seen[r.Key()] = true
		rs.rules = append(rs.rules, r)
		rs.byTag[r.Tag] = append(rs.byTag[r.Tag], r)
	}
	return rs
}

// ForTag returns the rules that watch tag, in configured order. The slice
// must not be modified.
func (rs *RuleSet) ForTag(tag string) []Rule {
	if rs == nil {
		return nil
	}
	return rs.byTag[tag]
}

// Rules returns a copy of all rules in configured order.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}

// Rejected returns the number of rule configurations that failed validation.
func (rs *RuleSet) Rejected() int {
	if rs == nil {
		return 0
	}
	return rs.rejected
}

func (rs *RuleSet) has(k Key) bool {
	for _, r := range rs.ForTag(k.Tag) {
		if r.Name == k.Rule {
			return true
		}
	}
	return false
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

func parseRule(rc config.RuleConfig) (Rule, error) {
	var errs []error

	r := Rule{
		Name:      strings.TrimSpace(rc.Name),
		Tag:       strings.TrimSpace(rc.Tag),
		Threshold: rc.Threshold,
		Message:   rc.Message,
		Priority:  DefaultPriority,
		Condition: DefaultCond,
		Debounce:  DefaultDebounce,
		AutoClear: true,
	}
	if r.Name == "" {
		r.Name = DefaultRuleName
	}
	if r.Message == "" {
		r.Message = DefaultMessage
	}
	if r.Tag == "" {
		errs = append(errs, errors.New("tag is required"))
	}

	switch rc.Threshold.(type) {
	case nil:
		errs = append(errs, errors.New("threshold is required"))
	case bool, string, int, int64, uint64, float64:
	default:
		errs = append(errs, fmt.Errorf("threshold of type %T is not a scalar", rc.Threshold))
	}

	if rc.Condition != "" {
		c, ok := ParseCondition(rc.Condition)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown condition %q", rc.Condition))
		}
		r.Condition = c
	}
	if rc.Priority != "" {
		p, ok := ParsePriority(rc.Priority)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown priority %q", rc.Priority))
		}
		r.Priority = p
	}
	if rc.DebounceSeconds != nil {
		s := *rc.DebounceSeconds
		switch {
		case s < 0 || math.IsNaN(s) || math.IsInf(s, 0):
			errs = append(errs, fmt.Errorf("debounce_seconds %v must be a non-negative number", s))
		case s >= maxDebounceSeconds:
			errs = append(errs, fmt.Errorf("debounce_seconds %v must be below %.0f", s, maxDebounceSeconds))
		default:
			r.Debounce = time.Duration(s * float64(time.Second))
		}
	}
	if rc.AutoClear != nil {
		r.AutoClear = *rc.AutoClear
	}

	channels := rc.Channels
	if channels == nil {
		channels = []string{string(notify.ChannelLog)}
	}
	seen := make(map[notify.Channel]bool, len(channels))
	for _, name := range channels {
		if name == clearChannel {
			r.NotifyOnClear = true
			continue
		}
		ch, ok := notify.ParseChannel(name)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown channel %q", name))
			continue
		}
		if !seen[ch] {
			seen[ch] = true
			r.Channels = append(r.Channels, ch)
		}
	}

	return r, errors.Join(errs...)
}
