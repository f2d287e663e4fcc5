package alarms

import "time"

// debounceGate remembers when each key last produced an alarm. It is not
// safe for concurrent use; the Engine guards it with its mutex.
type debounceGate struct {
	last map[Key]time.Time
}

func newDebounceGate() *debounceGate {
	return &debounceGate{last: make(map[Key]time.Time)}
}

// allow reports whether a trigger at now falls outside window. A key that
// has never triggered is always allowed.
func (g *debounceGate) allow(k Key, window time.Duration, now time.Time) bool {
	last, ok := g.last[k]
	if !ok {
		return true
	}
	return now.Sub(last) >= window
}

func (g *debounceGate) record(k Key, now time.Time) {
	g.last[k] = now
}
