package sim

import "sync"

const (
	// DefaultEventLogCap bounds log memory. Eviction respects the
	// assist window, so the cap is a target, not a hard ceiling.
	DefaultEventLogCap = 1024

	// DefaultAssistWindowTicks is how far back a goal looks for the
	// qualifying pass (10 seconds at 60 Hz).
	DefaultAssistWindowTicks = 600
)

// EventLog is the append-only ring of domain events for one match.
// The engine appends from its tick goroutine; readers query committed
// history concurrently.
type EventLog struct {
	mu           sync.RWMutex
	events       []DomainEvent
	capTarget    int
	assistWindow uint64
	appended     uint64 // total ever appended, survives eviction
}

// NewEventLog creates a log with the given size target and assist
// attribution window. Zero values fall back to defaults.
func NewEventLog(capTarget int, assistWindow uint64) *EventLog {
	if capTarget <= 0 {
		capTarget = DefaultEventLogCap
	}
	if assistWindow == 0 {
		assistWindow = DefaultAssistWindowTicks
	}
	return &EventLog{
		events:       make([]DomainEvent, 0, capTarget),
		capTarget:    capTarget,
		assistWindow: assistWindow,
	}
}

// Append records an event. Goal events are tagged with assist credit
// before they are committed: the most recent pass inside the window
// whose target is the scorer earns the credit. No qualifying pass is
// the normal case, not an error.
func (l *EventLog) Append(ev DomainEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.Type == EventGoal {
		if assist, ok := l.assistFor(ev); ok {
			ev = ev.withMeta(MetaAssist, assist)
		}
	}

	l.events = append(l.events, ev)
	l.appended++
	l.evictLocked(ev.Tick)
}

// assistFor scans backward for the latest pass targeting the scorer
// inside the attribution window. Caller holds l.mu.
func (l *EventLog) assistFor(goal DomainEvent) (string, bool) {
	var cutoff uint64
	if goal.Tick > l.assistWindow {
		cutoff = goal.Tick - l.assistWindow
	}
	for i := len(l.events) - 1; i >= 0; i-- {
		ev := l.events[i]
		if ev.Tick < cutoff {
			break
		}
		if ev.Type == EventPass && ev.TargetID == goal.ActorID && ev.ActorID != goal.ActorID {
			return ev.ActorID, true
		}
	}
	return "", false
}

// evictLocked trims the oldest entries once the log exceeds its size
// target, but never removes an event still inside the active assist
// window. Caller holds l.mu.
func (l *EventLog) evictLocked(now uint64) {
	var cutoff uint64
	if now > l.assistWindow {
		cutoff = now - l.assistWindow
	}
	drop := 0
	for len(l.events)-drop > l.capTarget && l.events[drop].Tick < cutoff {
		drop++
	}
	if drop > 0 {
		n := copy(l.events, l.events[drop:])
		l.events = l.events[:n]
	}
}

// Query returns a copy of all events with fromTick <= Tick <= toTick.
func (l *EventLog) Query(fromTick, toTick uint64) []DomainEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []DomainEvent
	for _, ev := range l.events {
		if ev.Tick >= fromTick && ev.Tick <= toTick {
			out = append(out, ev)
		}
	}
	return out
}

// Events returns a copy of the full retained history, oldest first.
func (l *EventLog) Events() []DomainEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]DomainEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Appended returns the total number of events ever appended, including
// evicted ones.
func (l *EventLog) Appended() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.appended
}

// restore replaces retained history with a recovered tail. Used when a
// match resumes from a snapshot so attribution keeps working across
// the restart.
func (l *EventLog) restore(events []DomainEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events[:0], events...)
	l.appended = uint64(len(events))
}
