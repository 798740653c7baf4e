package sim

// EventType classifies domain events in the append-only match log.
type EventType uint8

const (
	EventUnknown EventType = iota
	EventPass
	EventShot
	EventTackle
	EventGoal
	EventFoul
	EventPossession
	EventPhaseChange
	EventPlayerExcluded
	EventMatchFinished
)

// String returns a human-readable event name.
func (t EventType) String() string {
	switch t {
	case EventPass:
		return "pass"
	case EventShot:
		return "shot"
	case EventTackle:
		return "tackle"
	case EventGoal:
		return "goal"
	case EventFoul:
		return "foul"
	case EventPossession:
		return "possession_change"
	case EventPhaseChange:
		return "phase_change"
	case EventPlayerExcluded:
		return "player_excluded"
	case EventMatchFinished:
		return "match_finished"
	default:
		return "unknown"
	}
}

// Metadata keys written by the engine and attribution scan.
const (
	MetaAssist  = "assist"  // goal: actor credited with the assist
	MetaOutcome = "outcome" // tackle: "won" or "lost"
	MetaTeam    = "team"    // goal: scoring team
	MetaPhase   = "phase"   // phase_change: new phase name
	MetaReason  = "reason"  // player_excluded: final rejection reason
)

// DomainEvent is an immutable log entry. Attribution reads history but
// never rewrites it; the only post-append mutation is tagging a goal's
// metadata with assist credit at append time.
type DomainEvent struct {
	Tick     uint64            `json:"tick"`
	Type     EventType         `json:"type"`
	ActorID  string            `json:"actorId,omitempty"`
	TargetID string            `json:"targetId,omitempty"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// withMeta returns the event with key set, allocating Meta lazily.
func (ev DomainEvent) withMeta(key, value string) DomainEvent {
	if ev.Meta == nil {
		ev.Meta = make(map[string]string, 1)
	}
	ev.Meta[key] = value
	return ev
}
