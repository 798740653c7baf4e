package sim

import "encoding/json"

// DefaultHashWindowTicks spans half a second at 60 Hz, enough for a
// client echo to lag several broadcast frames without tripping the
// desync signal.
const DefaultHashWindowTicks = 30

// Snapshot is the committed, serializable view of one match at a tick
// boundary. It carries everything a resumed tick loop needs to
// continue bit-identically: state, per-stream RNG positions, sequence
// floors, anti-cheat counters and the event-log tail inside the
// assist window.
type Snapshot struct {
	State       MatchState        `json:"state"`
	Hash        uint64            `json:"hash"`
	KickoffTeam Team              `json:"kickoffTeam"`
	RNG         map[string][]byte `json:"rng"`
	Sequences   map[string]uint64 `json:"sequences,omitempty"`
	Violations  map[string]int    `json:"violations,omitempty"`
	Desyncs     map[string]int    `json:"desyncs,omitempty"`
	Events      []DomainEvent     `json:"events,omitempty"`

	// RecentHashes are the last broadcast hashes, oldest first, Hash
	// always last. The validator accepts a client echo of any of them.
	RecentHashes []uint64 `json:"recentHashes,omitempty"`
}

// Encode serializes the snapshot as JSON. The format is plain
// structured data; the contract is stability under round-trip, not a
// bit-exact wire layout.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot parses a snapshot produced by Encode.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// publishSnapshot copies the current state into a fresh immutable
// snapshot and commits it for lock-free readers (validation, API,
// broadcast, store export).
func (e *Engine) publishSnapshot() *Snapshot {
	e.mu.Lock()
	state := *e.state
	state.Actors = make([]Actor, len(e.state.Actors))
	copy(state.Actors, e.state.Actors)
	kickoff := e.kickoffTeam
	rng := map[string][]byte{
		StreamTackle:  e.tackleRNG.State(),
		StreamShot:    e.shotRNG.State(),
		StreamKickoff: e.kickoffRNG.State(),
	}
	e.mu.Unlock()

	violations, desyncs := e.validator.counters()
	snap := &Snapshot{
		State:       state,
		Hash:        state.Hash(),
		KickoffTeam: kickoff,
		RNG:         rng,
		Sequences:   e.validator.sequences(),
		Violations:  violations,
		Desyncs:     desyncs,
		Events:      e.eventLog.Events(),
	}
	snap.RecentHashes = e.appendRecentHash(snap.Hash)
	e.snap.Store(snap)
	return snap
}

// appendRecentHash extends the previous snapshot's hash window with
// the new hash, trimming to the configured span. The prior slice is
// shared with published snapshots and never mutated in place.
func (e *Engine) appendRecentHash(hash uint64) []uint64 {
	window := e.cfg.HashWindowTicks
	if window <= 0 {
		window = DefaultHashWindowTicks
	}

	var prev []uint64
	if last := e.snap.Load(); last != nil {
		prev = last.RecentHashes
	}
	recent := make([]uint64, 0, len(prev)+1)
	recent = append(recent, prev...)
	recent = append(recent, hash)
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	return recent
}

// NewEngineFromSnapshot rebuilds a match mid-flight for crash
// recovery. Ticking the resumed engine forward with the same inputs
// reproduces the run that was never interrupted.
func NewEngineFromSnapshot(snap *Snapshot, cfg EngineConfig, verifier TokenVerifier) (*Engine, error) {
	if cfg.TickRate <= 0 {
		cfg = DefaultEngineConfig()
	}

	e := &Engine{
		cfg:        cfg,
		validator:  NewValidator(cfg.Validator, verifier),
		eventLog:   NewEventLog(cfg.EventLogCap, cfg.AssistWindowTicks),
		tackleRNG:  NewStream(snap.State.Seed, StreamTackle),
		shotRNG:    NewStream(snap.State.Seed, StreamShot),
		kickoffRNG: NewStream(snap.State.Seed, StreamKickoff),
		inputs:     make(chan InputEvent, cfg.InputQueueSize),
		stopChan:   make(chan struct{}),
	}

	state := snap.State
	state.Actors = make([]Actor, len(snap.State.Actors))
	copy(state.Actors, snap.State.Actors)
	e.state = &state
	e.kickoffTeam = snap.KickoffTeam

	for label, raw := range snap.RNG {
		var stream *Stream
		switch label {
		case StreamTackle:
			stream = e.tackleRNG
		case StreamShot:
			stream = e.shotRNG
		case StreamKickoff:
			stream = e.kickoffRNG
		default:
			continue
		}
		if err := stream.Restore(raw); err != nil {
			return nil, err
		}
	}

	e.validator.restoreSequences(snap.Sequences)
	e.validator.restoreCounters(snap.Violations, snap.Desyncs)
	e.eventLog.restore(snap.Events)
	e.validator.OnExclude(e.excludeActor)

	// Seed the hash window from the stored snapshot so client echoes
	// from just before the crash stay consistent.
	e.snap.Store(snap)
	e.publishSnapshot()
	return e, nil
}
