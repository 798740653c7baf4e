package sim

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// EngineConfig tunes one match simulation. All durations are in ticks;
// speeds are world units per second.
type EngineConfig struct {
	TickRate int

	FieldWidth  float64
	FieldHeight float64
	GoalWidth   float64

	WarmupTicks    uint64
	HalfTicks      uint64
	HalfBreakTicks uint64

	MaxSpeed    float64 // movement cap
	SprintSpeed float64
	PassSpeed   float64 // at full power
	ShotSpeed   float64 // at full power
	BallDrag    float64 // fraction of ball velocity retained per second
	ActorDrag   float64 // fraction of actor velocity retained per second when coasting

	PossessRadius float64

	StaminaDrainPerSec float64 // while moving
	SprintDrainPerSec  float64
	StaminaRegenPerSec float64 // while idle

	TackleBaseChance float64
	TackleFoulChance float64
	ShotMaxSpread    float64 // radians of stochastic spread at zero power

	InputQueueSize    int
	EventLogCap       int
	AssistWindowTicks uint64

	// HashWindowTicks is how many recent broadcast hashes stay valid
	// for the client desync echo. Clients always echo a stale hash at
	// 60 Hz, so this must cover at least the round trip.
	HashWindowTicks int

	Validator ValidatorConfig
}

// DefaultEngineConfig returns the standard 60 Hz ruleset.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickRate:           60,
		FieldWidth:         1200,
		FieldHeight:        700,
		GoalWidth:          200,
		WarmupTicks:        300,   // 5s
		HalfTicks:          10800, // 3min per half
		HalfBreakTicks:     600,   // 10s
		MaxSpeed:           180,
		SprintSpeed:        300,
		PassSpeed:          500,
		ShotSpeed:          800,
		BallDrag:           0.35,
		ActorDrag:          0.02,
		PossessRadius:      25,
		StaminaDrainPerSec: 2.5,
		SprintDrainPerSec:  12,
		StaminaRegenPerSec: 6,
		TackleBaseChance:   0.35,
		TackleFoulChance:   0.25,
		ShotMaxSpread:      0.25,
		InputQueueSize:     256,
		EventLogCap:        DefaultEventLogCap,
		AssistWindowTicks:  DefaultAssistWindowTicks,
		HashWindowTicks:    DefaultHashWindowTicks,
		Validator:          DefaultValidatorConfig(),
	}
}

// ActorSetup describes one participant at match construction.
type ActorSetup struct {
	ID   string
	Team Team
	Role string
}

// Result is the terminal outcome consumed by rating and persistence
// systems.
type Result struct {
	MatchID    string        `json:"matchId"`
	FinalScore [2]int        `json:"finalScore"`
	Events     []DomainEvent `json:"events"`
	Fatal      string        `json:"fatal,omitempty"`
}

// Engine is the authoritative simulation for a single match. State is
// mutated only under e.mu by the tick path; all other components read
// published snapshots or submit inputs through the bounded queue.
type Engine struct {
	mu    sync.Mutex
	cfg   EngineConfig
	state *MatchState

	validator *Validator
	eventLog  *EventLog

	tackleRNG   *Stream
	shotRNG     *Stream
	kickoffRNG  *Stream
	kickoffTeam Team

	inputs chan InputEvent
	snap   atomic.Pointer[Snapshot]

	ticker   *time.Ticker
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	fatalErr error

	// onSnapshot is fire-and-forget export; it must never block the
	// tick loop. onFinished fires exactly once.
	onSnapshot   func(*Snapshot)
	onFinished   func(Result)
	finishedOnce sync.Once
}

// NewEngine builds a match with fresh state. The seed fixes every
// stochastic outcome for the match lifetime, kickoff side included.
func NewEngine(matchID string, seed uint64, actors []ActorSetup, cfg EngineConfig, verifier TokenVerifier) *Engine {
	if cfg.TickRate <= 0 {
		cfg = DefaultEngineConfig()
	}

	e := &Engine{
		cfg:        cfg,
		validator:  NewValidator(cfg.Validator, verifier),
		eventLog:   NewEventLog(cfg.EventLogCap, cfg.AssistWindowTicks),
		tackleRNG:  NewStream(seed, StreamTackle),
		shotRNG:    NewStream(seed, StreamShot),
		kickoffRNG: NewStream(seed, StreamKickoff),
		inputs:     make(chan InputEvent, cfg.InputQueueSize),
		stopChan:   make(chan struct{}),
	}

	state := &MatchState{
		MatchID: matchID,
		Seed:    seed,
		Phase:   PhaseWarmup,
		Actors:  make([]Actor, 0, len(actors)),
	}
	for _, a := range actors {
		state.Actors = append(state.Actors, Actor{
			ID:      a.ID,
			Team:    a.Team,
			Role:    a.Role,
			Stamina: 100,
		})
	}
	e.state = state
	e.kickoffTeam = TeamHome
	if e.kickoffRNG.Chance(0.5) {
		e.kickoffTeam = TeamAway
	}
	e.resetPositions()
	e.state.Ball.X = cfg.FieldWidth / 2
	e.state.Ball.Y = cfg.FieldHeight / 2

	e.validator.OnExclude(e.excludeActor)
	e.publishSnapshot()
	return e
}

// OnSnapshot registers the per-tick snapshot export hook. Must be set
// before Start.
func (e *Engine) OnSnapshot(fn func(*Snapshot)) { e.onSnapshot = fn }

// OnFinished registers the match result consumer. Must be set before
// Start.
func (e *Engine) OnFinished(fn func(Result)) { e.onFinished = fn }

// MatchID returns the immutable match identifier.
func (e *Engine) MatchID() string { return e.state.MatchID }

// Start begins the fixed-rate tick loop on a dedicated goroutine.
func (e *Engine) Start() {
	if !e.running.CompareAndSwap(false, true) {
		return
	}
	e.ticker = time.NewTicker(time.Second / time.Duration(e.cfg.TickRate))

	go func() {
		for {
			select {
			case <-e.ticker.C:
				e.tick()
			case <-e.stopChan:
				return
			}
		}
	}()

	log.Printf("🎮 match %s started at %d TPS", e.state.MatchID, e.cfg.TickRate)
}

// Stop halts the tick loop without changing match state. Terminate is
// the path that also finishes the match.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		if e.ticker != nil {
			e.ticker.Stop()
		}
		close(e.stopChan)
	})
}

// SubmitInput screens one action against the last committed snapshot
// and, if accepted, queues it for the next tick. Returns immediately;
// a full queue counts as rate-limit backpressure rather than a stall.
func (e *Engine) SubmitInput(in InputEvent) Verdict {
	snap := e.snap.Load()
	verdict := e.validator.Validate(&snap.State, in, snap.RecentHashes)
	if !verdict.Accepted {
		return verdict
	}
	select {
	case e.inputs <- in:
		return verdict
	default:
		return rejected(RejectRateLimited)
	}
}

// tick drains the input queue and advances the simulation one step.
// Channel order preserves per-actor submission order; cross-actor
// ordering is not guaranteed and not required.
func (e *Engine) tick() {
	batch := e.drainInputs()

	e.mu.Lock()
	e.step(batch)
	e.mu.Unlock()

	snap := e.publishSnapshot()
	if e.onSnapshot != nil {
		e.onSnapshot(snap)
	}

	if snap.State.Phase.Terminal() {
		e.Stop()
		e.emitFinished()
	}
}

func (e *Engine) drainInputs() []InputEvent {
	var batch []InputEvent
	for {
		select {
		case in := <-e.inputs:
			batch = append(batch, in)
			if len(batch) >= e.cfg.InputQueueSize {
				return batch
			}
		default:
			return batch
		}
	}
}

// Advance steps the simulation synchronously with pre-validated
// inputs. Replay verification and tests drive the engine through this
// without a wall-clock ticker.
func (e *Engine) Advance(inputs []InputEvent) *Snapshot {
	e.mu.Lock()
	e.step(inputs)
	e.mu.Unlock()
	snap := e.publishSnapshot()
	if snap.State.Phase.Terminal() {
		e.emitFinished()
	}
	return snap
}

// Terminate force-finishes the match from any non-terminal phase:
// actor disconnect, operator abort. A final snapshot is flushed and
// the ticker stops; no further inputs are accepted.
func (e *Engine) Terminate(reason string) {
	e.mu.Lock()
	if e.state.Phase.Terminal() {
		e.mu.Unlock()
		return
	}
	e.state.Phase = PhaseFinished
	e.eventLog.Append(DomainEvent{
		Tick: e.state.Tick,
		Type: EventMatchFinished,
		Meta: map[string]string{MetaReason: reason},
	})
	e.mu.Unlock()

	snap := e.publishSnapshot()
	if e.onSnapshot != nil {
		e.onSnapshot(snap)
	}
	e.Stop()
	e.emitFinished()
	log.Printf("🛑 match %s terminated: %s", e.state.MatchID, reason)
}

// Finished reports whether the match reached a terminal phase.
func (e *Engine) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Phase.Terminal()
}

// FatalErr returns the invariant violation that halted the match, if
// any. A non-nil value indicates an engine bug, not adversarial input.
func (e *Engine) FatalErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatalErr
}

// EventLog exposes the match's append-only event history.
func (e *Engine) EventLog() *EventLog { return e.eventLog }

// Validator exposes the anti-cheat filter, mainly for stats readers.
func (e *Engine) Validator() *Validator { return e.validator }

// LatestSnapshot returns the most recently committed snapshot.
func (e *Engine) LatestSnapshot() *Snapshot { return e.snap.Load() }

// excludeActor enforces the hard stop after repeated violations. The
// actor stays in the match state (frozen) so the opponent plays on.
func (e *Engine) excludeActor(actorID string, lastReason RejectReason) {
	e.mu.Lock()
	if a := e.state.ActorByID(actorID); a != nil {
		a.Excluded = true
		a.VX, a.VY = 0, 0
		if a.HasBall {
			a.HasBall = false
			e.state.Ball.PossessorID = ""
		}
	}
	tick := e.state.Tick
	e.mu.Unlock()

	e.eventLog.Append(DomainEvent{
		Tick:    tick,
		Type:    EventPlayerExcluded,
		ActorID: actorID,
		Meta:    map[string]string{MetaReason: string(lastReason)},
	})
	log.Printf("🚫 match %s: actor %s excluded (%s)", e.state.MatchID, actorID, lastReason)
}

// fatal halts the match on an invariant violation with a diagnostic
// dump. This should never fire outside development; it indicates a
// bug rather than bad input.
func (e *Engine) fatal(err error) {
	e.fatalErr = err
	dump, _ := json.Marshal(e.state)
	log.Printf("💥 match %s: invariant violation at tick %d: %v\nstate: %s",
		e.state.MatchID, e.state.Tick, err, dump)

	e.state.Phase = PhaseFinished
	e.eventLog.Append(DomainEvent{
		Tick: e.state.Tick,
		Type: EventMatchFinished,
		Meta: map[string]string{MetaReason: "invariant_violation"},
	})
}

// emitFinished delivers the result exactly once.
func (e *Engine) emitFinished() {
	e.finishedOnce.Do(func() {
		if e.onFinished == nil {
			return
		}
		e.mu.Lock()
		res := Result{
			MatchID:    e.state.MatchID,
			FinalScore: e.state.Score,
			Events:     e.eventLog.Events(),
		}
		if e.fatalErr != nil {
			res.Fatal = e.fatalErr.Error()
		}
		e.mu.Unlock()
		e.onFinished(res)
	})
}
