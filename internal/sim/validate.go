package sim

import (
	"math"
	"sync"

	"golang.org/x/time/rate"
)

// RejectReason is the typed explanation returned to the transport
// layer when an input is refused. Values are bounded so they can feed
// metric labels directly.
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectRateLimited   RejectReason = "rate_limited"
	RejectStaleSequence RejectReason = "stale_sequence"
	RejectPrecondition  RejectReason = "precondition"
	RejectOutOfRange    RejectReason = "out_of_range"
	RejectBadToken      RejectReason = "bad_token"
	RejectUnknownActor  RejectReason = "unknown_actor"
	RejectExcluded      RejectReason = "excluded"
	RejectMatchOver     RejectReason = "match_over"
	RejectMalformed     RejectReason = "malformed"
	RejectDesync        RejectReason = "desync"
)

// Verdict is the outcome of validating one input event.
type Verdict struct {
	Accepted bool
	Reason   RejectReason
}

func accepted() Verdict               { return Verdict{Accepted: true} }
func rejected(r RejectReason) Verdict { return Verdict{Reason: r} }

// TokenVerifier checks the opaque session credential attached to an
// input. The concrete scheme lives outside the simulation core.
type TokenVerifier interface {
	Verify(actorID, token string) bool
}

// TokenVerifierFunc adapts a function to the TokenVerifier interface.
type TokenVerifierFunc func(actorID, token string) bool

// Verify implements TokenVerifier.
func (f TokenVerifierFunc) Verify(actorID, token string) bool { return f(actorID, token) }

// ValidatorConfig tunes the anti-cheat filter.
type ValidatorConfig struct {
	// InputsPerSecond caps accepted inputs per actor over a trailing
	// one-second window; Burst is the token bucket depth.
	InputsPerSecond float64
	Burst           int

	// ViolationLimit is how many integrity violations an actor may
	// accumulate before exclusion. Rate-limit rejections are transient
	// backpressure and do not count.
	ViolationLimit int

	// TackleRadius is the maximum distance to an opposing possessor
	// for a tackle attempt to be plausible.
	TackleRadius float64

	// MaxShotAngle bounds the shot angle parameter (radians either
	// side of straight at goal).
	MaxShotAngle float64

	// DesyncCountsAsViolation controls whether a state-hash mismatch
	// feeds the violation counter. The hash is always recorded either
	// way; client prediction drift is expected in real-time play.
	DesyncCountsAsViolation bool
}

// DefaultValidatorConfig returns production defaults.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		InputsPerSecond:         20,
		Burst:                   20,
		ViolationLimit:          3,
		TackleRadius:            60,
		MaxShotAngle:            math.Pi / 3,
		DesyncCountsAsViolation: true,
	}
}

// actorGate holds per-actor validation state for one match.
type actorGate struct {
	limiter    *rate.Limiter
	lastSeq    uint64
	violations int
	desyncs    int
	excluded   bool
}

// Validator gatekeeps every inbound action before it reaches the
// engine. It is safe for concurrent use and never blocks the tick
// loop; all checks are O(actors) at worst.
type Validator struct {
	mu       sync.Mutex
	cfg      ValidatorConfig
	verifier TokenVerifier
	gates    map[string]*actorGate

	// onExclude fires once per actor when the violation limit is
	// crossed, with v.mu released.
	onExclude func(actorID string, lastReason RejectReason)
}

// NewValidator creates a validator. verifier may be nil when the
// transport layer has already authenticated the session.
func NewValidator(cfg ValidatorConfig, verifier TokenVerifier) *Validator {
	if cfg.InputsPerSecond <= 0 {
		cfg = DefaultValidatorConfig()
	}
	return &Validator{
		cfg:      cfg,
		verifier: verifier,
		gates:    make(map[string]*actorGate),
	}
}

// OnExclude registers the exclusion callback. Must be set before the
// first Validate call.
func (v *Validator) OnExclude(fn func(actorID string, lastReason RejectReason)) {
	v.onExclude = fn
}

// Excluded reports whether an actor has been excluded this match.
func (v *Validator) Excluded(actorID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	g, ok := v.gates[actorID]
	return ok && g.excluded
}

// Violations returns the actor's current violation count.
func (v *Validator) Violations(actorID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if g, ok := v.gates[actorID]; ok {
		return g.violations
	}
	return 0
}

// Desyncs returns how many state-hash mismatches the actor has
// produced.
func (v *Validator) Desyncs(actorID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if g, ok := v.gates[actorID]; ok {
		return g.desyncs
	}
	return 0
}

// Validate screens one input against the committed state. Checks run
// in a fixed order: exclusion, token, rate limit, sequence,
// preconditions, plausibility bounds, then the optional state-hash
// consistency signal. recentHashes holds the broadcast hashes for the
// current tick window, newest last; a client echoing any of them is
// consistent, since the echo is always at least one tick behind the
// server.
func (v *Validator) Validate(state *MatchState, in InputEvent, recentHashes []uint64) Verdict {
	if state.Phase.Terminal() {
		return rejected(RejectMatchOver)
	}

	actor := state.ActorByID(in.ActorID)
	if actor == nil {
		return rejected(RejectUnknownActor)
	}
	// The state flag survives snapshot recovery; the gate flag does not.
	if actor.Excluded {
		return rejected(RejectExcluded)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	g := v.gate(in.ActorID)
	if g.excluded {
		return rejected(RejectExcluded)
	}

	if v.verifier != nil && !v.verifier.Verify(in.ActorID, in.Token) {
		return v.flag(in.ActorID, g, RejectBadToken)
	}

	// Transient backpressure: does not feed the violation counter.
	if !g.limiter.Allow() {
		return rejected(RejectRateLimited)
	}

	if in.Sequence <= g.lastSeq {
		return v.flag(in.ActorID, g, RejectStaleSequence)
	}

	if reason := v.checkAction(state, actor, in); reason != RejectNone {
		return v.flag(in.ActorID, g, reason)
	}

	// Desync signal: recorded, optionally counted, never an automatic
	// rejection on its own.
	if in.StateHash != 0 && len(recentHashes) > 0 && !hashInWindow(in.StateHash, recentHashes) {
		g.desyncs++
		if v.cfg.DesyncCountsAsViolation && v.escalate(in.ActorID, g, RejectDesync) {
			return rejected(RejectExcluded)
		}
	}

	g.lastSeq = in.Sequence
	return accepted()
}

// checkAction enumerates per-variant preconditions and plausibility
// bounds. The closed ActionType set keeps this exhaustive.
func (v *Validator) checkAction(state *MatchState, actor *Actor, in InputEvent) RejectReason {
	switch in.Action {
	case ActionMove:
		if in.Move == nil {
			return RejectMalformed
		}
		return checkDirection(in.Move.DirX, in.Move.DirY)

	case ActionSprint:
		if in.Sprint == nil {
			return RejectMalformed
		}
		if actor.Stamina <= 0 {
			return RejectPrecondition
		}
		return checkDirection(in.Sprint.DirX, in.Sprint.DirY)

	case ActionPass:
		if in.Pass == nil {
			return RejectMalformed
		}
		if !actor.HasBall {
			return RejectPrecondition
		}
		target := state.ActorByID(in.Pass.TargetID)
		if target == nil || target.Team != actor.Team || target.ID == actor.ID {
			return RejectPrecondition
		}
		if in.Pass.Power <= 0 || in.Pass.Power > 1 || math.IsNaN(in.Pass.Power) {
			return RejectOutOfRange
		}
		return RejectNone

	case ActionShoot:
		if in.Shoot == nil {
			return RejectMalformed
		}
		if !actor.HasBall {
			return RejectPrecondition
		}
		if in.Shoot.Power <= 0 || in.Shoot.Power > 1 || math.IsNaN(in.Shoot.Power) {
			return RejectOutOfRange
		}
		if math.Abs(in.Shoot.Angle) > v.cfg.MaxShotAngle || math.IsNaN(in.Shoot.Angle) {
			return RejectOutOfRange
		}
		return RejectNone

	case ActionTackle:
		if in.Tackle == nil {
			return RejectMalformed
		}
		possessor := state.Possessor()
		if possessor == nil || possessor.Team == actor.Team {
			return RejectPrecondition
		}
		if in.Tackle.TargetID != possessor.ID {
			return RejectPrecondition
		}
		dx, dy := possessor.X-actor.X, possessor.Y-actor.Y
		if math.Hypot(dx, dy) > v.cfg.TackleRadius {
			return RejectPrecondition
		}
		return RejectNone

	default:
		return RejectMalformed
	}
}

func hashInWindow(hash uint64, recent []uint64) bool {
	// Newest hashes sit at the tail; honest echoes are usually only a
	// tick or two behind.
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i] == hash {
			return true
		}
	}
	return false
}

func checkDirection(dx, dy float64) RejectReason {
	if math.IsNaN(dx) || math.IsNaN(dy) || math.IsInf(dx, 0) || math.IsInf(dy, 0) {
		return RejectOutOfRange
	}
	if dx == 0 && dy == 0 {
		return RejectOutOfRange
	}
	return RejectNone
}

// flag records an integrity violation and returns the rejection,
// escalating to exclusion at the configured threshold.
func (v *Validator) flag(actorID string, g *actorGate, reason RejectReason) Verdict {
	v.escalate(actorID, g, reason)
	return rejected(reason)
}

// escalate bumps the violation counter; crossing the limit excludes
// the actor for the remainder of the match. Reports whether the actor
// was excluded by this call. Caller holds v.mu.
func (v *Validator) escalate(actorID string, g *actorGate, reason RejectReason) bool {
	g.violations++
	if g.violations >= v.cfg.ViolationLimit && !g.excluded {
		g.excluded = true
		if v.onExclude != nil {
			// Callback runs without v.mu so it may append events.
			fn := v.onExclude
			v.mu.Unlock()
			fn(actorID, reason)
			v.mu.Lock()
		}
		return true
	}
	return false
}

// gate returns or creates the per-actor state. Caller holds v.mu.
func (v *Validator) gate(actorID string) *actorGate {
	if g, ok := v.gates[actorID]; ok {
		return g
	}
	g := &actorGate{
		limiter: rate.NewLimiter(rate.Limit(v.cfg.InputsPerSecond), v.cfg.Burst),
	}
	v.gates[actorID] = g
	return g
}

// sequences captures per-actor last-accepted sequence numbers for the
// recovery snapshot, so a resumed match keeps rejecting replays.
func (v *Validator) sequences() map[string]uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]uint64, len(v.gates))
	for id, g := range v.gates {
		out[id] = g.lastSeq
	}
	return out
}

// restoreSequences seeds per-actor sequence floors after recovery.
func (v *Validator) restoreSequences(seqs map[string]uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, seq := range seqs {
		v.gate(id).lastSeq = seq
	}
}

// counters captures per-actor violation and desync counts for the
// recovery snapshot, so a restart never refills a cheater's budget.
func (v *Validator) counters() (violations, desyncs map[string]int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	violations = make(map[string]int, len(v.gates))
	desyncs = make(map[string]int, len(v.gates))
	for id, g := range v.gates {
		violations[id] = g.violations
		desyncs[id] = g.desyncs
	}
	return violations, desyncs
}

// restoreCounters seeds per-actor violation state after recovery. An
// actor already over the limit stays excluded without re-firing the
// exclusion callback.
func (v *Validator) restoreCounters(violations, desyncs map[string]int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, n := range violations {
		g := v.gate(id)
		g.violations = n
		if n >= v.cfg.ViolationLimit {
			g.excluded = true
		}
	}
	for id, n := range desyncs {
		v.gate(id).desyncs = n
	}
}
