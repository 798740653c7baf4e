package sim

import (
	"log"
	"math"
)

// step advances the state exactly one tick. Caller holds e.mu. Inputs
// were validated against a committed snapshot; anything invalidated by
// intervening ticks is dropped silently (logged), never fatal.
func (e *Engine) step(inputs []InputEvent) {
	if e.state.Phase.Terminal() {
		return
	}

	prevScore := e.state.Score
	e.state.Tick++
	e.advancePhase()
	if e.state.Phase.Terminal() {
		return
	}

	dt := 1.0 / float64(e.cfg.TickRate)

	for _, in := range inputs {
		e.applyInput(in)
	}

	e.integrateActors(dt)
	e.moveBall(dt)
	e.resolvePossession()

	if err := e.state.checkInvariants(prevScore); err != nil {
		e.fatal(err)
	}
}

// advancePhase drives the tick-only phase machine:
// Warmup -> FirstHalf -> HalfBreak -> SecondHalf -> Finished.
func (e *Engine) advancePhase() {
	warmupEnd := e.cfg.WarmupTicks
	halfEnd := warmupEnd + e.cfg.HalfTicks
	breakEnd := halfEnd + e.cfg.HalfBreakTicks
	fullEnd := breakEnd + e.cfg.HalfTicks

	switch e.state.Tick {
	case warmupEnd:
		e.state.Phase = PhaseFirstHalf
		e.kickoff(e.kickoffTeam)
		e.phaseEvent()
	case halfEnd:
		e.state.Phase = PhaseHalfBreak
		e.resetPositions()
		e.clearPossession()
		e.phaseEvent()
	case breakEnd:
		e.state.Phase = PhaseSecondHalf
		e.kickoff(e.kickoffTeam.Opponent())
		e.phaseEvent()
	case fullEnd:
		e.state.Phase = PhaseFinished
		e.eventLog.Append(DomainEvent{
			Tick: e.state.Tick,
			Type: EventMatchFinished,
			Meta: map[string]string{MetaReason: "full_time"},
		})
	}
}

func (e *Engine) phaseEvent() {
	e.eventLog.Append(DomainEvent{
		Tick: e.state.Tick,
		Type: EventPhaseChange,
		Meta: map[string]string{MetaPhase: e.state.Phase.String()},
	})
}

// kickoff resets formations and hands possession to the given team's
// first non-excluded actor.
func (e *Engine) kickoff(team Team) {
	e.resetPositions()
	e.clearPossession()
	for i := range e.state.Actors {
		a := &e.state.Actors[i]
		if a.Team == team && !a.Excluded {
			a.HasBall = true
			e.state.Ball.PossessorID = a.ID
			e.state.Ball.LastTouchID = a.ID
			e.state.Ball.X, e.state.Ball.Y = a.X, a.Y
			e.state.Ball.VX, e.state.Ball.VY = 0, 0
			return
		}
	}
}

// resetPositions spreads each team across its own half.
func (e *Engine) resetPositions() {
	var perTeam [2]int
	for i := range e.state.Actors {
		perTeam[e.state.Actors[i].Team]++
	}
	var placed [2]int
	for i := range e.state.Actors {
		a := &e.state.Actors[i]
		placed[a.Team]++
		frac := float64(placed[a.Team]) / float64(perTeam[a.Team]+1)
		a.Y = e.cfg.FieldHeight * frac
		if a.Team == TeamHome {
			a.X = e.cfg.FieldWidth * 0.25
		} else {
			a.X = e.cfg.FieldWidth * 0.75
		}
		a.VX, a.VY = 0, 0
	}
	e.state.Ball.X = e.cfg.FieldWidth / 2
	e.state.Ball.Y = e.cfg.FieldHeight / 2
	e.state.Ball.VX, e.state.Ball.VY = 0, 0
}

func (e *Engine) clearPossession() {
	for i := range e.state.Actors {
		e.state.Actors[i].HasBall = false
	}
	e.state.Ball.PossessorID = ""
}

// applyInput mutates state for one accepted action. State may have
// moved on since validation, so preconditions are re-checked cheaply
// and stale actions dropped.
func (e *Engine) applyInput(in InputEvent) {
	actor := e.state.ActorByID(in.ActorID)
	if actor == nil || actor.Excluded {
		log.Printf("⚠️ match %s: dropping input from %s (%s): actor unavailable",
			e.state.MatchID, in.ActorID, in.Action)
		return
	}

	switch in.Action {
	case ActionMove:
		if in.Move != nil {
			e.steer(actor, in.Move.DirX, in.Move.DirY, e.cfg.MaxSpeed)
		}
	case ActionSprint:
		if in.Sprint != nil {
			speed := e.cfg.SprintSpeed
			if actor.Stamina <= 0 {
				speed = e.cfg.MaxSpeed
			}
			e.steer(actor, in.Sprint.DirX, in.Sprint.DirY, speed)
		}
	case ActionPass:
		if in.Pass != nil {
			e.applyPass(actor, in.Pass)
		}
	case ActionShoot:
		if in.Shoot != nil {
			e.applyShot(actor, in.Shoot)
		}
	case ActionTackle:
		if in.Tackle != nil {
			e.applyTackle(actor, in.Tackle)
		}
	}
}

// steer points the actor's velocity along the normalized direction
// with a hard speed cap.
func (e *Engine) steer(a *Actor, dx, dy, speed float64) {
	mag := math.Hypot(dx, dy)
	if mag == 0 {
		return
	}
	a.VX = dx / mag * speed
	a.VY = dy / mag * speed
}

func (e *Engine) applyPass(actor *Actor, p *PassParams) {
	if !actor.HasBall {
		log.Printf("⚠️ match %s: dropping stale pass from %s", e.state.MatchID, actor.ID)
		return
	}
	target := e.state.ActorByID(p.TargetID)
	if target == nil {
		log.Printf("⚠️ match %s: dropping pass from %s to unknown actor", e.state.MatchID, actor.ID)
		return
	}

	dx, dy := target.X-actor.X, target.Y-actor.Y
	mag := math.Hypot(dx, dy)
	if mag == 0 {
		mag = 1
	}
	speed := e.cfg.PassSpeed * p.Power

	actor.HasBall = false
	e.state.Ball.PossessorID = ""
	e.state.Ball.LastTouchID = actor.ID
	e.state.Ball.X, e.state.Ball.Y = actor.X, actor.Y
	e.state.Ball.VX = dx / mag * speed
	e.state.Ball.VY = dy / mag * speed

	e.eventLog.Append(DomainEvent{
		Tick:     e.state.Tick,
		Type:     EventPass,
		ActorID:  actor.ID,
		TargetID: target.ID,
	})
}

func (e *Engine) applyShot(actor *Actor, p *ShootParams) {
	if !actor.HasBall {
		log.Printf("⚠️ match %s: dropping stale shot from %s", e.state.MatchID, actor.ID)
		return
	}

	goalX := e.cfg.FieldWidth
	if actor.Team == TeamAway {
		goalX = 0
	}
	aim := math.Atan2(e.cfg.FieldHeight/2-actor.Y, goalX-actor.X)

	// Harder shots fly straighter: stochastic spread shrinks with power.
	spread := (e.shotRNG.Float64() - 0.5) * e.cfg.ShotMaxSpread * (1.5 - p.Power)
	angle := aim + p.Angle + spread
	speed := e.cfg.ShotSpeed * p.Power

	actor.HasBall = false
	e.state.Ball.PossessorID = ""
	e.state.Ball.LastTouchID = actor.ID
	e.state.Ball.X, e.state.Ball.Y = actor.X, actor.Y
	e.state.Ball.VX = math.Cos(angle) * speed
	e.state.Ball.VY = math.Sin(angle) * speed

	e.eventLog.Append(DomainEvent{
		Tick:    e.state.Tick,
		Type:    EventShot,
		ActorID: actor.ID,
	})
}

func (e *Engine) applyTackle(actor *Actor, p *TackleParams) {
	possessor := e.state.Possessor()
	if possessor == nil || possessor.ID != p.TargetID || possessor.Team == actor.Team {
		log.Printf("⚠️ match %s: dropping stale tackle from %s", e.state.MatchID, actor.ID)
		return
	}
	if math.Hypot(possessor.X-actor.X, possessor.Y-actor.Y) > e.cfg.Validator.TackleRadius {
		log.Printf("⚠️ match %s: dropping stale tackle from %s: out of range", e.state.MatchID, actor.ID)
		return
	}

	// Fresher legs win more duels.
	chance := e.cfg.TackleBaseChance + 0.3*(actor.Stamina-possessor.Stamina)/100
	chance = math.Max(0.05, math.Min(0.95, chance))

	if e.tackleRNG.Chance(chance) {
		possessor.HasBall = false
		actor.HasBall = true
		e.state.Ball.PossessorID = actor.ID
		e.state.Ball.LastTouchID = actor.ID
		e.eventLog.Append(DomainEvent{
			Tick:     e.state.Tick,
			Type:     EventTackle,
			ActorID:  actor.ID,
			TargetID: possessor.ID,
			Meta:     map[string]string{MetaOutcome: "won"},
		})
		e.eventLog.Append(DomainEvent{
			Tick:     e.state.Tick,
			Type:     EventPossession,
			ActorID:  actor.ID,
			TargetID: possessor.ID,
		})
		return
	}

	e.eventLog.Append(DomainEvent{
		Tick:     e.state.Tick,
		Type:     EventTackle,
		ActorID:  actor.ID,
		TargetID: possessor.ID,
		Meta:     map[string]string{MetaOutcome: "lost"},
	})
	if e.tackleRNG.Chance(e.cfg.TackleFoulChance) {
		e.eventLog.Append(DomainEvent{
			Tick:     e.state.Tick,
			Type:     EventFoul,
			ActorID:  actor.ID,
			TargetID: possessor.ID,
		})
	}
}

// integrateActors moves actors, applies coasting drag, clamps to the
// field and updates stamina (decays under exertion, regenerates when
// idle, clamped to [0,100]).
func (e *Engine) integrateActors(dt float64) {
	for i := range e.state.Actors {
		a := &e.state.Actors[i]
		if a.Excluded {
			continue
		}

		a.X += a.VX * dt
		a.Y += a.VY * dt
		a.X = clamp(a.X, 0, e.cfg.FieldWidth)
		a.Y = clamp(a.Y, 0, e.cfg.FieldHeight)

		speed := math.Hypot(a.VX, a.VY)
		switch {
		case speed > e.cfg.MaxSpeed+1:
			a.Stamina -= e.cfg.SprintDrainPerSec * dt
		case speed > 1:
			a.Stamina -= e.cfg.StaminaDrainPerSec * dt
		default:
			a.Stamina += e.cfg.StaminaRegenPerSec * dt
		}
		a.Stamina = clamp(a.Stamina, 0, 100)

		// Exhausted sprinters drop back to the walk cap.
		if a.Stamina == 0 && speed > e.cfg.MaxSpeed {
			scale := e.cfg.MaxSpeed / speed
			a.VX *= scale
			a.VY *= scale
		}

		drag := math.Pow(e.cfg.ActorDrag, dt)
		a.VX *= drag
		a.VY *= drag
	}
}

// moveBall integrates a loose ball with drag, bounces off side walls
// and resolves goal-line crossings. A possessed ball rides with its
// holder.
func (e *Engine) moveBall(dt float64) {
	ball := &e.state.Ball

	if p := e.state.Possessor(); p != nil {
		ball.X, ball.Y = p.X, p.Y
		ball.VX, ball.VY = p.VX, p.VY
		return
	}

	ball.X += ball.VX * dt
	ball.Y += ball.VY * dt

	drag := math.Pow(e.cfg.BallDrag, dt)
	ball.VX *= drag
	ball.VY *= drag

	// Side walls always bounce.
	if ball.Y < 0 {
		ball.Y = -ball.Y
		ball.VY = -ball.VY
	} else if ball.Y > e.cfg.FieldHeight {
		ball.Y = 2*e.cfg.FieldHeight - ball.Y
		ball.VY = -ball.VY
	}

	// Goal lines: score inside the mouth during live play, bounce
	// otherwise.
	if ball.X < 0 {
		if e.state.Phase.InProgress() && e.inGoalMouth(ball.Y) {
			e.scoreGoal(TeamAway)
			return
		}
		ball.X = -ball.X
		ball.VX = -ball.VX
	} else if ball.X > e.cfg.FieldWidth {
		if e.state.Phase.InProgress() && e.inGoalMouth(ball.Y) {
			e.scoreGoal(TeamHome)
			return
		}
		ball.X = 2*e.cfg.FieldWidth - ball.X
		ball.VX = -ball.VX
	}
}

func (e *Engine) inGoalMouth(y float64) bool {
	return math.Abs(y-e.cfg.FieldHeight/2) <= e.cfg.GoalWidth/2
}

// scoreGoal increments the scoring team, logs the goal (assist credit
// is attached by the event log), resets to center and hands kickoff to
// the conceding team.
func (e *Engine) scoreGoal(team Team) {
	e.state.Score[team]++

	e.eventLog.Append(DomainEvent{
		Tick:    e.state.Tick,
		Type:    EventGoal,
		ActorID: e.state.Ball.LastTouchID,
		Meta:    map[string]string{MetaTeam: team.String()},
	})
	log.Printf("⚽ match %s: %s scores (%d-%d)",
		e.state.MatchID, team, e.state.Score[TeamHome], e.state.Score[TeamAway])

	e.kickoff(team.Opponent())
}

// resolvePossession gives a loose ball to the closest actor inside the
// pickup radius. At most one actor gains it per tick, which keeps the
// one-possessor-per-team invariant structural.
func (e *Engine) resolvePossession() {
	ball := &e.state.Ball
	if ball.PossessorID != "" {
		return
	}

	// The releasing actor cannot re-trap a ball still flying faster
	// than any runner.
	inFlight := math.Hypot(ball.VX, ball.VY) > e.cfg.MaxSpeed

	best := -1
	bestDist := e.cfg.PossessRadius
	for i := range e.state.Actors {
		a := &e.state.Actors[i]
		if a.Excluded {
			continue
		}
		if inFlight && a.ID == ball.LastTouchID {
			continue
		}
		d := math.Hypot(a.X-ball.X, a.Y-ball.Y)
		if d <= bestDist {
			best = i
			bestDist = d
		}
	}
	if best < 0 {
		return
	}

	a := &e.state.Actors[best]
	a.HasBall = true
	ball.PossessorID = a.ID
	ball.LastTouchID = a.ID
	ball.VX, ball.VY = 0, 0

	e.eventLog.Append(DomainEvent{
		Tick:    e.state.Tick,
		Type:    EventPossession,
		ActorID: a.ID,
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
