package sim

import (
	"testing"
	"time"
)

// testConfig shrinks the field and clock so matches complete in a few
// hundred synchronous ticks. The goal mouth spans the full line, so
// any crossing scores.
func testConfig() EngineConfig {
	cfg := DefaultEngineConfig()
	cfg.FieldWidth = 400
	cfg.FieldHeight = 300
	cfg.GoalWidth = 300
	cfg.WarmupTicks = 10
	cfg.HalfTicks = 200
	cfg.HalfBreakTicks = 10
	return cfg
}

func testActors() []ActorSetup {
	return []ActorSetup{
		{ID: "h1", Team: TeamHome, Role: "field"},
		{ID: "h2", Team: TeamHome, Role: "field"},
		{ID: "a1", Team: TeamAway, Role: "field"},
		{ID: "a2", Team: TeamAway, Role: "field"},
	}
}

// scriptedInputs returns a fixed per-tick input list. The script only
// depends on the tick number, so two replays feed identical inputs.
func scriptedInputs(tick uint64) []InputEvent {
	inputs := []InputEvent{
		{ActorID: "h1", Action: ActionMove, Move: &MoveParams{DirX: 1, DirY: 0.3}},
		{ActorID: "a1", Action: ActionMove, Move: &MoveParams{DirX: -1, DirY: -0.2}},
	}
	if tick%37 == 0 {
		inputs = append(inputs,
			InputEvent{ActorID: "h1", Action: ActionShoot, Shoot: &ShootParams{Power: 0.9}},
			InputEvent{ActorID: "a1", Action: ActionShoot, Shoot: &ShootParams{Power: 0.9}},
		)
	}
	if tick%23 == 0 {
		inputs = append(inputs,
			InputEvent{ActorID: "h2", Action: ActionTackle, Tackle: &TackleParams{TargetID: "a1"}},
			InputEvent{ActorID: "a2", Action: ActionTackle, Tackle: &TackleParams{TargetID: "h1"}},
		)
	}
	return inputs
}

// TestEngineDeterminism verifies two engines with the same seed and
// input script stay bit-identical tick for tick
func TestEngineDeterminism(t *testing.T) {
	cfg := testConfig()
	e1 := NewEngine("m1", 42, testActors(), cfg, nil)
	e2 := NewEngine("m1", 42, testActors(), cfg, nil)

	for tick := uint64(1); tick <= 420; tick++ {
		s1 := e1.Advance(scriptedInputs(tick))
		s2 := e2.Advance(scriptedInputs(tick))
		if s1.Hash != s2.Hash {
			t.Fatalf("state hash diverged at tick %d", tick)
		}
	}

	if e1.FatalErr() != nil {
		t.Fatalf("invariant violation during run: %v", e1.FatalErr())
	}
	if len(e1.EventLog().Events()) != len(e2.EventLog().Events()) {
		t.Error("event logs diverged")
	}
}

// TestEngineSeedDivergence verifies different seeds change stochastic
// outcomes over a full scripted match
func TestEngineSeedDivergence(t *testing.T) {
	cfg := testConfig()
	e1 := NewEngine("m1", 1, testActors(), cfg, nil)
	e2 := NewEngine("m1", 2, testActors(), cfg, nil)

	diverged := false
	for tick := uint64(1); tick <= 420; tick++ {
		s1 := e1.Advance(scriptedInputs(tick))
		s2 := e2.Advance(scriptedInputs(tick))
		if s1.Hash != s2.Hash {
			diverged = true
			break
		}
	}
	if !diverged {
		t.Error("seeds 1 and 2 produced identical runs")
	}
}

// TestPhaseMachine walks the full lifecycle on tick boundaries
func TestPhaseMachine(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 7, testActors(), cfg, nil)

	var result *Result
	e.OnFinished(func(r Result) { result = &r })

	checkpoints := map[uint64]Phase{
		5:   PhaseWarmup,
		10:  PhaseFirstHalf,
		210: PhaseHalfBreak,
		220: PhaseSecondHalf,
		420: PhaseFinished,
	}

	for tick := uint64(1); tick <= 420; tick++ {
		snap := e.Advance(nil)
		if want, ok := checkpoints[tick]; ok && snap.State.Phase != want {
			t.Fatalf("tick %d: expected phase %s, got %s", tick, want, snap.State.Phase)
		}
	}

	if !e.Finished() {
		t.Fatal("match should be finished")
	}
	if result == nil {
		t.Fatal("finished callback never fired")
	}
	if result.MatchID != "m1" {
		t.Errorf("result match ID %q", result.MatchID)
	}

	// Advancing a finished match is a no-op.
	snap := e.Advance(nil)
	if snap.State.Tick != 420 {
		t.Errorf("terminal state advanced to tick %d", snap.State.Tick)
	}

	events := e.EventLog().Events()
	last := events[len(events)-1]
	if last.Type != EventMatchFinished || last.Meta[MetaReason] != "full_time" {
		t.Errorf("expected full_time finish event, got %+v", last)
	}
}

// TestKickoffPossession verifies the first half starts with exactly
// one possessor on the kickoff side
func TestKickoffPossession(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 7, testActors(), cfg, nil)

	var snap *Snapshot
	for tick := uint64(1); tick <= cfg.WarmupTicks; tick++ {
		snap = e.Advance(nil)
	}

	p := snap.State.Possessor()
	if p == nil {
		t.Fatal("no possessor after kickoff")
	}
	holders := 0
	for _, a := range snap.State.Actors {
		if a.HasBall {
			holders++
		}
	}
	if holders != 1 {
		t.Fatalf("expected exactly 1 ball holder, got %d", holders)
	}
}

// TestGoalAndAssist drives a pass-then-shot build-up and checks the
// score, the goal event and its assist credit
func TestGoalAndAssist(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 7, testActors(), cfg, nil)

	var snap *Snapshot
	for tick := uint64(1); tick <= cfg.WarmupTicks; tick++ {
		snap = e.Advance(nil)
	}

	passer := snap.State.Possessor()
	if passer == nil {
		t.Fatal("no possessor after kickoff")
	}
	var receiverID string
	for _, a := range snap.State.Actors {
		if a.Team == passer.Team && a.ID != passer.ID {
			receiverID = a.ID
			break
		}
	}

	snap = e.Advance([]InputEvent{{
		ActorID: passer.ID,
		Action:  ActionPass,
		Pass:    &PassParams{TargetID: receiverID, Power: 0.6},
	}})

	// Let the ball travel to the receiver.
	for i := 0; i < 60 && snap.State.Ball.PossessorID != receiverID; i++ {
		snap = e.Advance(nil)
	}
	if snap.State.Ball.PossessorID != receiverID {
		t.Fatalf("pass never arrived; possessor %q", snap.State.Ball.PossessorID)
	}

	snap = e.Advance([]InputEvent{{
		ActorID: receiverID,
		Action:  ActionShoot,
		Shoot:   &ShootParams{Power: 1.0},
	}})

	scoringTeam := passer.Team
	for i := 0; i < 120 && snap.State.Score[scoringTeam] == 0; i++ {
		snap = e.Advance(nil)
	}
	if snap.State.Score[scoringTeam] != 1 {
		t.Fatalf("expected goal for %s, score %v", scoringTeam, snap.State.Score)
	}

	var goal *DomainEvent
	for _, ev := range e.EventLog().Events() {
		if ev.Type == EventGoal {
			g := ev
			goal = &g
		}
	}
	if goal == nil {
		t.Fatal("no goal event logged")
	}
	if goal.ActorID != receiverID {
		t.Errorf("goal credited to %q, want %q", goal.ActorID, receiverID)
	}
	if goal.Meta[MetaAssist] != passer.ID {
		t.Errorf("assist credited to %q, want %q", goal.Meta[MetaAssist], passer.ID)
	}
	if goal.Meta[MetaTeam] != scoringTeam.String() {
		t.Errorf("goal team %q, want %q", goal.Meta[MetaTeam], scoringTeam)
	}

	// Kickoff goes to the conceding side.
	p := snap.State.Possessor()
	if p == nil || p.Team != scoringTeam.Opponent() {
		t.Errorf("kickoff after goal should go to the conceding team")
	}
}

// TestExclusionFreezesActor verifies repeated violations exclude the
// actor, freeze them in place and log the event
func TestExclusionFreezesActor(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 7, testActors(), cfg, nil)

	// Pass attempts without possession: three integrity violations.
	for seq := uint64(1); seq <= 3; seq++ {
		e.SubmitInput(InputEvent{
			ActorID:  "h1",
			Action:   ActionPass,
			Pass:     &PassParams{TargetID: "h2", Power: 0.5},
			Sequence: seq,
		})
	}

	snap := e.Advance(nil)
	actor := snap.State.ActorByID("h1")
	if actor == nil || !actor.Excluded {
		t.Fatal("expected h1 excluded")
	}

	found := false
	for _, ev := range e.EventLog().Events() {
		if ev.Type == EventPlayerExcluded && ev.ActorID == "h1" {
			found = true
		}
	}
	if !found {
		t.Error("no exclusion event logged")
	}

	// Further inputs are refused at the gate.
	verdict := e.SubmitInput(InputEvent{
		ActorID:  "h1",
		Action:   ActionMove,
		Move:     &MoveParams{DirX: 1},
		Sequence: 10,
	})
	if verdict.Accepted || verdict.Reason != RejectExcluded {
		t.Errorf("expected excluded verdict, got %+v", verdict)
	}
}

// TestTerminate verifies forced termination finishes the match once
// and blocks later inputs
func TestTerminate(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 7, testActors(), cfg, nil)

	finished := 0
	e.OnFinished(func(Result) { finished++ })

	e.Advance(nil)
	e.Terminate("actor_disconnect")
	e.Terminate("actor_disconnect") // idempotent

	if !e.Finished() {
		t.Fatal("match should be finished")
	}
	if finished != 1 {
		t.Fatalf("finished callback fired %d times", finished)
	}

	verdict := e.SubmitInput(InputEvent{
		ActorID:  "h1",
		Action:   ActionMove,
		Move:     &MoveParams{DirX: 1},
		Sequence: 1,
	})
	if verdict.Reason != RejectMatchOver {
		t.Errorf("expected match_over, got %+v", verdict)
	}

	events := e.EventLog().Events()
	last := events[len(events)-1]
	if last.Type != EventMatchFinished || last.Meta[MetaReason] != "actor_disconnect" {
		t.Errorf("expected termination event, got %+v", last)
	}
}

// TestEngineStartStop verifies the real tick loop runs and stops
// without panics
func TestEngineStartStop(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 7, testActors(), cfg, nil)

	e.Start()
	time.Sleep(100 * time.Millisecond)
	e.Stop()
	e.Stop() // double stop must not panic

	if snap := e.LatestSnapshot(); snap.State.Tick == 0 {
		t.Error("tick loop never advanced")
	}
}

// TestStaminaBounds verifies stamina stays clamped over a long
// sprint-heavy run
func TestStaminaBounds(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 7, testActors(), cfg, nil)

	for tick := uint64(1); tick <= 400; tick++ {
		snap := e.Advance([]InputEvent{
			{ActorID: "h1", Action: ActionSprint, Sprint: &MoveParams{DirX: 1, DirY: 0.1}},
			{ActorID: "a1", Action: ActionSprint, Sprint: &MoveParams{DirX: -1, DirY: -0.1}},
		})
		for _, a := range snap.State.Actors {
			if a.Stamina < 0 || a.Stamina > 100 {
				t.Fatalf("tick %d: actor %s stamina %.2f out of range", tick, a.ID, a.Stamina)
			}
		}
	}
	if e.FatalErr() != nil {
		t.Fatalf("invariant violation: %v", e.FatalErr())
	}
}

// TestStaleHashEchoTolerated verifies a client echoing the hash of the
// last snapshot it received is never flagged: at 60 Hz the echo is
// always at least one tick behind the server, so the whole recent hash
// window counts as consistent. Only hashes older than the window are a
// desync signal.
func TestStaleHashEchoTolerated(t *testing.T) {
	e := NewEngine("m1", 42, testActors(), testConfig(), nil)

	seq := uint64(0)
	for i := 0; i < 3; i++ {
		echo := e.LatestSnapshot().Hash
		e.Advance(nil) // server moves ahead of the client's view

		seq++
		in := InputEvent{
			ActorID:   "h1",
			Action:    ActionMove,
			Move:      &MoveParams{DirX: 1, DirY: 0},
			Sequence:  seq,
			StateHash: echo,
		}
		if verdict := e.SubmitInput(in); !verdict.Accepted {
			t.Fatalf("stale echo %d rejected: %s", i, verdict.Reason)
		}
		e.Advance(nil)
	}

	if n := e.Validator().Desyncs("h1"); n != 0 {
		t.Fatalf("honest echoes recorded as desyncs: %d", n)
	}
	if n := e.Validator().Violations("h1"); n != 0 {
		t.Fatalf("honest echoes counted as violations: %d", n)
	}
	if e.Validator().Excluded("h1") {
		t.Fatal("honest client excluded")
	}

	// A hash from before the whole window is a genuine desync signal,
	// recorded without rejecting the input itself.
	ancient := e.LatestSnapshot().Hash
	for i := 0; i < DefaultHashWindowTicks+5; i++ {
		e.Advance(nil)
	}
	seq++
	in := InputEvent{
		ActorID:   "h1",
		Action:    ActionMove,
		Move:      &MoveParams{DirX: 1, DirY: 0},
		Sequence:  seq,
		StateHash: ancient,
	}
	if verdict := e.SubmitInput(in); !verdict.Accepted {
		t.Fatalf("out-of-window hash must not reject on its own: %s", verdict.Reason)
	}
	if n := e.Validator().Desyncs("h1"); n != 1 {
		t.Fatalf("expected 1 desync recorded, got %d", n)
	}
}
