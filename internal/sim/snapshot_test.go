package sim

import "testing"

// TestSnapshotRoundTrip verifies Encode/Decode preserves everything a
// resume needs
func TestSnapshotRoundTrip(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 42, testActors(), cfg, nil)
	for tick := uint64(1); tick <= 50; tick++ {
		e.Advance(scriptedInputs(tick))
	}

	snap := e.LatestSnapshot()
	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}

	if decoded.State.Tick != snap.State.Tick {
		t.Errorf("tick %d != %d", decoded.State.Tick, snap.State.Tick)
	}
	if decoded.Hash != snap.Hash {
		t.Errorf("hash mismatch after round trip")
	}
	if decoded.KickoffTeam != snap.KickoffTeam {
		t.Errorf("kickoff team lost")
	}
	if decoded.State.Hash() != snap.State.Hash() {
		t.Errorf("recomputed state hash differs")
	}
	if len(decoded.RNG) != len(snap.RNG) {
		t.Errorf("rng streams lost: %d != %d", len(decoded.RNG), len(snap.RNG))
	}
}

// TestResumeEquivalence verifies a match resumed from a snapshot
// replays bit-identically with an uninterrupted reference run
func TestResumeEquivalence(t *testing.T) {
	cfg := testConfig()

	// Reference: one engine runs the full script.
	ref := NewEngine("m1", 42, testActors(), cfg, nil)
	for tick := uint64(1); tick <= 400; tick++ {
		ref.Advance(scriptedInputs(tick))
	}

	// Interrupted: stop halfway, serialize, rebuild, continue.
	first := NewEngine("m1", 42, testActors(), cfg, nil)
	for tick := uint64(1); tick <= 200; tick++ {
		first.Advance(scriptedInputs(tick))
	}
	data, err := first.LatestSnapshot().Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	snap, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	resumed, err := NewEngineFromSnapshot(snap, cfg, nil)
	if err != nil {
		t.Fatalf("NewEngineFromSnapshot failed: %v", err)
	}

	for tick := uint64(201); tick <= 400; tick++ {
		got := resumed.Advance(scriptedInputs(tick))
		if got.State.Tick != tick {
			t.Fatalf("resumed engine at tick %d, expected %d", got.State.Tick, tick)
		}
	}

	refFinal := ref.LatestSnapshot()
	resFinal := resumed.LatestSnapshot()
	if refFinal.Hash != resFinal.Hash {
		t.Fatal("resumed run diverged from uninterrupted reference")
	}
	if refFinal.State.Score != resFinal.State.Score {
		t.Errorf("scores diverged: %v vs %v", refFinal.State.Score, resFinal.State.Score)
	}
}

// TestResumeKeepsSequenceFloors verifies replayed inputs stay rejected
// after recovery
func TestResumeKeepsSequenceFloors(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 42, testActors(), cfg, nil)

	in := InputEvent{ActorID: "h1", Action: ActionMove, Move: &MoveParams{DirX: 1}, Sequence: 9}
	if verdict := e.SubmitInput(in); !verdict.Accepted {
		t.Fatalf("setup input rejected: %s", verdict.Reason)
	}
	e.Advance(nil)

	snap, err := DecodeSnapshot(mustEncode(t, e.LatestSnapshot()))
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	resumed, err := NewEngineFromSnapshot(snap, cfg, nil)
	if err != nil {
		t.Fatalf("NewEngineFromSnapshot failed: %v", err)
	}

	if verdict := resumed.SubmitInput(in); verdict.Accepted || verdict.Reason != RejectStaleSequence {
		t.Fatalf("replay after resume should be stale, got %+v", verdict)
	}
	next := in
	next.Sequence = 10
	if verdict := resumed.SubmitInput(next); !verdict.Accepted {
		t.Fatalf("fresh sequence after resume rejected: %s", verdict.Reason)
	}
}

// TestResumeKeepsAssistWindow verifies assist attribution works across
// a restart
func TestResumeKeepsAssistWindow(t *testing.T) {
	cfg := testConfig()
	e := NewEngine("m1", 42, testActors(), cfg, nil)
	for tick := uint64(1); tick <= 20; tick++ {
		e.Advance(nil)
	}

	e.EventLog().Append(DomainEvent{Tick: 20, Type: EventPass, ActorID: "h1", TargetID: "h2"})
	e.Advance(nil) // commit the pass into the published snapshot

	snap, err := DecodeSnapshot(mustEncode(t, e.LatestSnapshot()))
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	resumed, err := NewEngineFromSnapshot(snap, cfg, nil)
	if err != nil {
		t.Fatalf("NewEngineFromSnapshot failed: %v", err)
	}

	resumed.EventLog().Append(DomainEvent{Tick: 40, Type: EventGoal, ActorID: "h2"})
	events := resumed.EventLog().Events()
	goal := events[len(events)-1]
	if goal.Meta[MetaAssist] != "h1" {
		t.Errorf("assist lost across restart: %q", goal.Meta[MetaAssist])
	}
}

// TestResumeKeepsViolationBudget verifies anti-cheat counters survive
// recovery: a restart never refills an offender's budget
func TestResumeKeepsViolationBudget(t *testing.T) {
	cfg := testConfig()
	cfg.Validator.ViolationLimit = 3
	cfg.Validator.DesyncCountsAsViolation = false
	e := NewEngine("m1", 42, testActors(), cfg, nil)
	e.Advance(nil)

	// Two precondition violations before the crash: shots without the
	// ball during warmup.
	bad := InputEvent{ActorID: "a2", Action: ActionShoot, Shoot: &ShootParams{Power: 0.5}}
	for seq := uint64(1); seq <= 2; seq++ {
		bad.Sequence = seq
		if verdict := e.SubmitInput(bad); verdict.Reason != RejectPrecondition {
			t.Fatalf("setup violation %d: %+v", seq, verdict)
		}
	}

	// One recorded desync: a legal move echoing a hash from nowhere.
	drifted := InputEvent{
		ActorID:   "a2",
		Action:    ActionMove,
		Move:      &MoveParams{DirX: 1},
		Sequence:  3,
		StateHash: 12345,
	}
	if verdict := e.SubmitInput(drifted); !verdict.Accepted {
		t.Fatalf("desynced move rejected: %s", verdict.Reason)
	}
	e.Advance(nil) // commit the counters into the published snapshot

	snap, err := DecodeSnapshot(mustEncode(t, e.LatestSnapshot()))
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	resumed, err := NewEngineFromSnapshot(snap, cfg, nil)
	if err != nil {
		t.Fatalf("NewEngineFromSnapshot failed: %v", err)
	}

	if n := resumed.Validator().Violations("a2"); n != 2 {
		t.Fatalf("violation budget reset by resume: %d", n)
	}
	if n := resumed.Validator().Desyncs("a2"); n != 1 {
		t.Fatalf("desync count reset by resume: %d", n)
	}

	// The third violation after the restart crosses the limit.
	bad.Sequence = 4
	if verdict := resumed.SubmitInput(bad); verdict.Reason != RejectPrecondition {
		t.Fatalf("third violation: %+v", verdict)
	}
	if !resumed.Validator().Excluded("a2") {
		t.Fatal("expected exclusion on the third violation after resume")
	}
	legal := InputEvent{ActorID: "a2", Action: ActionMove, Move: &MoveParams{DirX: 1}, Sequence: 5}
	if verdict := resumed.SubmitInput(legal); verdict.Reason != RejectExcluded {
		t.Fatalf("expected excluded, got %+v", verdict)
	}
}

func mustEncode(t *testing.T, snap *Snapshot) []byte {
	t.Helper()
	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}
