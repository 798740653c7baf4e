package sim

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
)

// Phase is the match lifecycle state machine. Transitions are driven
// by tick count only; no external caller can set the phase directly.
type Phase uint8

const (
	PhaseWarmup Phase = iota
	PhaseFirstHalf
	PhaseHalfBreak
	PhaseSecondHalf
	PhaseFinished
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseFirstHalf:
		return "first_half"
	case PhaseHalfBreak:
		return "half_break"
	case PhaseSecondHalf:
		return "second_half"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// InProgress reports whether play is live (scoring allowed).
func (p Phase) InProgress() bool {
	return p == PhaseFirstHalf || p == PhaseSecondHalf
}

// Terminal reports whether the match has ended.
func (p Phase) Terminal() bool { return p == PhaseFinished }

// Team identifies one side of the match.
type Team uint8

const (
	TeamHome Team = 0
	TeamAway Team = 1
)

// Opponent returns the other side.
func (t Team) Opponent() Team { return 1 - t }

// String returns a human-readable team name.
func (t Team) String() string {
	if t == TeamHome {
		return "home"
	}
	return "away"
}

// Actor is one participant. Value type; the engine owns the canonical
// copies inside MatchState and mutates them only on its tick goroutine.
type Actor struct {
	ID       string  `json:"id"`
	Team     Team    `json:"team"`
	Role     string  `json:"role"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	VX       float64 `json:"vx"`
	VY       float64 `json:"vy"`
	Stamina  float64 `json:"stamina"` // 0..100
	HasBall  bool    `json:"hasBall"`
	Excluded bool    `json:"excluded"`
}

// Ball is the single contested object. PossessorID is empty when loose.
type Ball struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	VX          float64 `json:"vx"`
	VY          float64 `json:"vy"`
	PossessorID string  `json:"possessorId"`
	LastTouchID string  `json:"lastTouchId"`
}

// MatchState is the authoritative aggregate for one match. It is owned
// exclusively by the engine's tick goroutine; everything else reads
// committed snapshots.
type MatchState struct {
	MatchID string  `json:"matchId"`
	Seed    uint64  `json:"seed"`
	Tick    uint64  `json:"tick"`
	Phase   Phase   `json:"phase"`
	Score   [2]int  `json:"score"`
	Actors  []Actor `json:"actors"`
	Ball    Ball    `json:"ball"`
}

// ActorByID returns a pointer into the state's actor slice, or nil.
func (s *MatchState) ActorByID(id string) *Actor {
	for i := range s.Actors {
		if s.Actors[i].ID == id {
			return &s.Actors[i]
		}
	}
	return nil
}

// Possessor returns the actor currently holding the ball, or nil.
func (s *MatchState) Possessor() *Actor {
	if s.Ball.PossessorID == "" {
		return nil
	}
	return s.ActorByID(s.Ball.PossessorID)
}

// Hash computes a stable digest of the full state. Clients echo this
// back for desync detection; tests compare it across replay runs.
func (s *MatchState) Hash() uint64 {
	data, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	h.Write(data)
	return h.Sum64()
}

// checkInvariants returns an error describing the first violated
// engine invariant. A non-nil result means a bug, not bad input; the
// engine halts the match with a diagnostic dump when it fires.
func (s *MatchState) checkInvariants(prevScore [2]int) error {
	var holders [2]int
	for i := range s.Actors {
		a := &s.Actors[i]
		if a.HasBall {
			holders[a.Team]++
		}
		if a.Stamina < 0 || a.Stamina > 100 {
			return fmt.Errorf("actor %s stamina %.2f out of range", a.ID, a.Stamina)
		}
	}
	for team, n := range holders {
		if n > 1 {
			return fmt.Errorf("team %s has %d simultaneous possessors", Team(team), n)
		}
	}
	if s.Ball.PossessorID != "" {
		p := s.ActorByID(s.Ball.PossessorID)
		if p == nil {
			return fmt.Errorf("ball possessor %s not in match", s.Ball.PossessorID)
		}
		if !p.HasBall {
			return fmt.Errorf("possessor %s missing HasBall flag", p.ID)
		}
	}
	for team := range s.Score {
		if s.Score[team] < prevScore[team] {
			return fmt.Errorf("team %s score decreased %d -> %d", Team(team), prevScore[team], s.Score[team])
		}
	}
	return nil
}
