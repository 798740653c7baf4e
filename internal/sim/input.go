package sim

// ActionType is the closed set of actor-submitted actions. Keeping the
// set closed lets the validator enumerate precondition checks per
// variant instead of probing an open payload dictionary.
type ActionType uint8

const (
	ActionUnknown ActionType = iota
	ActionMove
	ActionPass
	ActionShoot
	ActionTackle
	ActionSprint
)

// String returns a human-readable action name.
func (t ActionType) String() string {
	switch t {
	case ActionMove:
		return "move"
	case ActionPass:
		return "pass"
	case ActionShoot:
		return "shoot"
	case ActionTackle:
		return "tackle"
	case ActionSprint:
		return "sprint"
	default:
		return "unknown"
	}
}

// MoveParams steers an actor. The direction vector is normalized by
// the engine; magnitude carries no meaning.
type MoveParams struct {
	DirX float64 `json:"dirX"`
	DirY float64 `json:"dirY"`
}

// PassParams releases the ball toward a teammate.
type PassParams struct {
	TargetID string  `json:"targetId"`
	Power    float64 `json:"power"` // 0..1 fraction of max pass speed
}

// ShootParams releases the ball toward the opponent goal line.
type ShootParams struct {
	Angle float64 `json:"angle"` // radians, relative to straight-at-goal
	Power float64 `json:"power"` // 0..1 fraction of max shot speed
}

// TackleParams attempts to strip the ball from a nearby possessor.
type TackleParams struct {
	TargetID string `json:"targetId"`
}

// InputEvent is a single actor-submitted action. Exactly one params
// field matching Action is set; the rest stay nil.
type InputEvent struct {
	ActorID string     `json:"actorId"`
	Action  ActionType `json:"action"`

	Move   *MoveParams   `json:"move,omitempty"`
	Pass   *PassParams   `json:"pass,omitempty"`
	Shoot  *ShootParams  `json:"shoot,omitempty"`
	Tackle *TackleParams `json:"tackle,omitempty"`
	Sprint *MoveParams   `json:"sprint,omitempty"`

	// Sequence must be strictly increasing per actor. A stale value
	// marks a replayed or reordered event and is rejected.
	Sequence uint64 `json:"sequence"`

	// ClientTimestamp is informational only; the tick counter is the
	// sole authoritative time reference.
	ClientTimestamp int64 `json:"clientTimestamp"`

	// Token is the opaque session credential checked through the
	// injected TokenVerifier.
	Token string `json:"token,omitempty"`

	// StateHash optionally carries the client's predicted state hash
	// for the current tick window. Zero means not supplied. A mismatch
	// is recorded as a desync signal, not an automatic rejection.
	StateHash uint64 `json:"stateHash,omitempty"`
}
