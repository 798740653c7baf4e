package sim

import (
	"hash/fnv"
	"math/rand/v2"
)

// Stream labels for every stochastic decision in the simulation.
// Each subsystem draws from its own stream so a change in one
// subsystem's call count never shifts another's sequence.
const (
	StreamTackle  = "tackle"
	StreamShot    = "shot"
	StreamKickoff = "kickoff"
)

// Stream is a deterministic random stream derived from the match seed
// and a subsystem label. It never touches wall-clock or hardware
// entropy, so two runs with the same (seed, label) produce identical
// sequences.
type Stream struct {
	label string
	src   *rand.PCG
	r     *rand.Rand
}

// NewStream derives a stream from the match seed and a label.
func NewStream(seed uint64, label string) *Stream {
	h := fnv.New64a()
	h.Write([]byte(label))
	src := rand.NewPCG(seed, h.Sum64())
	return &Stream{label: label, src: src, r: rand.New(src)}
}

// Label returns the stream's subsystem label.
func (s *Stream) Label() string { return s.label }

// Float64 returns the next value in [0, 1).
func (s *Stream) Float64() float64 { return s.r.Float64() }

// IntN returns the next value in [0, n).
func (s *Stream) IntN(n int) int { return s.r.IntN(n) }

// Chance returns true with probability p.
func (s *Stream) Chance(p float64) bool { return s.r.Float64() < p }

// State serializes the generator position so a resumed match continues
// the exact sequence an uninterrupted run would have produced.
func (s *Stream) State() []byte {
	b, err := s.src.MarshalBinary()
	if err != nil {
		// PCG marshaling cannot fail; guard against future changes.
		panic("sim: marshal rng state: " + err.Error())
	}
	return b
}

// Restore rewinds the generator to a previously captured position.
func (s *Stream) Restore(state []byte) error {
	return s.src.UnmarshalBinary(state)
}
