// Package matchmaking holds the skill-indexed waiting pool that pairs
// opponents before a match is constructed.
package matchmaking

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "matchmaking_queue_depth",
		Help: "Actors currently waiting for an opponent",
	})

	pairingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchmaking_pairings_total",
		Help: "Successful opponent pairings",
	})

	timeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "matchmaking_timeouts_total",
		Help: "Queue entries expired by TTL",
	})

	timeInQueue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchmaking_time_in_queue_seconds",
		Help:    "Wait time until pairing",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// ErrAlreadyQueued is returned when an actor enqueues twice. Rating
// changes require Remove followed by a fresh Enqueue; entries are
// never mutated in place.
var ErrAlreadyQueued = errors.New("matchmaking: actor already queued")

// Config tunes the pairing search.
type Config struct {
	// InitialWindow is the starting acceptable rating distance; the
	// search widens by WindowIncrement up to MaxWindow before giving
	// up for this attempt.
	InitialWindow   int
	WindowIncrement int
	MaxWindow       int

	// TTL bounds how long an entry may wait before it is removed with
	// a timeout notification.
	TTL           time.Duration
	SweepInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		InitialWindow:   50,
		WindowIncrement: 50,
		MaxWindow:       300,
		TTL:             2 * time.Minute,
		SweepInterval:   5 * time.Second,
	}
}

// Entry is one waiting actor. Immutable once created.
type Entry struct {
	ActorID        string
	Rating         int
	EnqueuedAtTick uint64
	SessionHandle  string

	enqueuedAt time.Time
}

// MatchCreated is emitted once pairing succeeds, consumed by session
// and transport setup.
type MatchCreated struct {
	MatchID  string
	ActorIDs []string
	Seed     uint64
}

// Queue is the shared waiting pool. All enqueue/pair/remove operations
// run inside a single critical section so the same actor can never be
// paired twice.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	entries []Entry
	clock   uint64 // logical enqueue counter, the queue's tick

	onMatch   func(MatchCreated)
	onTimeout func(actorID string)

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewQueue creates an empty queue.
func NewQueue(cfg Config) *Queue {
	if cfg.InitialWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Queue{cfg: cfg, stopChan: make(chan struct{})}
}

// OnMatch registers the pairing consumer. Must be set before Enqueue.
func (q *Queue) OnMatch(fn func(MatchCreated)) { q.onMatch = fn }

// OnTimeout registers the TTL expiry consumer.
func (q *Queue) OnTimeout(fn func(actorID string)) { q.onTimeout = fn }

// Start launches the TTL sweeper.
func (q *Queue) Start() {
	go func() {
		ticker := time.NewTicker(q.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-q.stopChan:
				return
			case <-ticker.C:
				q.sweep(time.Now())
			}
		}
	}()
}

// Stop halts the sweeper.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopChan) })
}

// Enqueue adds an actor, then immediately attempts pairing. When a
// suitable opponent is already waiting the MatchCreated callback fires
// before Enqueue returns.
func (q *Queue) Enqueue(actorID string, rating int, sessionHandle string) error {
	q.mu.Lock()

	for i := range q.entries {
		if q.entries[i].ActorID == actorID {
			q.mu.Unlock()
			return ErrAlreadyQueued
		}
	}

	q.clock++
	q.entries = append(q.entries, Entry{
		ActorID:        actorID,
		Rating:         rating,
		EnqueuedAtTick: q.clock,
		SessionHandle:  sessionHandle,
		enqueuedAt:     time.Now(),
	})
	queueDepth.Set(float64(len(q.entries)))

	created, ok := q.pairLocked(actorID, rating)
	q.mu.Unlock()

	if ok {
		q.emitMatch(created)
	}
	return nil
}

// FindOpponent searches for an opponent for an already-queued actor
// and, on success, removes both entries and emits MatchCreated.
// Returns the opponent's actor id.
func (q *Queue) FindOpponent(actorID string, rating int) (string, bool) {
	q.mu.Lock()
	created, ok := q.pairLocked(actorID, rating)
	q.mu.Unlock()

	if !ok {
		return "", false
	}
	q.emitMatch(created)
	for _, id := range created.ActorIDs {
		if id != actorID {
			return id, true
		}
	}
	return "", false
}

// Remove drops an actor from the pool, e.g. on cancel or disconnect.
func (q *Queue) Remove(actorID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(actorID)
}

// Len returns the number of waiting actors.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// pairLocked runs the widening-window search and, on success, removes
// both actors as one atomic step. Caller holds q.mu.
func (q *Queue) pairLocked(actorID string, rating int) (MatchCreated, bool) {
	best := q.findCandidateLocked(actorID, rating)
	if best < 0 {
		return MatchCreated{}, false
	}

	opponent := q.entries[best]
	var self *Entry
	for i := range q.entries {
		if q.entries[i].ActorID == actorID {
			self = &q.entries[i]
			break
		}
	}

	timeInQueue.Observe(time.Since(opponent.enqueuedAt).Seconds())
	if self != nil {
		timeInQueue.Observe(time.Since(self.enqueuedAt).Seconds())
	}

	q.removeLocked(opponent.ActorID)
	q.removeLocked(actorID)
	pairingsTotal.Inc()
	queueDepth.Set(float64(len(q.entries)))

	return MatchCreated{
		MatchID:  uuid.NewString(),
		ActorIDs: []string{actorID, opponent.ActorID},
		Seed:     uint64(time.Now().UnixNano()),
	}, true
}

// findCandidateLocked picks the opponent index: rating window widening
// from InitialWindow to MaxWindow, then minimum rating distance, then
// earliest enqueue tick so the longest-waiting actor wins ties.
func (q *Queue) findCandidateLocked(actorID string, rating int) int {
	for window := q.cfg.InitialWindow; window <= q.cfg.MaxWindow; window += q.cfg.WindowIncrement {
		best := -1
		bestDist := window + 1
		for i := range q.entries {
			e := &q.entries[i]
			if e.ActorID == actorID {
				continue
			}
			dist := rating - e.Rating
			if dist < 0 {
				dist = -dist
			}
			if dist > window {
				continue
			}
			if best < 0 || dist < bestDist ||
				(dist == bestDist && e.EnqueuedAtTick < q.entries[best].EnqueuedAtTick) {
				best = i
				bestDist = dist
			}
		}
		if best >= 0 {
			return best
		}
	}
	return -1
}

// removeLocked deletes by actor id, preserving enqueue order.
func (q *Queue) removeLocked(actorID string) bool {
	for i := range q.entries {
		if q.entries[i].ActorID == actorID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			queueDepth.Set(float64(len(q.entries)))
			return true
		}
	}
	return false
}

// sweep expires entries past TTL and notifies them.
func (q *Queue) sweep(now time.Time) {
	q.mu.Lock()
	var expired []string
	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Sub(e.enqueuedAt) >= q.cfg.TTL {
			expired = append(expired, e.ActorID)
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	queueDepth.Set(float64(len(q.entries)))
	q.mu.Unlock()

	for _, id := range expired {
		timeoutsTotal.Inc()
		log.Printf("⌛ matchmaking: %s timed out waiting for an opponent", id)
		if q.onTimeout != nil {
			q.onTimeout(id)
		}
	}
}

func (q *Queue) emitMatch(created MatchCreated) {
	log.Printf("🤝 matchmaking: paired %v into match %s", created.ActorIDs, created.MatchID)
	if q.onMatch != nil {
		q.onMatch(created)
	}
}
