package matchmaking

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueueConfig() Config {
	return Config{
		InitialWindow:   50,
		WindowIncrement: 50,
		MaxWindow:       300,
		TTL:             time.Minute,
		SweepInterval:   time.Second,
	}
}

// TestEnqueuePairsWithinWindow verifies two compatible actors pair as
// soon as the second arrives
func TestEnqueuePairsWithinWindow(t *testing.T) {
	q := NewQueue(testQueueConfig())

	var created []MatchCreated
	q.OnMatch(func(m MatchCreated) { created = append(created, m) })

	require.NoError(t, q.Enqueue("alice", 1000, "s1"))
	assert.Empty(t, created, "lone actor must not pair")
	assert.Equal(t, 1, q.Len())

	require.NoError(t, q.Enqueue("bob", 1040, "s2"))
	require.Len(t, created, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, created[0].ActorIDs)
	assert.NotEmpty(t, created[0].MatchID)
	assert.NotZero(t, created[0].Seed)
	assert.Equal(t, 0, q.Len(), "both entries removed atomically")
}

// TestEnqueueDuplicate verifies re-enqueueing a waiting actor fails
func TestEnqueueDuplicate(t *testing.T) {
	q := NewQueue(testQueueConfig())

	require.NoError(t, q.Enqueue("alice", 1000, ""))
	err := q.Enqueue("alice", 1200, "")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, 1, q.Len())
}

// TestWindowWidening verifies the search widens up to MaxWindow and no
// further
func TestWindowWidening(t *testing.T) {
	q := NewQueue(testQueueConfig())

	var created []MatchCreated
	q.OnMatch(func(m MatchCreated) { created = append(created, m) })

	// Distance 250 needs the window widened past the initial 50.
	require.NoError(t, q.Enqueue("alice", 1000, ""))
	require.NoError(t, q.Enqueue("bob", 1250, ""))
	require.Len(t, created, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, created[0].ActorIDs)

	// Distance 400 exceeds MaxWindow: both wait.
	require.NoError(t, q.Enqueue("carol", 1400, ""))
	require.NoError(t, q.Enqueue("dave", 1800, ""))
	assert.Len(t, created, 1)
	assert.Equal(t, 2, q.Len())
}

// TestClosestRatingWins verifies minimum rating distance beats queue
// order
func TestClosestRatingWins(t *testing.T) {
	q := NewQueue(testQueueConfig())

	var created []MatchCreated
	q.OnMatch(func(m MatchCreated) { created = append(created, m) })

	// far waits longer but near is the closer opponent.
	require.NoError(t, q.Enqueue("far", 1040, ""))
	require.NoError(t, q.Enqueue("near", 1400, ""))
	require.NoError(t, q.Enqueue("joiner", 1410, ""))

	require.Len(t, created, 1)
	assert.ElementsMatch(t, []string{"joiner", "near"}, created[0].ActorIDs)
}

// TestTieBreakFavorsLongestWait verifies equal rating distance resolves
// to the earliest enqueue
func TestTieBreakFavorsLongestWait(t *testing.T) {
	q := NewQueue(testQueueConfig())

	var created []MatchCreated
	q.OnMatch(func(m MatchCreated) { created = append(created, m) })

	// 600 apart: the two waiters cannot pair with each other.
	require.NoError(t, q.Enqueue("first", 1000, ""))
	require.NoError(t, q.Enqueue("second", 1600, ""))
	require.Empty(t, created)

	// Equidistant from both (300 each): the longer wait wins.
	require.NoError(t, q.Enqueue("joiner", 1300, ""))
	require.Len(t, created, 1)
	assert.ElementsMatch(t, []string{"joiner", "first"}, created[0].ActorIDs)
	assert.Equal(t, 1, q.Len())
}

// TestRemove verifies cancellation
func TestRemove(t *testing.T) {
	q := NewQueue(testQueueConfig())

	require.NoError(t, q.Enqueue("alice", 1000, ""))
	assert.True(t, q.Remove("alice"))
	assert.False(t, q.Remove("alice"), "second remove is a no-op")
	assert.Equal(t, 0, q.Len())
}

// TestSweepExpiresByTTL verifies expired entries leave the pool with a
// timeout notification
func TestSweepExpiresByTTL(t *testing.T) {
	cfg := testQueueConfig()
	cfg.TTL = 10 * time.Millisecond
	q := NewQueue(cfg)

	var timedOut []string
	q.OnTimeout(func(actorID string) { timedOut = append(timedOut, actorID) })

	require.NoError(t, q.Enqueue("alice", 1000, ""))

	q.sweep(time.Now()) // too early
	assert.Empty(t, timedOut)
	assert.Equal(t, 1, q.Len())

	q.sweep(time.Now().Add(time.Second))
	assert.Equal(t, []string{"alice"}, timedOut)
	assert.Equal(t, 0, q.Len())
}

// TestConcurrentEnqueueNoDoublePairing floods the queue from many
// goroutines and verifies every actor is paired at most once
func TestConcurrentEnqueueNoDoublePairing(t *testing.T) {
	q := NewQueue(testQueueConfig())

	var mu sync.Mutex
	paired := make(map[string]int)
	q.OnMatch(func(m MatchCreated) {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range m.ActorIDs {
			paired[id]++
		}
	})

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, q.Enqueue(fmt.Sprintf("actor-%d", i), 1000, ""))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for id, count := range paired {
		assert.Equal(t, 1, count, "actor %s paired %d times", id, count)
	}
	assert.Equal(t, n, len(paired)+q.Len(), "every actor is either paired or still waiting")
}
