// Package match owns the set of live simulations: it turns pairings
// into engines, routes inputs, exports snapshots to the recovery
// store and surfaces final results.
package match

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"strikeball/internal/matchmaking"
	"strikeball/internal/sim"
	"strikeball/internal/store"
)

var (
	activeMatches = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "match_active_total",
		Help: "Currently running simulations",
	})

	inputVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "match_input_verdicts_total",
		Help: "Input validation outcomes",
	}, []string{"verdict"}) // bounded: "accepted" or a RejectReason

	exportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_snapshot_export_failures_total",
		Help: "Snapshot store writes that failed (retried next tick)",
	})

	exportDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_snapshot_export_dropped_total",
		Help: "Snapshot exports skipped because the export queue was full",
	})
)

// ErrMatchNotFound is returned for operations on unknown match ids.
var ErrMatchNotFound = errors.New("match: not found")

// ManagerConfig tunes the manager and the engines it constructs.
type ManagerConfig struct {
	Engine        sim.EngineConfig
	ExportTimeout time.Duration
	ExportQueue   int
}

// DefaultManagerConfig returns production defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Engine:        sim.DefaultEngineConfig(),
		ExportTimeout: 50 * time.Millisecond,
		ExportQueue:   1024,
	}
}

type exportJob struct {
	matchID string
	tick    uint64
	data    []byte
}

// Manager supervises live matches. Each match runs on its own tick
// goroutine; the manager only brokers access.
type Manager struct {
	mu       sync.RWMutex
	cfg      ManagerConfig
	store    store.SnapshotStore
	verifier sim.TokenVerifier
	matches  map[string]*sim.Engine

	onFinished func(sim.Result)

	exports  chan exportJob
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a manager exporting snapshots to st.
func NewManager(cfg ManagerConfig, st store.SnapshotStore, verifier sim.TokenVerifier) *Manager {
	if cfg.ExportQueue <= 0 {
		cfg = DefaultManagerConfig()
	}
	m := &Manager{
		cfg:      cfg,
		store:    st,
		verifier: verifier,
		matches:  make(map[string]*sim.Engine),
		exports:  make(chan exportJob, cfg.ExportQueue),
		stopChan: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.exportLoop()
	return m
}

// OnFinished registers the consumer of final match results (rating
// updates, persistence). Must be set before matches are created.
func (m *Manager) OnFinished(fn func(sim.Result)) { m.onFinished = fn }

// CreateMatch constructs and starts a simulation for a pairing. Actors
// alternate sides: even indexes home, odd indexes away.
func (m *Manager) CreateMatch(created matchmaking.MatchCreated) (*sim.Engine, error) {
	setups := make([]sim.ActorSetup, 0, len(created.ActorIDs))
	for i, id := range created.ActorIDs {
		setups = append(setups, sim.ActorSetup{
			ID:   id,
			Team: sim.Team(i % 2),
			Role: "field",
		})
	}

	engine := sim.NewEngine(created.MatchID, created.Seed, setups, m.cfg.Engine, m.verifier)
	m.adopt(engine)
	engine.Start()
	return engine, nil
}

// Resume rebuilds a match from the latest stored snapshot after a
// crash and restarts its tick loop.
func (m *Manager) Resume(ctx context.Context, matchID string) (*sim.Engine, error) {
	data, _, err := m.store.Get(ctx, matchID)
	if err != nil {
		return nil, err
	}
	snap, err := sim.DecodeSnapshot(data)
	if err != nil {
		return nil, err
	}

	engine, err := sim.NewEngineFromSnapshot(snap, m.cfg.Engine, m.verifier)
	if err != nil {
		return nil, err
	}
	m.adopt(engine)
	engine.Start()
	log.Printf("♻️ match %s resumed from tick %d", matchID, snap.State.Tick)
	return engine, nil
}

// adopt registers the engine and wires its callbacks.
func (m *Manager) adopt(engine *sim.Engine) {
	matchID := engine.MatchID()

	engine.OnSnapshot(func(snap *sim.Snapshot) { m.export(matchID, snap) })
	engine.OnFinished(func(res sim.Result) {
		m.mu.Lock()
		delete(m.matches, matchID)
		activeMatches.Set(float64(len(m.matches)))
		m.mu.Unlock()

		log.Printf("🏁 match %s finished %d-%d (%d events)",
			res.MatchID, res.FinalScore[0], res.FinalScore[1], len(res.Events))
		if m.onFinished != nil {
			m.onFinished(res)
		}
	})

	m.mu.Lock()
	m.matches[matchID] = engine
	activeMatches.Set(float64(len(m.matches)))
	m.mu.Unlock()
}

// SubmitInput routes a client action to its match. Returns immediately
// with the validation verdict.
func (m *Manager) SubmitInput(matchID string, in sim.InputEvent) (sim.Verdict, error) {
	engine, ok := m.engine(matchID)
	if !ok {
		return sim.Verdict{}, ErrMatchNotFound
	}
	verdict := engine.SubmitInput(in)
	if verdict.Accepted {
		inputVerdicts.WithLabelValues("accepted").Inc()
	} else {
		inputVerdicts.WithLabelValues(string(verdict.Reason)).Inc()
	}
	return verdict, nil
}

// Snapshot returns the latest committed snapshot for a match.
func (m *Manager) Snapshot(matchID string) (*sim.Snapshot, error) {
	engine, ok := m.engine(matchID)
	if !ok {
		return nil, ErrMatchNotFound
	}
	return engine.LatestSnapshot(), nil
}

// Terminate force-finishes a match (disconnect, operator abort).
func (m *Manager) Terminate(matchID, reason string) error {
	engine, ok := m.engine(matchID)
	if !ok {
		return ErrMatchNotFound
	}
	engine.Terminate(reason)
	return nil
}

// MatchIDs lists currently running matches.
func (m *Manager) MatchIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.matches))
	for id := range m.matches {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown terminates every live match and stops the exporter.
func (m *Manager) Shutdown() {
	for _, id := range m.MatchIDs() {
		_ = m.Terminate(id, "server_shutdown")
	}
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

func (m *Manager) engine(matchID string) (*sim.Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	engine, ok := m.matches[matchID]
	return engine, ok
}

// export hands a snapshot to the store worker without ever blocking
// the tick loop. A full queue drops this tick's export; the next tick
// retries with fresher state anyway.
func (m *Manager) export(matchID string, snap *sim.Snapshot) {
	data, err := snap.Encode()
	if err != nil {
		exportFailures.Inc()
		log.Printf("⚠️ match %s: snapshot encode failed: %v", matchID, err)
		return
	}
	select {
	case m.exports <- exportJob{matchID: matchID, tick: snap.State.Tick, data: data}:
	default:
		exportDropped.Inc()
	}
}

func (m *Manager) exportLoop() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopChan:
			// Drain what is queued so final snapshots land.
			for {
				select {
				case job := <-m.exports:
					m.put(job)
				default:
					return
				}
			}
		case job := <-m.exports:
			m.put(job)
		}
	}
}

// put writes one snapshot; failures are logged and absorbed, the
// simulation continues on in-memory state regardless.
func (m *Manager) put(job exportJob) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ExportTimeout)
	defer cancel()
	if err := m.store.Put(ctx, job.matchID, job.tick, job.data); err != nil {
		exportFailures.Inc()
		log.Printf("⚠️ match %s: snapshot export failed at tick %d: %v", job.matchID, job.tick, err)
	}
}
