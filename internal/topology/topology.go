// Package topology recomputes the swarm's communication graph from agent
// positions each tick, per SPEC_FULL.md §4.1.
package topology

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dev.swarmcore.comm/internal/agent"
	"dev.swarmcore.comm/internal/netsim"
)

// DefaultCommunicationRange is used for any agent.State whose
// CommunicationRange is zero.
const DefaultCommunicationRange = 100.0

// Engine owns the current Topology and recomputes it wholesale on every
// UpdateTopology call. Readers see a consistent snapshot map; individual
// entries are replaced atomically from the consumer's perspective.
type Engine struct {
	sim *netsim.Simulator

	mu      sync.RWMutex
	table   map[int64]agent.Information
	version int64
}

// New creates a topology Engine backed by the given link simulator.
func New(sim *netsim.Simulator) *Engine {
	return &Engine{
		sim:   sim,
		table: make(map[int64]agent.Information),
	}
}

// effectiveRange returns the agent's configured range, or the simulator's
// configured range if the agent didn't specify one.
func (e *Engine) effectiveRange(a agent.State) float64 {
	if a.CommunicationRange > 0 {
		return a.CommunicationRange
	}
	if r := e.sim.Config().Range; r > 0 {
		return r
	}
	return DefaultCommunicationRange
}

// UpdateTopology recomputes the whole graph from the given snapshot of
// agent states. It is O(n^2): for every ordered pair (i, j), i != j, the
// link simulator is consulted for range/signal; agents with no entry in
// `agents` are simply absent from the pairwise scan and end up with an
// empty (not missing) NeighborInformation.
//
// Rows are computed concurrently with errgroup since each row only reads
// the shared snapshot and writes its own result — no cross-row mutable
// state, so no lock is needed inside the fan-out.
func (e *Engine) UpdateTopology(ctx context.Context, agents []agent.State) error {
	now := time.Now()
	results := make([]agent.Information, len(agents))

	g, _ := errgroup.WithContext(ctx)
	for idx := range agents {
		idx := idx
		g.Go(func() error {
			self := agents[idx]
			neighbors := make([]agent.NeighborAgent, 0, len(agents)-1)
			var strengthSum float64
			for j, other := range agents {
				if j == idx || other.AgentID == self.AgentID {
					continue
				}
				d := self.Position.Distance(other.Position)
				r := e.effectiveRange(self)
				if d > r {
					continue
				}
				s := e.sim.SignalStrength(d)
				canComm := e.sim.CanCommunicate(d, s)
				neighbors = append(neighbors, agent.NeighborAgent{
					NeighborID:     other.AgentID,
					Distance:       d,
					SignalStrength: s,
					CanCommunicate: canComm,
					LastContact:    now,
				})
				strengthSum += s
			}
			avg := 0.0
			if len(neighbors) > 0 {
				avg = strengthSum / float64(len(neighbors))
			}
			quality := minFloat(1, float64(len(neighbors))/8) * avg
			results[idx] = agent.Information{
				AgentID:               self.AgentID,
				Neighbors:             neighbors,
				TopologyUpdateTime:    now,
				NeighborCount:         len(neighbors),
				AverageSignalStrength: avg,
				NetworkQuality:        quality,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fresh := make(map[int64]agent.Information, len(results))
	for _, info := range results {
		fresh[info.AgentID] = info
	}

	e.mu.Lock()
	e.table = fresh
	e.version++
	e.mu.Unlock()
	return nil
}

// Version returns a counter incremented on every successful UpdateTopology
// call. Routers use it to invalidate cached paths (SPEC_FULL.md §9 / §10.3).
func (e *Engine) Version() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.version
}

// Neighbors returns the NeighborInformation for the given agent, or a
// zero-value Information with an empty Neighbors slice if the agent was
// unknown at the last UpdateTopology.
func (e *Engine) Neighbors(agentID int64) agent.Information {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if info, ok := e.table[agentID]; ok {
		return info
	}
	return agent.Information{AgentID: agentID, Neighbors: nil}
}

// Snapshot returns a copy of the whole topology table, safe for the
// caller to range over without holding any lock.
func (e *Engine) Snapshot() map[int64]agent.Information {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[int64]agent.Information, len(e.table))
	for k, v := range e.table {
		out[k] = v
	}
	return out
}

// KnownAgents returns the ids of every agent present in the current
// topology table.
func (e *Engine) KnownAgents() []int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]int64, 0, len(e.table))
	for id := range e.table {
		ids = append(ids, id)
	}
	return ids
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
