// Package comm wires the Topology Engine, Network Simulator, Message
// Queue, Delivery Engine, Router, Listener Registry, Retry Policy, Voting
// Coordinator and Metrics Aggregator into one facade, per SPEC_FULL.md §2
// (system overview / data flow) and §4. Grounded on the teacher's
// `NewMessagingHub(*HubConfig)` shape (internal/messaging/hub_test.go): a
// single constructor taking an optional, defaultable Config and exposing
// every subsystem operation as a method on one Engine.
package comm

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"dev.swarmcore.comm/internal/agent"
	"dev.swarmcore.comm/internal/delivery"
	"dev.swarmcore.comm/internal/fanout"
	"dev.swarmcore.comm/internal/metrics"
	"dev.swarmcore.comm/internal/msg"
	"dev.swarmcore.comm/internal/netsim"
	"dev.swarmcore.comm/internal/queue"
	"dev.swarmcore.comm/internal/retry"
	"dev.swarmcore.comm/internal/router"
	"dev.swarmcore.comm/internal/topology"
	"dev.swarmcore.comm/internal/voting"
)

// Config configures an Engine. A zero-value Config works: New fills unset
// fields from DefaultConfig (see New for the exceptions), mirroring the
// teacher's DefaultHubConfig().
type Config struct {
	Netsim                 netsim.Config
	RandSource             netsim.RandSource
	HistoryCapacity        int
	RouterMaxHops          int
	RetryDefaultMaxRetries int
	RetryBackoffBase       time.Duration
	Logger                 *logrus.Logger
	MetricsRegisterer      prometheus.Registerer
	Clock                  func() time.Time
}

// DefaultConfig returns the Realistic network preset with every other
// field at its package default.
func DefaultConfig() Config {
	return Config{
		Netsim:                 netsim.RealisticPreset(),
		HistoryCapacity:        delivery.DefaultHistoryCapacity,
		RouterMaxHops:          router.DefaultMaxHops,
		RetryDefaultMaxRetries: retry.DefaultMaxRetries,
		RetryBackoffBase:       retry.DefaultBackoffBase,
	}
}

// Engine is the single entry point collaborators use to drive the
// communication core: submit agent positions and outgoing messages, read
// derived state (neighbors, paths, partitions, metrics, vote results).
type Engine struct {
	sim       *netsim.Simulator
	topo      *topology.Engine
	pending   *queue.Queue
	listeners *fanout.Registry
	delivery  *delivery.Engine
	router    *router.Router
	retry     *retry.Policy
	voting    *voting.Coordinator
	metrics   *metrics.Aggregator

	posMu     sync.RWMutex
	positions map[int64]agent.Position
}

// New builds an Engine from cfg. Unset fields fall back to DefaultConfig's
// values field-by-field, so a caller can override just RouterMaxHops (say)
// without having to specify everything else. RetryDefaultMaxRetries is
// replaced only when negative: zero is kept and means no retries.
// RandSource and MetricsRegisterer stay nil when unset.
func New(cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.Netsim == (netsim.Config{}) {
		cfg.Netsim = defaults.Netsim
	}
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = defaults.HistoryCapacity
	}
	if cfg.RouterMaxHops <= 0 {
		cfg.RouterMaxHops = defaults.RouterMaxHops
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = defaults.RetryBackoffBase
	}
	if cfg.RetryDefaultMaxRetries < 0 {
		cfg.RetryDefaultMaxRetries = defaults.RetryDefaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	e := &Engine{
		positions: make(map[int64]agent.Position),
	}

	e.sim = netsim.New(cfg.Netsim, cfg.RandSource)
	e.topo = topology.New(e.sim)
	e.pending = queue.New(cfg.Clock)
	e.listeners = fanout.New(cfg.Logger)
	e.delivery = delivery.New(
		delivery.Config{HistoryCapacity: cfg.HistoryCapacity},
		e.sim, e.topo, e.pending, e.listeners, e.lookupPosition, cfg.Logger,
	)
	e.router = router.New(e.topo, cfg.RouterMaxHops)

	retryPolicy, err := retry.New(e.SendMessage, cfg.RetryDefaultMaxRetries, cfg.RetryBackoffBase)
	if err != nil {
		// Only reachable if cfg.RetryDefaultMaxRetries is negative, which is
		// clamped above; defensive fallback keeps New infallible.
		retryPolicy, _ = retry.New(e.SendMessage, retry.DefaultMaxRetries, retry.DefaultBackoffBase)
	}
	e.retry = retryPolicy

	e.voting = voting.New(e.SendMessage, cfg.Clock)
	e.metrics = metrics.New(e.delivery, e.delivery, e.pending, e.configuredFailureRate, cfg.MetricsRegisterer, cfg.Clock)

	return e
}

func (e *Engine) configuredFailureRate() float64 {
	return e.sim.Config().FailureRate
}

func (e *Engine) lookupPosition(agentID int64) (agent.Position, bool) {
	e.posMu.RLock()
	defer e.posMu.RUnlock()
	p, ok := e.positions[agentID]
	return p, ok
}

// UpdateTopology recomputes the communication graph from the given agent
// states and records their positions for subsequent delivery lookups.
func (e *Engine) UpdateTopology(ctx context.Context, agents []agent.State) error {
	fresh := make(map[int64]agent.Position, len(agents))
	for _, a := range agents {
		fresh[a.AgentID] = a.Position
	}

	if err := e.topo.UpdateTopology(ctx, agents); err != nil {
		return err
	}

	e.posMu.Lock()
	e.positions = fresh
	e.posMu.Unlock()
	return nil
}

// Neighbors returns the current NeighborInformation for agentID.
func (e *Engine) Neighbors(agentID int64) agent.Information {
	return e.topo.Neighbors(agentID)
}

// Topology returns a snapshot of the whole topology table.
func (e *Engine) Topology() map[int64]agent.Information {
	return e.topo.Snapshot()
}

// SendMessage is the core submit path: enqueue om for later delivery.
// Returns false if om is already expired.
func (e *Engine) SendMessage(om *msg.OutgoingMessage) bool {
	return e.pending.Enqueue(om)
}

// SendWithRetry retries SendMessage up to maxRetries+1 times with
// exponential backoff, per spec.md §4.7.
func (e *Engine) SendWithRetry(ctx context.Context, om *msg.OutgoingMessage, maxRetries int) bool {
	return e.retry.SendWithRetry(ctx, om, maxRetries)
}

// SendCritical retries SendMessage with the Engine's configured default
// bound.
func (e *Engine) SendCritical(ctx context.Context, om *msg.OutgoingMessage) bool {
	return e.retry.SendCritical(ctx, om)
}

// ProcessMessages drains the pending queue, attempting delivery of every
// message until empty or ctx is cancelled.
func (e *Engine) ProcessMessages(ctx context.Context) {
	e.delivery.ProcessMessages(ctx)
}

// RegisterListener installs l as agentID's delivery listener, replacing
// any prior registration.
func (e *Engine) RegisterListener(agentID int64, l fanout.Listener) {
	e.listeners.Register(agentID, l)
}

// UnregisterListener removes agentID's delivery listener, if any.
func (e *Engine) UnregisterListener(agentID int64) {
	e.listeners.Unregister(agentID)
}

// History returns a snapshot of delivered messages, oldest first.
func (e *Engine) History() []*msg.IncomingMessage {
	return e.delivery.History()
}

// ActiveConnections returns a snapshot of every connection with at least
// one delivered message.
func (e *Engine) ActiveConnections() []agent.ConnectionInfo {
	return e.delivery.ActiveConnections()
}

// Path returns the ordered relay list from senderID to receiverID, nil if
// unreachable within the configured maxHops.
func (e *Engine) Path(senderID, receiverID int64) []int64 {
	return e.router.Path(senderID, receiverID)
}

// ReachableAgents returns every agent reachable from source within
// maxHops.
func (e *Engine) ReachableAgents(source int64, maxHops int) []int64 {
	return e.router.ReachableAgents(source, maxHops)
}

// Partitions returns the current set of maximal pairwise-reachable agent
// groups.
func (e *Engine) Partitions() [][]int64 {
	return e.router.Partitions()
}

// PartitionForAgent returns the partition containing agentID, or nil if
// unknown.
func (e *Engine) PartitionForAgent(agentID int64) []int64 {
	return e.router.PartitionForAgent(agentID)
}

// StartVote registers and broadcasts a new vote proposal, per
// spec.md §4.8.
func (e *Engine) StartVote(initiatorID int64, payload map[string]any, expectedVoters []int64) error {
	return e.voting.StartVote(initiatorID, payload, expectedVoters)
}

// RecordResponse stores voterID's response to a live proposal.
func (e *Engine) RecordResponse(voterID int64, payload map[string]any) error {
	return e.voting.RecordResponse(voterID, payload)
}

// GetVoteResult returns an immutable snapshot of a proposal's state.
func (e *Engine) GetVoteResult(proposalID string) (*voting.Result, bool) {
	return e.voting.GetVoteResult(proposalID)
}

// CleanupExpiredVotes evicts every expired vote proposal and returns the
// count removed.
func (e *Engine) CleanupExpiredVotes() int {
	return e.voting.CleanupExpiredVotes()
}

// MetricsSnapshot computes a fresh derived-metrics snapshot.
func (e *Engine) MetricsSnapshot() metrics.Snapshot {
	return e.metrics.Snapshot()
}

// QueueStats returns the pending queue's lifetime counters.
func (e *Engine) QueueStats() queue.Stats {
	return e.pending.Stats()
}

// QueueHealthy reports whether the pending queue currently meets the
// §4.3 health rule.
func (e *Engine) QueueHealthy() bool {
	return e.pending.Healthy()
}
