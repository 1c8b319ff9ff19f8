// Package delivery drains the pending Message Queue and simulates message
// delivery, recording a bounded history and fanning out to listeners, per
// SPEC_FULL.md §4.4. Its drain-loop and logging discipline is grounded on
// internal/background's worker pool (structured logrus fields, explicit
// context lifecycle) from the teacher repository.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"dev.swarmcore.comm/internal/agent"
	"dev.swarmcore.comm/internal/fanout"
	"dev.swarmcore.comm/internal/msg"
	"dev.swarmcore.comm/internal/netsim"
	"dev.swarmcore.comm/internal/queue"
	"dev.swarmcore.comm/internal/topology"
)

// DefaultHistoryCapacity is the default bound on stored IncomingMessages,
// per spec.md §3.
const DefaultHistoryCapacity = 1000

// PositionLookup resolves an agent's current position. The Delivery
// Engine never stores agent state itself; positions are supplied by
// whatever collaborator owns agent physics (spec.md §1).
type PositionLookup func(agentID int64) (agent.Position, bool)

// Config configures an Engine. Zero value uses DefaultHistoryCapacity.
type Config struct {
	HistoryCapacity int
}

// Engine is the production delivery pipeline: drains a queue.Queue,
// consults a netsim.Simulator for the link outcome, and on success
// records an IncomingMessage in history and dispatches it to the
// receiver's listener.
type Engine struct {
	cfg       Config
	sim       *netsim.Simulator
	topo      *topology.Engine
	pending   *queue.Queue
	listeners *fanout.Registry
	positions PositionLookup
	logger    *logrus.Logger

	historyMu sync.RWMutex
	history   []*msg.IncomingMessage

	connMu      sync.RWMutex
	connections map[agent.Pair]*agent.ConnectionInfo
}

// New builds a delivery Engine wiring together the Network Simulator,
// Topology Engine, pending Message Queue and listener Registry.
func New(cfg Config, sim *netsim.Simulator, topo *topology.Engine, pending *queue.Queue, listeners *fanout.Registry, positions PositionLookup, logger *logrus.Logger) *Engine {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		cfg:         cfg,
		sim:         sim,
		topo:        topo,
		pending:     pending,
		listeners:   listeners,
		positions:   positions,
		logger:      logger,
		connections: make(map[agent.Pair]*agent.ConnectionInfo),
	}
}

// ProcessMessages repeatedly dequeues and delivers until the queue is
// empty, or ctx is cancelled between attempts.
func (e *Engine) ProcessMessages(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		om := e.pending.Dequeue()
		if om == nil {
			return
		}
		e.deliver(ctx, om)
	}
}

// ProcessOne dequeues and delivers at most one message, reporting whether
// one was available. Used by callers that want bounded-step draining.
func (e *Engine) ProcessOne(ctx context.Context) bool {
	om := e.pending.Dequeue()
	if om == nil {
		return false
	}
	e.deliver(ctx, om)
	return true
}

func (e *Engine) deliver(ctx context.Context, om *msg.OutgoingMessage) {
	if om.ReceiverID == msg.BroadcastReceiver {
		e.deliverBroadcast(ctx, om)
		return
	}
	e.deliverDirect(om)
}

func (e *Engine) deliverDirect(om *msg.OutgoingMessage) {
	senderPos, senderKnown := e.positions(om.SenderID)
	receiverPos, receiverKnown := e.positions(om.ReceiverID)
	if !senderKnown || !receiverKnown {
		e.logger.WithFields(logrus.Fields{
			"sender_id":   om.SenderID,
			"receiver_id": om.ReceiverID,
		}).Debug("dropping delivery: position unknown")
		return
	}

	distance := senderPos.Distance(receiverPos)
	willDeliver, signal, delayMS := e.sim.SimulateDelivery(distance)
	if !willDeliver {
		e.pending.MarkFailed(om.MessageRef.ID)
		e.logger.WithFields(logrus.Fields{
			"message_id":  om.MessageRef.ID,
			"sender_id":   om.SenderID,
			"receiver_id": om.ReceiverID,
			"signal":      signal,
		}).Debug("delivery attempt failed")
		return
	}

	im := &msg.IncomingMessage{
		ReceiverID:         om.ReceiverID,
		OriginalSenderID:   om.SenderID,
		MessageRef:         om.MessageRef,
		RoutePath:          []int64{},
		SignalStrength:     signal,
		ActualDeliveryTime: om.MessageRef.CreationTime.Add(time.Duration(delayMS) * time.Millisecond),
	}
	e.recordHistory(im)
	e.recordConnection(om.SenderID, om.ReceiverID, signal, im.TransmissionDelay())
	e.pending.MarkSent(om.MessageRef.ID)
	e.listeners.Dispatch(im)
}

// recordConnection updates the pair-keyed ConnectionInfo after a
// successful direct delivery, per spec.md §3. strength is the sender-side
// view (SPEC_FULL.md §10 decision #2); averageLatency is a running mean.
func (e *Engine) recordConnection(senderID, receiverID int64, signal float64, latency time.Duration) {
	pair := agent.NewPair(senderID, receiverID)
	now := time.Now()

	e.connMu.Lock()
	defer e.connMu.Unlock()
	c, ok := e.connections[pair]
	if !ok {
		c = &agent.ConnectionInfo{Pair: pair, EstablishedTime: now}
		e.connections[pair] = c
	}
	c.Strength = signal
	c.IsActive = true
	c.LastMessageTime = now
	c.MessageCount++
	c.AverageLatency += (latency - c.AverageLatency) / time.Duration(c.MessageCount)
}

// ActiveConnections returns a snapshot of every ConnectionInfo with at
// least one delivered message.
func (e *Engine) ActiveConnections() []agent.ConnectionInfo {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	out := make([]agent.ConnectionInfo, 0, len(e.connections))
	for _, c := range e.connections {
		out = append(out, *c)
	}
	return out
}

func (e *Engine) deliverBroadcast(_ context.Context, om *msg.OutgoingMessage) {
	info := e.topo.Neighbors(om.SenderID)
	for _, n := range info.Communicating() {
		relayHops := om.MaxHops - 1
		if relayHops < 0 {
			relayHops = 0
		}
		synthesized := &msg.OutgoingMessage{
			SenderID:       om.SenderID,
			ReceiverID:     n.NeighborID,
			MessageRef:     om.MessageRef,
			Priority:       om.Priority,
			MaxHops:        relayHops,
			ExpirationTime: om.ExpirationTime,
		}
		e.deliverDirect(synthesized)
	}
}

// recordHistory appends to the bounded ring buffer, evicting the oldest
// entry first once at capacity.
func (e *Engine) recordHistory(im *msg.IncomingMessage) {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	e.history = append(e.history, im)
	if overflow := len(e.history) - e.cfg.HistoryCapacity; overflow > 0 {
		e.history = e.history[overflow:]
	}
}

// History returns a snapshot copy of the current delivery history, oldest
// first.
func (e *Engine) History() []*msg.IncomingMessage {
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()
	out := make([]*msg.IncomingMessage, len(e.history))
	copy(out, e.history)
	return out
}

// HistoryLen returns the current number of entries in history.
func (e *Engine) HistoryLen() int {
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()
	return len(e.history)
}

// Submit enqueues an OutgoingMessage for later delivery by ProcessMessages
// or ProcessOne. It returns false if the message was rejected (already
// expired), matching queue.Queue.Enqueue.
func (e *Engine) Submit(om *msg.OutgoingMessage) bool {
	return e.pending.Enqueue(om)
}

// Pending exposes the underlying queue for callers (retry policy, metrics)
// that need direct access to enqueue/inspect state.
func (e *Engine) Pending() *queue.Queue { return e.pending }

// Listeners exposes the underlying listener registry for registration.
func (e *Engine) Listeners() *fanout.Registry { return e.listeners }
