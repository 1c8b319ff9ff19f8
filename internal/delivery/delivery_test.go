package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.swarmcore.comm/internal/agent"
	"dev.swarmcore.comm/internal/fanout"
	"dev.swarmcore.comm/internal/msg"
	"dev.swarmcore.comm/internal/netsim"
	"dev.swarmcore.comm/internal/queue"
	"dev.swarmcore.comm/internal/topology"
)

// SimulateDelivery computes willDeliver = Float64() >= failureProb, so a
// high Float64() forces delivery to succeed and a low one forces it to
// fail regardless of failureProb.
type alwaysDeliverRand struct{}

func (alwaysDeliverRand) Float64() float64     { return 0.999 }
func (alwaysDeliverRand) NormFloat64() float64 { return 0 }

type neverDeliverRand struct{}

func (neverDeliverRand) Float64() float64     { return 0 }
func (neverDeliverRand) NormFloat64() float64 { return 0 }

func positionsOf(states map[int64]agent.Position) PositionLookup {
	return func(id int64) (agent.Position, bool) {
		p, ok := states[id]
		return p, ok
	}
}

func buildEngine(t *testing.T, cfg netsim.Config, src netsim.RandSource, agents map[int64]agent.Position) (*Engine, *topology.Engine, *queue.Queue) {
	t.Helper()
	sim := netsim.New(cfg, src)
	topo := topology.New(sim)

	states := make([]agent.State, 0, len(agents))
	for id, pos := range agents {
		states = append(states, agent.State{AgentID: id, Position: pos})
	}
	require.NoError(t, topo.UpdateTopology(context.Background(), states))

	q := queue.New(nil)
	listeners := fanout.New(nil)
	eng := New(Config{}, sim, topo, q, listeners, positionsOf(agents), nil)
	return eng, topo, q
}

func outgoing(sender, receiver int64) *msg.OutgoingMessage {
	return &msg.OutgoingMessage{
		SenderID:       sender,
		ReceiverID:     receiver,
		MessageRef:     msg.NewMessage(msg.TypeStatusUpdate, []byte("hi"), nil),
		Priority:       3,
		MaxHops:        3,
		ExpirationTime: time.Now().Add(time.Minute),
	}
}

// S1: direct delivery between two agents in range succeeds, is recorded in
// history, and reaches the receiver's listener.
func TestDirectDeliverySuccess(t *testing.T) {
	eng, _, q := buildEngine(t, netsim.Config{Range: 100, FailureRate: 0}, alwaysDeliverRand{}, map[int64]agent.Position{
		1: {X: 0, Y: 0},
		2: {X: 40, Y: 0},
	})

	var mu sync.Mutex
	var received *msg.IncomingMessage
	eng.Listeners().Register(2, func(im *msg.IncomingMessage) {
		mu.Lock()
		defer mu.Unlock()
		received = im
	})

	om := outgoing(1, 2)
	require.True(t, eng.Submit(om))
	eng.ProcessMessages(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, received)
	assert.Equal(t, int64(2), received.ReceiverID)
	assert.Equal(t, int64(1), received.OriginalSenderID)
	assert.Equal(t, om.MessageRef.ID, received.MessageRef.ID)
	assert.True(t, received.ActualDeliveryTime.After(om.MessageRef.CreationTime) || received.ActualDeliveryTime.Equal(om.MessageRef.CreationTime))

	require.Equal(t, 1, eng.HistoryLen())
	assert.Equal(t, queue.StatusSent, q.StatusOf(om.MessageRef.ID))
}

// S2: receiver out of range never reaches the link simulator's random roll
// and is reported as a failed delivery.
func TestDirectDeliveryOutOfRangeFails(t *testing.T) {
	eng, _, q := buildEngine(t, netsim.Config{Range: 50, FailureRate: 0}, alwaysDeliverRand{}, map[int64]agent.Position{
		1: {X: 0, Y: 0},
		2: {X: 1000, Y: 0},
	})

	dispatched := false
	eng.Listeners().Register(2, func(*msg.IncomingMessage) { dispatched = true })

	om := outgoing(1, 2)
	require.True(t, eng.Submit(om))
	eng.ProcessMessages(context.Background())

	assert.False(t, dispatched)
	assert.Equal(t, 0, eng.HistoryLen())
	assert.Equal(t, queue.StatusFailed, q.StatusOf(om.MessageRef.ID))
}

// Within range but an unfavorable random roll also fails delivery and marks
// the message failed rather than sent.
func TestDirectDeliveryUnluckyRollFails(t *testing.T) {
	eng, _, q := buildEngine(t, netsim.Config{Range: 100, FailureRate: 0.9}, neverDeliverRand{}, map[int64]agent.Position{
		1: {X: 0, Y: 0},
		2: {X: 10, Y: 0},
	})

	om := outgoing(1, 2)
	require.True(t, eng.Submit(om))
	eng.ProcessMessages(context.Background())

	assert.Equal(t, 0, eng.HistoryLen())
	assert.Equal(t, queue.StatusFailed, q.StatusOf(om.MessageRef.ID))
}

// S3: broadcast fans out to every communicating neighbor, skips the
// out-of-range agent, and is never sent back to the originator.
func TestBroadcastDeliversToAllNeighbors(t *testing.T) {
	eng, _, _ := buildEngine(t, netsim.Config{Range: 100, FailureRate: 0}, alwaysDeliverRand{}, map[int64]agent.Position{
		1: {X: 0, Y: 0},
		2: {X: 30, Y: 0},
		3: {X: -30, Y: 0},
		4: {X: 900, Y: 0}, // out of range, must not receive
	})

	var mu sync.Mutex
	received := map[int64]*msg.IncomingMessage{}
	for _, id := range []int64{2, 3, 4} {
		id := id
		eng.Listeners().Register(id, func(im *msg.IncomingMessage) {
			mu.Lock()
			defer mu.Unlock()
			received[id] = im
		})
	}

	om := outgoing(1, msg.BroadcastReceiver)
	om.MaxHops = 3
	require.True(t, eng.Submit(om))
	eng.ProcessMessages(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, received, int64(2))
	require.Contains(t, received, int64(3))
	assert.NotContains(t, received, int64(4))
	assert.Equal(t, int64(1), received[2].OriginalSenderID)
	assert.Equal(t, 2, eng.HistoryLen())
}

func TestBroadcastMaxHopsNeverGoesNegative(t *testing.T) {
	eng, _, _ := buildEngine(t, netsim.Config{Range: 100, FailureRate: 0}, alwaysDeliverRand{}, map[int64]agent.Position{
		1: {X: 0, Y: 0},
		2: {X: 10, Y: 0},
	})

	om := outgoing(1, msg.BroadcastReceiver)
	om.MaxHops = 0
	require.True(t, eng.Submit(om))
	assert.NotPanics(t, func() { eng.ProcessMessages(context.Background()) })
}

func TestProcessMessagesDrainsEntireQueue(t *testing.T) {
	eng, _, _ := buildEngine(t, netsim.Config{Range: 100, FailureRate: 0}, alwaysDeliverRand{}, map[int64]agent.Position{
		1: {X: 0, Y: 0},
		2: {X: 10, Y: 0},
	})

	for i := 0; i < 5; i++ {
		require.True(t, eng.Submit(outgoing(1, 2)))
	}
	eng.ProcessMessages(context.Background())
	assert.Equal(t, 5, eng.HistoryLen())
}

func TestHistoryIsBoundedByCapacity(t *testing.T) {
	sim := netsim.New(netsim.Config{Range: 100, FailureRate: 0}, alwaysDeliverRand{})
	topo := topology.New(sim)
	positions := map[int64]agent.Position{1: {X: 0, Y: 0}, 2: {X: 10, Y: 0}}
	var states []agent.State
	for id, p := range positions {
		states = append(states, agent.State{AgentID: id, Position: p})
	}
	require.NoError(t, topo.UpdateTopology(context.Background(), states))

	q := queue.New(nil)
	eng := New(Config{HistoryCapacity: 3}, sim, topo, q, fanout.New(nil), positionsOf(positions), nil)

	for i := 0; i < 10; i++ {
		require.True(t, eng.Submit(outgoing(1, 2)))
	}
	eng.ProcessMessages(context.Background())
	assert.Equal(t, 3, eng.HistoryLen())
}

func TestDeliveryToUnknownPositionIsDroppedSilently(t *testing.T) {
	eng, _, q := buildEngine(t, netsim.Config{Range: 100, FailureRate: 0}, alwaysDeliverRand{}, map[int64]agent.Position{
		1: {X: 0, Y: 0},
	})

	om := outgoing(1, 99)
	require.True(t, eng.Submit(om))
	eng.ProcessMessages(context.Background())

	assert.Equal(t, 0, eng.HistoryLen())
	assert.Equal(t, queue.StatusPending, q.StatusOf(om.MessageRef.ID))
}
