// Package agent holds the types the communication core exchanges with its
// external collaborators: flocking/formation control, task allocation, and
// any UI or scenario driver. Nothing in this package depends on any other
// internal package — it is the stable boundary collaborators code against.
package agent

import (
	"math"
	"time"
)

// Position is a point in the 2-D simulation plane. Values are immutable;
// callers hand over a fresh Position each time an agent moves.
type Position struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance between two positions.
func (p Position) Distance(o Position) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Status describes the operational state of an agent as known to the
// communication core. The core only reads this field; it never changes it.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusIdle      Status = "IDLE"
	StatusDisabled  Status = "DISABLED"
	StatusUnknown   Status = "UNKNOWN"
)

// State is a read-only snapshot of one agent as supplied by the caller on
// every simulation tick. CommunicationRange of zero means "use the
// simulator's configured default range" rather than "cannot communicate."
type State struct {
	AgentID             int64
	Position            Position
	CommunicationRange  float64
	Status              Status
	LastUpdateTime      time.Time
}

// NeighborAgent is one entry in another agent's neighbor list, derived by
// the Topology Engine from a pair of positions and the Network Simulator.
type NeighborAgent struct {
	NeighborID      int64
	Distance        float64
	SignalStrength  float64
	CanCommunicate  bool
	LastContact     time.Time
}

// Information aggregates one agent's neighbor list plus derived quality
// figures. NetworkQuality = min(1, neighborCount/8) * averageSignalStrength.
type Information struct {
	AgentID              int64
	Neighbors            []NeighborAgent
	TopologyUpdateTime   time.Time
	NeighborCount        int
	AverageSignalStrength float64
	NetworkQuality        float64
}

// Communicating returns the subset of Neighbors with CanCommunicate == true.
func (i Information) Communicating() []NeighborAgent {
	out := make([]NeighborAgent, 0, len(i.Neighbors))
	for _, n := range i.Neighbors {
		if n.CanCommunicate {
			out = append(out, n)
		}
	}
	return out
}

// Pair is an unordered identity key for a connection between two agents:
// {agentA, agentB} regardless of which was submitted first.
type Pair struct {
	A int64
	B int64
}

// NewPair builds a Pair with a canonical (sorted) ordering so that
// Pair{1,2} == Pair{2,1}.
func NewPair(a, b int64) Pair {
	if a <= b {
		return Pair{A: a, B: b}
	}
	return Pair{A: b, B: a}
}

// ConnectionInfo tracks the observed quality of one agent pair's link over
// time. Strength is the sender-side view recorded by the most recent
// successful delivery (see SPEC_FULL.md open-question decision #2 on
// signal-strength asymmetry).
type ConnectionInfo struct {
	Pair             Pair
	Strength         float64
	IsActive         bool
	EstablishedTime  time.Time
	LastMessageTime  time.Time
	MessageCount     int64
	AverageLatency   time.Duration
}
