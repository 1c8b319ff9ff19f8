// Package router computes shortest hop-count paths, reachability sets and
// network partitions over the current topology, per SPEC_FULL.md §4.5.
package router

import (
	"sync"

	"dev.swarmcore.comm/internal/topology"
)

// DefaultMaxHops is the cutoff used when a caller doesn't specify one.
const DefaultMaxHops = 5

// pathResult caches a single (sender,receiver) lookup. Path is nil if no
// path exists within the configured maxHops; non-nil but empty if sender
// and receiver are direct neighbors.
type pathResult struct {
	path  []int64
	found bool
}

// Router consults a topology.Engine for the directed communicating-
// neighbor edge set and answers path/reachability/partition queries over
// it. Results are cached per topology version and the whole cache is
// dropped on any topology change (SPEC_FULL.md §10.3).
type Router struct {
	topo    *topology.Engine
	maxHops int

	mu           sync.Mutex
	cacheVersion int64
	cache        map[[2]int64]pathResult
}

// New creates a Router over the given topology, with the given maxHops
// cutoff (DefaultMaxHops if <= 0).
func New(topo *topology.Engine, maxHops int) *Router {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	return &Router{
		topo:    topo,
		maxHops: maxHops,
		cache:   make(map[[2]int64]pathResult),
	}
}

// invalidateIfStale drops the whole cache when the topology has changed
// since it was populated. Caller must hold r.mu.
func (r *Router) invalidateIfStale() {
	v := r.topo.Version()
	if v != r.cacheVersion {
		r.cache = make(map[[2]int64]pathResult)
		r.cacheVersion = v
	}
}

// communicatingNeighbors returns the directed edge set for one node: every
// neighbor it can currently communicate with.
func (r *Router) communicatingNeighbors(id int64) []int64 {
	info := r.topo.Neighbors(id)
	out := make([]int64, 0, len(info.Neighbors))
	for _, n := range info.Communicating() {
		out = append(out, n.NeighborID)
	}
	return out
}

// bfs runs breadth-first search from source, returning each reached node's
// hop distance and predecessor, cut off at maxHops (use a very large
// value for an effectively unbounded search, e.g. Partitions).
func (r *Router) bfs(source int64, maxHops int) (dist map[int64]int, prev map[int64]int64) {
	dist = map[int64]int{source: 0}
	prev = map[int64]int64{}
	queue := []int64{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		d := dist[cur]
		if d >= maxHops {
			continue
		}
		for _, next := range r.communicatingNeighbors(cur) {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = d + 1
			prev[next] = cur
			queue = append(queue, next)
		}
	}
	return dist, prev
}

// Path returns the ordered list of intermediate relays from sender to
// receiver: an empty (non-nil) slice if they are direct neighbors, nil if
// no path exists within maxHops. Results are cached per topology version.
func (r *Router) Path(senderID, receiverID int64) []int64 {
	r.mu.Lock()
	r.invalidateIfStale()
	key := [2]int64{senderID, receiverID}
	if cached, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cached.path
	}
	r.mu.Unlock()

	dist, prev := r.bfs(senderID, r.maxHops)
	var path []int64
	found := false
	if _, reached := dist[receiverID]; reached && receiverID != senderID {
		found = true
		// Walk predecessors back to the sender, collecting intermediates.
		var relays []int64
		cur := receiverID
		for cur != senderID {
			p, ok := prev[cur]
			if !ok {
				break
			}
			if p != senderID {
				relays = append(relays, p)
			}
			cur = p
		}
		// relays is receiver->sender order; reverse it to sender->receiver.
		for i, j := 0, len(relays)-1; i < j; i, j = i+1, j-1 {
			relays[i], relays[j] = relays[j], relays[i]
		}
		path = relays
		if path == nil {
			path = []int64{}
		}
	}

	r.mu.Lock()
	r.invalidateIfStale()
	r.cache[key] = pathResult{path: path, found: found}
	r.mu.Unlock()

	if !found {
		return nil
	}
	return path
}

// ReachableAgents returns every agent reachable from source within
// maxHops hops, including source itself.
func (r *Router) ReachableAgents(source int64, maxHops int) []int64 {
	dist, _ := r.bfs(source, maxHops)
	out := make([]int64, 0, len(dist))
	for id := range dist {
		out = append(out, id)
	}
	return out
}

// unboundedHops is used internally for partition discovery, which must
// reach every agent transitively connected regardless of hop count.
const unboundedHops = 1 << 30

// Partitions returns the set of maximal pairwise-reachable agent groups
// over every agent known to the topology. Every known agent appears in
// exactly one partition.
func (r *Router) Partitions() [][]int64 {
	known := r.topo.KnownAgents()
	visited := make(map[int64]bool, len(known))
	var partitions [][]int64

	for _, id := range known {
		if visited[id] {
			continue
		}
		group := r.ReachableAgents(id, unboundedHops)
		for _, member := range group {
			visited[member] = true
		}
		partitions = append(partitions, group)
	}
	return partitions
}

// PartitionForAgent returns the partition containing agentID, or nil if
// the agent is unknown to the topology.
func (r *Router) PartitionForAgent(agentID int64) []int64 {
	known := r.topo.KnownAgents()
	isKnown := false
	for _, id := range known {
		if id == agentID {
			isKnown = true
			break
		}
	}
	if !isKnown {
		return nil
	}
	return r.ReachableAgents(agentID, unboundedHops)
}
