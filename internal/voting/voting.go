// Package voting implements the Voting Coordinator of SPEC_FULL.md §4.8:
// tracking vote proposals, expected voters and responses, and surfacing
// completion/expiration status. Grounded on the teacher's messaging
// handler-registry shape (a mutex-guarded map keyed by an external id,
// snapshot-copied on read) seen in internal/adapters/eventbus.go.
package voting

import (
	"sync"
	"time"

	"dev.swarmcore.comm/internal/msg"
)

// SubmitFunc is the broadcast path a successful startVote uses to announce
// the proposal. It mirrors delivery.Engine.Submit / retry.SubmitFunc.
type SubmitFunc func(*msg.OutgoingMessage) bool

const payloadKeyProposalID = "proposalId"
const payloadKeyDeadline = "deadline"

// Result is an immutable snapshot of one proposal's state.
type Result struct {
	ProposalID     string
	InitiatorID    int64
	Responses      map[int64]map[string]any
	ExpectedVoters []int64
	Complete       bool
	Expired        bool
}

type proposal struct {
	proposalID     string
	initiatorID    int64
	payload        map[string]any
	expectedVoters map[int64]struct{}
	responses      map[int64]map[string]any
	deadline       time.Time
}

func (p *proposal) expired(now time.Time) bool {
	return !now.Before(p.deadline)
}

func (p *proposal) complete() bool {
	for voter := range p.expectedVoters {
		if _, ok := p.responses[voter]; !ok {
			return false
		}
	}
	return true
}

// Coordinator is the thread-safe registry of live and recently-expired
// proposals.
type Coordinator struct {
	submit SubmitFunc
	now    func() time.Time

	mu        sync.Mutex
	proposals map[string]*proposal
}

// New builds a Coordinator that broadcasts accepted proposals through
// submit. A nil clock defaults to time.Now.
func New(submit SubmitFunc, clock func() time.Time) *Coordinator {
	if clock == nil {
		clock = time.Now
	}
	return &Coordinator{
		submit:    submit,
		now:       clock,
		proposals: make(map[string]*proposal),
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func extractDeadline(payload map[string]any) (time.Time, bool) {
	v, ok := payload[payloadKeyDeadline]
	if !ok {
		return time.Time{}, false
	}
	switch n := v.(type) {
	case int64:
		return time.UnixMilli(n), true
	case int:
		return time.UnixMilli(int64(n)), true
	case float64:
		return time.UnixMilli(int64(n)), true
	default:
		return time.Time{}, false
	}
}

// StartVote registers a new proposal and, on acceptance, broadcasts it
// through the Delivery Engine (sender = initiatorID, receiver =
// msg.BroadcastReceiver), per spec.md §4.8. The broadcast happens strictly
// after state registration.
//
// payload must contain a string "proposalId" and a numeric absolute-ms
// "deadline". expectedVoters must be non-empty. If a live (non-expired)
// proposal with the same id already exists, StartVote fails with
// ErrDuplicateProposal; if one exists but has expired, it is replaced
// (check-then-act performed atomically under the coordinator's lock).
func (c *Coordinator) StartVote(initiatorID int64, payload map[string]any, expectedVoters []int64) error {
	proposalID, ok := payload[payloadKeyProposalID].(string)
	if !ok || proposalID == "" {
		return msg.NewError(msg.ErrCodeMissingPayloadKey, "payload missing string proposalId", nil)
	}
	deadline, ok := extractDeadline(payload)
	if !ok {
		return msg.NewError(msg.ErrCodeMissingPayloadKey, "payload missing numeric deadline", nil).
			WithDetail("proposalId", proposalID)
	}
	if len(expectedVoters) == 0 {
		return msg.NewError(msg.ErrCodeEmptyVoterSet, "expectedVoters must be non-empty", nil).
			WithDetail("proposalId", proposalID)
	}

	voterSet := make(map[int64]struct{}, len(expectedVoters))
	for _, v := range expectedVoters {
		voterSet[v] = struct{}{}
	}

	c.mu.Lock()
	if existing, ok := c.proposals[proposalID]; ok && !existing.expired(c.now()) {
		c.mu.Unlock()
		return msg.NewError(msg.ErrCodeDuplicateProposal, "proposal id already live", nil).
			WithDetail("proposalId", proposalID)
	}
	c.proposals[proposalID] = &proposal{
		proposalID:     proposalID,
		initiatorID:    initiatorID,
		payload:        cloneMap(payload),
		expectedVoters: voterSet,
		responses:      make(map[int64]map[string]any),
		deadline:       deadline,
	}
	c.mu.Unlock()

	if c.submit == nil {
		return nil
	}
	proposalMsg := msg.NewMessage(msg.TypeVoteProposal, nil, cloneMap(payload))
	c.submit(&msg.OutgoingMessage{
		SenderID:       initiatorID,
		ReceiverID:     msg.BroadcastReceiver,
		MessageRef:     proposalMsg,
		Priority:       proposalMsg.Priority(),
		MaxHops:        1,
		ExpirationTime: deadline,
	})
	return nil
}

// RecordResponse stores voterID's response to a proposal. Unknown
// proposals are silently ignored, per spec.md §4.8. voterID must be a
// member of the proposal's expectedVoters, else ErrUnknownVoter. Last
// write wins per voter.
func (c *Coordinator) RecordResponse(voterID int64, payload map[string]any) error {
	proposalID, ok := payload[payloadKeyProposalID].(string)
	if !ok || proposalID == "" {
		return msg.NewError(msg.ErrCodeMissingPayloadKey, "payload missing string proposalId", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return nil
	}
	if _, isVoter := p.expectedVoters[voterID]; !isVoter {
		return msg.NewError(msg.ErrCodeUnknownVoter, "voter not in expectedVoters", nil).
			WithDetail("proposalId", proposalID).
			WithDetail("voterId", voterID)
	}
	p.responses[voterID] = cloneMap(payload)
	return nil
}

// GetVoteResult returns an immutable snapshot of a proposal's state, or
// (nil, false) if unknown.
func (c *Coordinator) GetVoteResult(proposalID string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.proposals[proposalID]
	if !ok {
		return nil, false
	}

	responses := make(map[int64]map[string]any, len(p.responses))
	for voter, resp := range p.responses {
		responses[voter] = cloneMap(resp)
	}
	voters := make([]int64, 0, len(p.expectedVoters))
	for v := range p.expectedVoters {
		voters = append(voters, v)
	}

	return &Result{
		ProposalID:     p.proposalID,
		InitiatorID:    p.initiatorID,
		Responses:      responses,
		ExpectedVoters: voters,
		Complete:       p.complete(),
		Expired:        p.expired(c.now()),
	}, true
}

// CleanupExpiredVotes evicts every expired proposal and returns the count
// removed.
func (c *Coordinator) CleanupExpiredVotes() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, p := range c.proposals {
		if p.expired(now) {
			delete(c.proposals, id)
			removed++
		}
	}
	return removed
}
