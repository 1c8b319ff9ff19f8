// Package msg defines the message envelope types exchanged through the
// communication core (SPEC_FULL.md §3) and the error taxonomy used across
// the rest of the module (SPEC_FULL.md §7), grounded on the teacher's
// messaging.BrokerError shape.
package msg

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the recognized message types, per spec.md §3.
type Type string

const (
	TypePositionUpdate   Type = "POSITION_UPDATE"
	TypeVoteProposal     Type = "VOTE_PROPOSAL"
	TypeVoteResponse     Type = "VOTE_RESPONSE"
	TypeTaskAssignment   Type = "TASK_ASSIGNMENT"
	TypeFormationCommand Type = "FORMATION_COMMAND"
	TypeEmergencyAlert   Type = "EMERGENCY_ALERT"
	TypeStatusUpdate     Type = "STATUS_UPDATE"
	TypeAcknowledgment   Type = "ACKNOWLEDGMENT"
)

// DefaultPriority is used when Metadata carries no "priority" key.
const DefaultPriority = 3

// BroadcastReceiver is the sentinel receiverId meaning "broadcast to every
// communicating neighbor of the sender."
const BroadcastReceiver int64 = -1

// Message is the immutable envelope carried by the core. Payload is
// opaque: collaborators interpret it based on Type.
type Message struct {
	ID           string
	Type         Type
	Payload      []byte
	CreationTime time.Time
	Metadata     map[string]any
}

// NewMessage builds a Message with a fresh id and the creation time set to
// now. Metadata may be nil; callers needing priority/ttl should set it.
func NewMessage(t Type, payload []byte, metadata map[string]any) *Message {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Message{
		ID:           uuid.NewString(),
		Type:         t,
		Payload:      payload,
		CreationTime: time.Now(),
		Metadata:     metadata,
	}
}

// Priority reads the "priority" metadata key. A missing, non-numeric or
// out-of-range (outside [1,5]) value yields DefaultPriority.
func (m *Message) Priority() int {
	if m.Metadata == nil {
		return DefaultPriority
	}
	v, ok := m.Metadata["priority"]
	if !ok {
		return DefaultPriority
	}
	p, ok := toInt(v)
	if !ok || p < 1 || p > 5 {
		return DefaultPriority
	}
	return p
}

// TTL reads the optional "ttl" metadata key (milliseconds). ok is false if
// the key is absent or not a valid duration.
func (m *Message) TTL() (ttl time.Duration, ok bool) {
	v, present := m.Metadata["ttl"]
	if !present {
		return 0, false
	}
	ms, valid := toInt(v)
	if !valid || ms < 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// OutgoingMessage is an immutable submission to the Delivery Engine.
// ReceiverID of BroadcastReceiver denotes a broadcast.
type OutgoingMessage struct {
	SenderID       int64
	ReceiverID     int64
	MessageRef     *Message
	Priority       int
	MaxHops        int
	ExpirationTime time.Time
	enqueuedAt     int64 // monotonic sequence, set by the queue on enqueue
}

// NoExpiration is the ExpirationTime used for a message whose "ttl"
// metadata key is absent: far enough in the future that Expired never
// trips, since the zero time.Time is already in the past and would make
// Expired true unconditionally.
var NoExpiration = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// NewOutgoingMessage builds an OutgoingMessage for m, deriving
// ExpirationTime from m.TTL(): present ⇒ now+ttl, absent ⇒ NoExpiration.
// A message with no "ttl" metadata never expires.
func NewOutgoingMessage(m *Message, senderID, receiverID int64, maxHops int, now time.Time) *OutgoingMessage {
	expiry := NoExpiration
	if ttl, ok := m.TTL(); ok {
		expiry = now.Add(ttl)
	}
	return &OutgoingMessage{
		SenderID:       senderID,
		ReceiverID:     receiverID,
		MessageRef:     m,
		Priority:       m.Priority(),
		MaxHops:        maxHops,
		ExpirationTime: expiry,
	}
}

// Expired reports whether this message is droppable at time `now`, per
// spec.md §3: droppable iff now >= expirationTime.
func (o *OutgoingMessage) Expired(now time.Time) bool {
	return !now.Before(o.ExpirationTime)
}

// WithSequence returns a shallow copy carrying the given enqueue sequence
// number. Used by internal/queue to break same-priority ties FIFO without
// mutating the caller's original message.
func (o OutgoingMessage) WithSequence(seq int64) *OutgoingMessage {
	o.enqueuedAt = seq
	return &o
}

// IncomingMessage is a successfully delivered message as recorded in
// history and handed to a listener.
type IncomingMessage struct {
	ReceiverID        int64
	OriginalSenderID  int64
	MessageRef        *Message
	RoutePath         []int64
	SignalStrength    float64
	ActualDeliveryTime time.Time
}

// TransmissionDelay is ActualDeliveryTime - MessageRef.CreationTime, per
// spec.md §3.
func (im *IncomingMessage) TransmissionDelay() time.Duration {
	return im.ActualDeliveryTime.Sub(im.MessageRef.CreationTime)
}
