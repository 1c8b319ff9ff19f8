package fanout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dev.swarmcore.comm/internal/msg"
)

func incomingFor(receiver int64) *msg.IncomingMessage {
	return &msg.IncomingMessage{
		ReceiverID: receiver,
		MessageRef: msg.NewMessage(msg.TypeStatusUpdate, nil, nil),
	}
}

func TestRegisterLastWriteWins(t *testing.T) {
	r := New(nil)
	var calls []string
	r.Register(1, func(*msg.IncomingMessage) { calls = append(calls, "first") })
	r.Register(1, func(*msg.IncomingMessage) { calls = append(calls, "second") })

	r.Dispatch(incomingFor(1))
	assert.Equal(t, []string{"second"}, calls)
}

func TestDispatchNoListenerIsNoop(t *testing.T) {
	r := New(nil)
	assert.NotPanics(t, func() { r.Dispatch(incomingFor(42)) })
}

func TestDispatchIsolatesPanicsAcrossAgents(t *testing.T) {
	r := New(nil)
	var otherCalled bool
	r.Register(1, func(*msg.IncomingMessage) { panic("boom") })
	r.Register(2, func(*msg.IncomingMessage) { otherCalled = true })

	assert.NotPanics(t, func() { r.Dispatch(incomingFor(1)) })
	r.Dispatch(incomingFor(2))
	assert.True(t, otherCalled)
}

func TestUnregisterAndCount(t *testing.T) {
	r := New(nil)
	r.Register(1, func(*msg.IncomingMessage) {})
	r.Register(2, func(*msg.IncomingMessage) {})
	assert.Equal(t, 2, r.Count())
	assert.True(t, r.Registered(1))

	r.Unregister(1)
	assert.Equal(t, 1, r.Count())
	assert.False(t, r.Registered(1))
}
