package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.swarmcore.comm/internal/msg"
)

func sampleMessage() *msg.OutgoingMessage {
	return &msg.OutgoingMessage{
		SenderID:       1,
		ReceiverID:     2,
		MessageRef:     msg.NewMessage(msg.TypeStatusUpdate, nil, nil),
		ExpirationTime: time.Now().Add(time.Minute),
	}
}

func TestNewRejectsNilSubmit(t *testing.T) {
	_, err := New(nil, 3, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, msg.ErrNilArgument)
}

func TestNewRejectsNegativeDefaultBound(t *testing.T) {
	_, err := New(func(*msg.OutgoingMessage) bool { return true }, -1, time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, msg.ErrInvalidRetryCount)
}

func TestSendWithRetrySucceedsImmediately(t *testing.T) {
	calls := 0
	p, err := New(func(*msg.OutgoingMessage) bool {
		calls++
		return true
	}, 3, time.Millisecond)
	require.NoError(t, err)

	ok := p.SendWithRetry(context.Background(), sampleMessage(), 3)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}

// S7: queue rejects the first two attempts and accepts the third; total
// wall time must be at least backoffBase + 2*backoffBase.
func TestSendWithRetryExponentialBackoff(t *testing.T) {
	const base = 5 * time.Millisecond
	calls := 0
	p, err := New(func(*msg.OutgoingMessage) bool {
		calls++
		return calls == 3
	}, 5, base)
	require.NoError(t, err)

	start := time.Now()
	ok := p.SendWithRetry(context.Background(), sampleMessage(), 3)
	elapsed := time.Since(start)

	assert.True(t, ok)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, base+2*base)
}

func TestSendWithRetryExhaustsBoundAndFails(t *testing.T) {
	calls := 0
	p, err := New(func(*msg.OutgoingMessage) bool {
		calls++
		return false
	}, 5, time.Millisecond)
	require.NoError(t, err)

	ok := p.SendWithRetry(context.Background(), sampleMessage(), 2)
	assert.False(t, ok)
	assert.Equal(t, 3, calls) // attempts 0, 1, 2
}

func TestSendWithRetryFinalAttemptHasNoTrailingSleep(t *testing.T) {
	const base = 20 * time.Millisecond
	p, err := New(func(*msg.OutgoingMessage) bool { return false }, 5, base)
	require.NoError(t, err)

	start := time.Now()
	ok := p.SendWithRetry(context.Background(), sampleMessage(), 0)
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, base) // a single attempt, no backoff wait at all
}

func TestSendWithRetryAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p, err := New(func(*msg.OutgoingMessage) bool {
		calls++
		if calls == 1 {
			cancel()
		}
		return false
	}, 5, time.Hour) // long backoff: would hang the test if cancellation didn't short-circuit it
	require.NoError(t, err)

	ok := p.SendWithRetry(ctx, sampleMessage(), 5)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestSendCriticalUsesDefaultBound(t *testing.T) {
	calls := 0
	p, err := New(func(*msg.OutgoingMessage) bool {
		calls++
		return false
	}, 2, time.Millisecond)
	require.NoError(t, err)

	ok := p.SendCritical(context.Background(), sampleMessage())
	assert.False(t, ok)
	assert.Equal(t, 3, calls) // attempts 0, 1, 2 (defaultMaxRetries=2)
}

func TestDelayIsExponential(t *testing.T) {
	p, err := New(func(*msg.OutgoingMessage) bool { return true }, 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Millisecond, p.Delay(0))
	assert.Equal(t, 20*time.Millisecond, p.Delay(1))
	assert.Equal(t, 40*time.Millisecond, p.Delay(2))
}
