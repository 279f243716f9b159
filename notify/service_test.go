package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu    sync.Mutex
	kinds []Kind
	done  chan struct{}
	want  int
}

func (r *recordingSender) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	r.kinds = append(r.kinds, n.Kind)
	if len(r.kinds) == r.want {
		close(r.done)
	}
	r.mu.Unlock()
	return nil
}

func TestHighLaneDrainsFirst(t *testing.T) {
	sender := &recordingSender{done: make(chan struct{}), want: 4}
	s := NewService(sender)

	// Queue everything before the dispatcher starts so ordering is
	// deterministic.
	require.True(t, s.Enqueue(Notification{Kind: KindCopySkipped, Priority: PriorityLow}))
	require.True(t, s.Enqueue(Notification{Kind: KindCopyExecuted, Priority: PriorityNormal}))
	require.True(t, s.Enqueue(Notification{Kind: KindTPSLTrigger, Priority: PriorityHigh}))
	require.True(t, s.Enqueue(Notification{Kind: KindTPSLFailed, Priority: PriorityHigh}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	select {
	case <-sender.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifications were not dispatched")
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []Kind{KindTPSLTrigger, KindTPSLFailed}, sender.kinds[:2],
		"high-priority lane must drain before the normal lane")
	assert.ElementsMatch(t, []Kind{KindCopySkipped, KindCopyExecuted}, sender.kinds[2:])
}

func TestEnqueueDropsWhenLaneFull(t *testing.T) {
	s := NewService(nil) // no dispatcher running

	for i := 0; i < highLaneSize; i++ {
		require.True(t, s.Enqueue(Notification{Kind: KindTPSLTrigger, Priority: PriorityHigh}))
	}
	assert.False(t, s.Enqueue(Notification{Kind: KindTPSLTrigger, Priority: PriorityHigh}),
		"overflow must drop, not block")
}

func TestEnqueueStampsCreatedAt(t *testing.T) {
	s := NewService(nil)
	require.True(t, s.Enqueue(Notification{Kind: KindSystemAlert}))
	n := <-s.normal
	assert.False(t, n.CreatedAt.IsZero())
}

func TestFormatMessage(t *testing.T) {
	got := formatMessage(Notification{
		Kind:  KindTPSLTrigger,
		Title: "Take profit hit: Will_it_rain?",
		Body:  "Sold 10 tokens at 0.61",
	})
	assert.Contains(t, got, "🎯")
	assert.Contains(t, got, "Will\\_it\\_rain?")
	assert.Contains(t, got, "Sold 10 tokens at 0.61")
}
