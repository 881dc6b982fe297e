package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBus_FiltersByKind(t *testing.T) {
	b := NewBus(zaptest.NewLogger(t))
	results, cancelResults := b.Subscribe(4, KindMatchResult)
	defer cancelResults()
	all, cancelAll := b.Subscribe(4)
	defer cancelAll()

	b.Publish(NewChat(Chat{RoomID: "R1", PlayerID: "alice", Text: "gl", At: time.Now()}))
	b.Publish(NewMatchResult(MatchResult{RoomID: "R1", Fool: "bob"}))

	got := <-results
	require.Equal(t, KindMatchResult, got.Kind)
	assert.Equal(t, "bob", got.Result.Fool)
	assert.Empty(t, results)

	assert.Equal(t, KindChat, (<-all).Kind)
	assert.Equal(t, KindMatchResult, (<-all).Kind)
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := NewBus(zaptest.NewLogger(t))
	_, cancel := b.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for range 5 {
			b.Publish(NewChat(Chat{Text: "spam"}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.EqualValues(t, 4, b.Dropped())
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus(zaptest.NewLogger(t))
	ch, cancel := b.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(NewChat(Chat{Text: "after cancel"}))
}
