package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBeginDefaults(t *testing.T) {
	tr := NewTracker(10 * time.Second)
	tr.Begin(1, 100, 5, "4321")

	snap, ok := tr.Snapshot(1)
	require.True(t, ok)
	assert.Equal(t, int64(100), snap.ChatID)
	assert.Equal(t, 5, snap.MessageID)
	assert.Equal(t, 1, snap.TotalCount, "total defaults to 1")
	assert.Equal(t, 0, snap.CompletedCount)
	assert.Equal(t, "4321", snap.ZipPassword)
	assert.Equal(t, PhaseStarting, snap.Phase)
}

func TestPositionAndDownloadedInvariants(t *testing.T) {
	tr := NewTracker(10 * time.Second)
	tr.Begin(1, 100, 5, "")

	tr.SetPosition(1, 1, 5, "SongA")
	snap, _ := tr.Snapshot(1)
	assert.Equal(t, 0, snap.CompletedCount)
	assert.Equal(t, 5, snap.TotalCount)
	assert.Equal(t, "SongA", snap.CurrentLabel)

	tr.MarkDownloaded(1, "SongA")
	snap, _ = tr.Snapshot(1)
	assert.Equal(t, 1, snap.CompletedCount)
	assert.Equal(t, 20, snap.Percentage)

	// Completed never exceeds total, percentage stays clamped.
	for i := 0; i < 20; i++ {
		tr.MarkDownloaded(1, "x")
	}
	snap, _ = tr.Snapshot(1)
	assert.Equal(t, 5, snap.CompletedCount)
	assert.Equal(t, 100, snap.Percentage)
	assert.LessOrEqual(t, snap.CompletedCount, snap.TotalCount)
}

func TestPercentageAlwaysClamped(t *testing.T) {
	tr := NewTracker(10 * time.Second)
	tr.Begin(1, 100, 5, "")

	tr.SetPosition(1, -3, 0, "weird")
	snap, _ := tr.Snapshot(1)
	assert.GreaterOrEqual(t, snap.Percentage, 0)
	assert.LessOrEqual(t, snap.Percentage, 100)
	assert.GreaterOrEqual(t, snap.CompletedCount, 0)

	tr.SetPosition(1, 50, 3, "overshoot")
	snap, _ = tr.Snapshot(1)
	assert.LessOrEqual(t, snap.CompletedCount, snap.TotalCount)
	assert.LessOrEqual(t, snap.Percentage, 100)
}

func TestCollectionAnnouncedOnce(t *testing.T) {
	tr := NewTracker(10 * time.Second)
	tr.Begin(1, 100, 5, "")

	assert.True(t, tr.SetCollection(1, "MyMix", 5))
	assert.False(t, tr.SetCollection(1, "MyMix", 5), "duplicate banner must stay silent")

	snap, _ := tr.Snapshot(1)
	assert.Equal(t, "MyMix", snap.CollectionName)
	assert.Equal(t, 5, snap.TotalCount)
}

func TestRaiseCompletedNeverLowers(t *testing.T) {
	tr := NewTracker(10 * time.Second)
	tr.Begin(1, 100, 5, "")
	tr.SetCollection(1, "Mix", 10)

	tr.RaiseCompleted(1, 4)
	snap, _ := tr.Snapshot(1)
	assert.Equal(t, 4, snap.CompletedCount)

	tr.RaiseCompleted(1, 2)
	snap, _ = tr.Snapshot(1)
	assert.Equal(t, 4, snap.CompletedCount, "recount may only raise the counter")

	tr.RaiseCompleted(1, 50)
	snap, _ = tr.Snapshot(1)
	assert.Equal(t, 10, snap.CompletedCount, "recount clamps to total")
}

func TestPublishThrottle(t *testing.T) {
	tr := NewTracker(time.Hour)

	var mu sync.Mutex
	published := 0
	tr.SetPublishFunc(func(userID int64, s Snapshot) {
		mu.Lock()
		published++
		mu.Unlock()
	})

	tr.Begin(1, 100, 5, "")

	assert.True(t, tr.MaybePublish(1))
	for i := 0; i < 10; i++ {
		assert.False(t, tr.MaybePublish(1), "throttle window must suppress publishes")
	}

	mu.Lock()
	assert.Equal(t, 1, published)
	mu.Unlock()

	tr.ForcePublish(1)
	mu.Lock()
	assert.Equal(t, 2, published, "terminal updates bypass the throttle")
	mu.Unlock()
}

func TestPublishAfterEndIsNoop(t *testing.T) {
	tr := NewTracker(time.Millisecond)
	published := 0
	tr.SetPublishFunc(func(userID int64, s Snapshot) { published++ })

	tr.Begin(1, 100, 5, "")
	tr.End(1)

	assert.False(t, tr.MaybePublish(1))
	tr.ForcePublish(1)
	assert.Equal(t, 0, published, "no publishes may happen for a cleared job")

	// Mutations after End are no-ops too.
	tr.MarkDownloaded(1, "x")
	_, ok := tr.Snapshot(1)
	assert.False(t, ok)
}

func TestRunRecountsAndStops(t *testing.T) {
	tr := NewTracker(time.Millisecond)
	tr.Begin(1, 100, 5, "")
	tr.SetCollection(1, "Mix", 10)

	var mu sync.Mutex
	count := 3
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(ctx, 1, 50*time.Millisecond, func() int {
			mu.Lock()
			defer mu.Unlock()
			return count
		})
	}()

	require.Eventually(t, func() bool {
		snap, ok := tr.Snapshot(1)
		return ok && snap.CompletedCount == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	count = 1
	mu.Unlock()

	// Counter must not drop back down.
	time.Sleep(120 * time.Millisecond)
	snap, _ := tr.Snapshot(1)
	assert.Equal(t, 3, snap.CompletedCount)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
