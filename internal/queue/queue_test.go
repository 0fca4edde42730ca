package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()

	q := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		_ = q.Close()
		select {
		case <-errCh:
		case <-time.After(time.Second):
			t.Error("queue did not stop")
		}
	})
	return q
}

func TestQueueRunsInOrder(t *testing.T) {
	q := startQueue(t, DefaultConfig())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		require.True(t, q.Enqueue(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	// A Sync call returns only after everything before it ran
	require.True(t, q.Sync(func() {}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := New(Config{Name: "drain", BufferSize: 8})

	ran := 0
	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(func() { ran++ }))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- q.Start(context.Background()) }()

	require.NoError(t, q.Close())
	require.NoError(t, <-errCh)
	assert.Equal(t, 5, ran)

	// Closed queues reject new work, and closing again is fine
	assert.False(t, q.Enqueue(func() {}))
	assert.NoError(t, q.Close())
}

func TestQueueRejectsWhenFull(t *testing.T) {
	q := New(Config{Name: "tiny", BufferSize: 1})

	assert.True(t, q.Enqueue(func() {}))
	assert.False(t, q.Enqueue(func() {}))
	assert.False(t, q.Enqueue(nil))

	// Not started, so Close must not block
	require.NoError(t, q.Close())
}

func TestQueueSurvivesPanic(t *testing.T) {
	q := startQueue(t, DefaultConfig())

	require.True(t, q.Enqueue(func() { panic("observer blew up") }))

	ran := false
	require.True(t, q.Sync(func() { ran = true }))
	assert.True(t, ran)
}

func TestQueueStopsOnContextCancel(t *testing.T) {
	q := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- q.Start(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("queue did not stop after cancel")
	}

	require.NoError(t, q.Close())
}

func TestDefaults(t *testing.T) {
	q := New(Config{})
	assert.Equal(t, "main", q.Name())
	assert.Equal(t, 256, q.config.BufferSize)
	require.NoError(t, q.Close())
}
