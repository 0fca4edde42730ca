package bag

import (
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/nkkko/supports/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource records registrations and how often each token was removed
type fakeSource struct {
	mu       sync.Mutex
	next     int
	handlers map[Token]Handler
	removed  map[Token]int
	down     bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		handlers: make(map[Token]Handler),
		removed:  make(map[Token]int),
	}
}

func (s *fakeSource) AddObserver(name string, handler Handler) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return "", ErrSourceUnavailable
	}
	s.next++
	token := Token(fmt.Sprintf("%s-%d", name, s.next))
	s.handlers[token] = handler
	return token, nil
}

func (s *fakeSource) RemoveObserver(token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removed[token]++
	delete(s.handlers, token)
}

func (s *fakeSource) cancellations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.removed {
		total += n
	}
	return total
}

func (s *fakeSource) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

func (s *fakeSource) post(n *proto.Notification) {
	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, h := range handlers {
		h(n)
	}
}

func noop(*proto.Notification) {}

func TestRegisterThenClear(t *testing.T) {
	src := newFakeSource()
	b := New()

	// Register three subscriptions
	for _, name := range []string{"a", "b", "c"} {
		require.True(t, b.Register(name, src, noop))
	}
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []string{"a", "b", "c"}, b.Names())

	b.Clear()

	// Every token is cancelled exactly once
	assert.Equal(t, 3, src.cancellations())
	for token, n := range src.removed {
		assert.Equal(t, 1, n, "token %s", token)
	}
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, src.active())
}

func TestClearIsIdempotent(t *testing.T) {
	src := newFakeSource()
	b := New()

	// Clearing an empty bag is a no-op
	b.Clear()
	assert.Equal(t, 0, src.cancellations())

	require.True(t, b.Register("a", src, noop))
	require.True(t, b.Register("b", src, noop))

	b.Clear()
	b.Clear()

	assert.Equal(t, 2, src.cancellations())
	assert.Equal(t, 0, b.Len())
}

func TestRegisterUnavailableSource(t *testing.T) {
	b := New()

	// Nil source
	assert.False(t, b.Register("a", nil, noop))
	assert.Equal(t, 0, b.Len())

	// Source that has shut down
	src := newFakeSource()
	src.down = true
	assert.False(t, b.Register("a", src, noop))
	assert.Equal(t, 0, b.Len())

	// Nil handler
	assert.False(t, b.Register("a", newFakeSource(), nil))
	assert.Equal(t, 0, b.Len())
}

func TestRegisterFailureKeepsExisting(t *testing.T) {
	src := newFakeSource()
	b := New()

	require.True(t, b.Register("a", src, noop))
	src.down = true
	assert.False(t, b.Register("b", src, noop))
	assert.Equal(t, 1, b.Len())
}

func TestMerge(t *testing.T) {
	src := newFakeSource()
	x := New()
	y := New()

	require.True(t, x.Register("x1", src, noop))
	require.True(t, x.Register("x2", src, noop))
	require.True(t, y.Register("y1", src, noop))

	x.Merge(y)
	assert.Equal(t, 3, x.Len())
	assert.Equal(t, 0, y.Len())

	x.Clear()
	assert.Equal(t, 3, src.cancellations())

	// y no longer owns anything
	y.Clear()
	assert.Equal(t, 3, src.cancellations())
	for _, n := range src.removed {
		assert.Equal(t, 1, n)
	}
}

func TestMergeAcrossSources(t *testing.T) {
	first := newFakeSource()
	second := newFakeSource()
	x := New()
	y := New()

	require.True(t, x.Register("a", first, noop))
	require.True(t, y.Register("b", second, noop))
	require.True(t, y.Register("c", second, noop))

	x.Merge(y)
	x.Clear()

	// Each subscription goes back to the source that issued it
	assert.Equal(t, 1, first.cancellations())
	assert.Equal(t, 2, second.cancellations())
}

func TestMergeSelfAndNil(t *testing.T) {
	src := newFakeSource()
	b := New()
	require.True(t, b.Register("a", src, noop))

	b.Merge(b)
	b.Merge(nil)
	assert.Equal(t, 1, b.Len())

	b.Clear()
	assert.Equal(t, 1, src.cancellations())
}

func TestZeroValueBag(t *testing.T) {
	src := newFakeSource()
	var b Bag

	require.True(t, b.Register("a", src, noop))
	require.NoError(t, b.Close())
	assert.Equal(t, 1, src.cancellations())
}

func TestRegisterAfterClear(t *testing.T) {
	src := newFakeSource()
	b := New()

	require.True(t, b.Register("a", src, noop))
	b.Clear()

	// A cleared bag can be refilled
	require.True(t, b.Register("b", src, noop))
	assert.Equal(t, []string{"b"}, b.Names())

	b.Clear()
	assert.Equal(t, 2, src.cancellations())
}

func TestHandlerMayRegisterDuringClear(t *testing.T) {
	src := &reentrantSource{fakeSource: newFakeSource()}
	b := New()
	src.bag = b

	require.True(t, b.Register("a", src, noop))

	// RemoveObserver registers again into the bag being cleared
	b.Clear()
	assert.Equal(t, 1, b.Len())
}

type reentrantSource struct {
	*fakeSource
	bag  *Bag
	done bool
}

func (s *reentrantSource) RemoveObserver(token Token) {
	s.fakeSource.RemoveObserver(token)
	if !s.done {
		s.done = true
		s.bag.Register("again", s, noop)
	}
}

func TestConcurrentRegisterAndClear(t *testing.T) {
	src := newFakeSource()
	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b.Register(fmt.Sprintf("event-%d", i), src, noop)
			if i%10 == 0 {
				b.Clear()
			}
		}(i)
	}
	wg.Wait()
	b.Clear()

	// Every registration was cancelled exactly once
	assert.Equal(t, 50, src.cancellations())
	for _, n := range src.removed {
		assert.Equal(t, 1, n)
	}
}

type controller struct {
	title string
	shown int
}

func TestWeakHandler(t *testing.T) {
	src := newFakeSource()
	b := New()

	owner := &controller{title: "settings"}
	seen := 0
	require.True(t, b.Register("show", src, Weak(owner, func(c *controller, _ *proto.Notification) {
		c.shown++
		seen++
	})))

	src.post(proto.NewNotification("show", "", nil))
	assert.Equal(t, 1, owner.shown)

	// Drop the only strong reference
	owner = nil
	for i := 0; i < 5; i++ {
		runtime.GC()
	}

	src.post(proto.NewNotification("show", "", nil))
	assert.Equal(t, 1, seen)

	b.Clear()
	assert.Equal(t, 0, src.active())
}
