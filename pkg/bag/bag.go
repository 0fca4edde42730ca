// Package bag keeps event subscriptions scoped to the lifetime of their owner.
//
// A Bag registers observers on an event Source and remembers the handle each
// registration returned. Clearing the bag removes every registration exactly
// once, so nothing it registered can call back into an owner that has already
// been torn down.
//
//	b := bag.New()
//	defer b.Close()
//	b.Register("keyboard.will_show", center, onShow)
package bag

import (
	"errors"
	"sync"

	"github.com/nkkko/supports/pkg/proto"
)

// ErrSourceUnavailable is returned by a Source that can no longer accept
// observers, typically because it has been shut down.
var ErrSourceUnavailable = errors.New("bag: event source unavailable")

// Token identifies one observer registration on a Source.
type Token string

// Handler receives notifications for a registration.
type Handler func(*proto.Notification)

// Source dispatches named notifications to registered handlers.
//
// RemoveObserver must accept tokens that were already removed, or that belong
// to a source that has shut down, and treat them as a no-op.
type Source interface {
	AddObserver(name string, handler Handler) (Token, error)
	RemoveObserver(token Token)
}

type subscription struct {
	name   string
	source Source
	token  Token
}

// Bag owns a sequence of subscriptions and cancels them together.
// The zero value is an empty bag ready to use. A Bag is safe for concurrent use.
type Bag struct {
	mu   sync.Mutex
	subs []subscription
}

// New returns an empty bag
func New() *Bag {
	return &Bag{}
}

// Register observes name on source and takes ownership of the resulting
// registration. It returns false without changing the bag when source is nil,
// handler is nil, or the source refuses the observer.
//
// The source keeps the handler alive, not the bag. Handlers should reach their
// owner through a non-owning reference (see Weak) so a pending registration
// never keeps the owner alive.
func (b *Bag) Register(name string, source Source, handler Handler) bool {
	if source == nil || handler == nil {
		return false
	}

	token, err := source.AddObserver(name, handler)
	if err != nil {
		return false
	}

	b.mu.Lock()
	b.subs = append(b.subs, subscription{name: name, source: source, token: token})
	b.mu.Unlock()

	return true
}

// Clear removes every held registration from its source, newest first, and
// empties the bag. Calling Clear on an empty bag does nothing.
//
// The bag is detached before any source is called, so a handler running
// concurrently may register into the same bag again.
func (b *Bag) Clear() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].source.RemoveObserver(subs[i].token)
	}
}

// Close clears the bag. It always returns nil and exists so a Bag can be used
// as an io.Closer.
func (b *Bag) Close() error {
	b.Clear()
	return nil
}

// Merge moves every registration held by other into b. Afterwards other is
// empty and clearing it cancels nothing that was moved.
func (b *Bag) Merge(other *Bag) {
	if other == nil || other == b {
		return
	}

	other.mu.Lock()
	moved := other.subs
	other.subs = nil
	other.mu.Unlock()

	if len(moved) == 0 {
		return
	}

	b.mu.Lock()
	b.subs = append(b.subs, moved...)
	b.mu.Unlock()
}

// Len returns the number of registrations the bag currently owns
func (b *Bag) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Names returns the observed notification names in registration order
func (b *Bag) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, len(b.subs))
	for i, sub := range b.subs {
		names[i] = sub.name
	}
	return names
}
