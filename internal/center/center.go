// Package center implements an in-process notification center: the event
// source that bags register observers on. Observers are keyed by notification
// name and optionally narrowed to one posting object or moved onto a dispatch
// queue through views (ForObject, OnQueue).
package center

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/internal/metrics"
	"github.com/nkkko/supports/internal/telemetry"
	"github.com/nkkko/supports/pkg/bag"
	"github.com/nkkko/supports/pkg/proto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Ensure Center and its views can back a bag
var (
	_ bag.Source = (*Center)(nil)
	_ bag.Source = (*View)(nil)
)

// AllNotifications observes every notification regardless of name
const AllNotifications = ""

// Dispatcher runs delivery closures somewhere other than the posting goroutine
type Dispatcher interface {
	Enqueue(fn func()) bool
}

// Config contains notification center configuration
type Config struct {
	// Number of notification names whose most recent post is retained
	LastCacheSize int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		LastCacheSize: 128,
	}
}

type observer struct {
	token   bag.Token
	name    string
	object  string
	queue   Dispatcher
	handler bag.Handler
}

func (o *observer) matches(object string) bool {
	return o.object == "" || o.object == object
}

// Center dispatches named notifications to registered observers
type Center struct {
	config    Config
	observers map[bag.Token]*observer
	byName    map[string]map[bag.Token]struct{} // name -> set of tokens
	closed    bool
	mu        sync.RWMutex
	last      *lru.TwoQueueCache
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

// New creates a notification center
func New(config Config) (*Center, error) {
	if config.LastCacheSize <= 0 {
		config.LastCacheSize = DefaultConfig().LastCacheSize
	}

	last, err := lru.New2Q(config.LastCacheSize)
	if err != nil {
		return nil, err
	}

	return &Center{
		config:    config,
		observers: make(map[bag.Token]*observer),
		byName:    make(map[string]map[bag.Token]struct{}),
		last:      last,
		logger:    logging.Component("center"),
		metrics:   metrics.GetMetrics(),
	}, nil
}

// AddObserver registers handler for notifications called name. An empty name
// observes everything. Handlers run on the posting goroutine. A nil center is
// unavailable.
func (c *Center) AddObserver(name string, handler bag.Handler) (bag.Token, error) {
	return c.addObserver(name, "", nil, handler)
}

// RemoveObserver unregisters the observer behind token. Unknown or already
// removed tokens are ignored.
func (c *Center) RemoveObserver(token bag.Token) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	obs, ok := c.observers[token]
	if !ok {
		return
	}

	if tokens, ok := c.byName[obs.name]; ok {
		delete(tokens, token)
		// Clean up empty name entry
		if len(tokens) == 0 {
			delete(c.byName, obs.name)
		}
	}
	delete(c.observers, token)

	c.metrics.ObserversActive.Dec()
	c.metrics.ObserverRemovals.Inc()
	c.logger.Debug().Str("token", string(token)).Str("name", obs.name).Msg("Observer removed")
}

// ForObject returns a view whose observers only see notifications posted with object
func (c *Center) ForObject(object string) *View {
	return &View{center: c, object: object}
}

// OnQueue returns a view whose observers run on q instead of the posting goroutine
func (c *Center) OnQueue(q Dispatcher) *View {
	return &View{center: c, queue: q}
}

func (c *Center) addObserver(name, object string, queue Dispatcher, handler bag.Handler) (bag.Token, error) {
	if c == nil {
		return "", bag.ErrSourceUnavailable
	}
	if handler == nil {
		return "", proto.NewError("nil observer handler")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.metrics.ObserverRegistrations.WithLabelValues("unavailable").Inc()
		return "", bag.ErrSourceUnavailable
	}

	obs := &observer{
		token:   bag.Token(generateID()),
		name:    name,
		object:  object,
		queue:   queue,
		handler: handler,
	}

	c.observers[obs.token] = obs
	if _, ok := c.byName[name]; !ok {
		c.byName[name] = make(map[bag.Token]struct{})
	}
	c.byName[name][obs.token] = struct{}{}

	c.metrics.ObserversActive.Inc()
	c.metrics.ObserverRegistrations.WithLabelValues("ok").Inc()
	c.logger.Debug().
		Str("token", string(obs.token)).
		Str("name", name).
		Str("object", object).
		Bool("queued", queue != nil).
		Msg("Observer added")

	return obs.token, nil
}

// Post delivers a notification to every matching observer and returns how
// many received it or had it queued. Posting to a shut down center delivers
// nothing.
func (c *Center) Post(ctx context.Context, name, object string, payload map[string]any) int {
	return c.PostNotification(ctx, proto.NewNotification(name, object, payload))
}

// PostNotification is Post for a notification built by the caller
func (c *Center) PostNotification(ctx context.Context, n *proto.Notification) int {
	if n == nil {
		return 0
	}

	ctx, span := telemetry.StartNotificationSpan(ctx, "center.post", n.Name, n.Object)
	defer span.End()

	start := time.Now()
	targets := c.snapshot(n.Name, n.Object)
	if targets == nil {
		return 0
	}

	c.last.Add(n.Name, n)
	c.metrics.NotificationsPosted.Inc()

	delivered := 0
	for _, obs := range targets {
		if obs.queue == nil {
			c.deliver(ctx, obs, n)
			c.metrics.NotificationDeliveries.WithLabelValues("direct").Inc()
			delivered++
			continue
		}

		obs := obs
		if obs.queue.Enqueue(func() { c.deliver(ctx, obs, n) }) {
			c.metrics.NotificationDeliveries.WithLabelValues("queued").Inc()
			delivered++
		} else {
			c.metrics.NotificationDeliveries.WithLabelValues("dropped").Inc()
			c.logger.Warn().
				Str("name", n.Name).
				Str("token", string(obs.token)).
				Msg("Dispatch queue rejected notification, dropping")
		}
	}

	c.metrics.PostDuration.Observe(time.Since(start).Seconds())
	telemetry.AddSpanAttributes(ctx, attribute.Int("notification.delivered", delivered))

	return delivered
}

// snapshot copies the observers matching a post so delivery runs without the lock.
// It returns nil once the center has shut down.
func (c *Center) snapshot(name, object string) []*observer {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil
	}

	targets := make([]*observer, 0)
	collect := func(key string) {
		for token := range c.byName[key] {
			if obs := c.observers[token]; obs.matches(object) {
				targets = append(targets, obs)
			}
		}
	}

	collect(name)
	if name != AllNotifications {
		collect(AllNotifications)
	}
	return targets
}

// deliver runs one handler, skipping observers removed since the post was
// snapshotted and recovering handler panics
func (c *Center) deliver(ctx context.Context, obs *observer, n *proto.Notification) {
	if obs.queue != nil && !c.active(obs.token) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.metrics.HandlerPanicsTotal.Inc()
			c.logger.Error().
				Interface("panic", r).
				Str("name", n.Name).
				Str("token", string(obs.token)).
				Msg("Observer handler panicked")
			telemetry.AddSpanEvent(ctx, "observer.panic", attribute.String("token", string(obs.token)))
		}
	}()

	obs.handler(n)
}

func (c *Center) active(token bag.Token) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.observers[token]
	return ok
}

// Last returns the most recent notification posted under name
func (c *Center) Last(name string) (*proto.Notification, bool) {
	v, ok := c.last.Get(name)
	if !ok {
		return nil, false
	}
	return v.(*proto.Notification), true
}

// ObserverCount returns the number of observers registered for name
func (c *Center) ObserverCount(name string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName[name])
}

// Counts returns the observer count for every observed name
func (c *Center) Counts() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int, len(c.byName))
	for name, tokens := range c.byName {
		counts[name] = len(tokens)
	}
	return counts
}

// Names returns the observed notification names in sorted order
func (c *Center) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	c.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the total number of registered observers
func (c *Center) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.observers)
}

// Available reports whether the center still accepts observers
func (c *Center) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Shutdown drops every observer. Later registrations fail with
// bag.ErrSourceUnavailable and removals become no-ops.
func (c *Center) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	remaining := len(c.observers)
	c.closed = true
	c.observers = make(map[bag.Token]*observer)
	c.byName = make(map[string]map[bag.Token]struct{})
	c.last.Purge()
	c.metrics.ObserversActive.Sub(float64(remaining))

	if remaining > 0 {
		c.logger.Warn().Int("observers", remaining).Msg("Shutting down notification center with observers still registered")
	} else {
		c.logger.Info().Msg("Shutting down notification center")
	}

	return nil
}

// generateID creates observer tokens.
// Can be replaced in tests for deterministic behavior
var generateID = func() string {
	return uuid.NewString()
}
