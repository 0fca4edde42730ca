// Package control connects UI-style controls to the code that reacts to them.
// A control fires named events through a notification source; targets are
// anything that implements Triggerable and are registered through a bag so
// the owning screen can drop every binding at once.
package control

import (
	"context"
	"sync"

	"github.com/nkkko/supports/internal/center"
	"github.com/nkkko/supports/internal/logging"
	"github.com/nkkko/supports/pkg/bag"
	"github.com/nkkko/supports/pkg/proto"
	"github.com/rs/zerolog"
)

// Event is an event a control can fire
type Event string

const (
	// Tap fires when a button or bar button item is pressed
	Tap Event = "control.tap"

	// ValueChanged fires when a switch, slider or picker changes value
	ValueChanged Event = "control.value_changed"

	// Refresh fires when a pull-to-refresh control starts refreshing
	Refresh Event = "control.refresh"
)

// ParseEvent resolves an event from its full name or its suffix
func ParseEvent(s string) (Event, bool) {
	for _, e := range []Event{Tap, ValueChanged, Refresh} {
		if string(e) == s || string(e) == "control."+s {
			return e, true
		}
	}
	return "", false
}

// Triggerable is the capability a bound target must have
type Triggerable interface {
	OnTriggered(n *proto.Notification)
}

// TriggerFunc adapts a plain function to Triggerable
type TriggerFunc func(n *proto.Notification)

// OnTriggered calls f(n)
func (f TriggerFunc) OnTriggered(n *proto.Notification) {
	f(n)
}

// Bind registers target for event fired by the control called controlID.
// It returns false when the center is unavailable or target is nil.
func Bind(b *bag.Bag, src *center.Center, controlID string, event Event, target Triggerable) bool {
	if b == nil || src == nil || target == nil {
		return false
	}
	return b.Register(string(event), src.ForObject(controlID), target.OnTriggered)
}

// Poster posts notifications; *center.Center satisfies it
type Poster interface {
	Post(ctx context.Context, name, object string, payload map[string]any) int
}

// Fire posts event on behalf of controlID and returns the number of targets reached
func Fire(ctx context.Context, p Poster, controlID string, event Event, payload map[string]any) int {
	return p.Post(ctx, string(event), controlID, payload)
}

// Refresher tracks the state of a pull-to-refresh control. Begin fires
// Refresh only on the transition into the refreshing state, so repeated pulls
// while a load is in flight are ignored until End.
type Refresher struct {
	controlID  string
	poster     Poster
	mu         sync.Mutex
	refreshing bool
	logger     zerolog.Logger
}

// NewRefresher creates a refresher for the control called controlID
func NewRefresher(p Poster, controlID string) *Refresher {
	return &Refresher{
		controlID: controlID,
		poster:    p,
		logger:    logging.Component("control").With().Str("control", controlID).Logger(),
	}
}

// Begin enters the refreshing state and fires Refresh. It reports whether
// this call started a refresh.
func (r *Refresher) Begin(ctx context.Context) bool {
	r.mu.Lock()
	if r.refreshing {
		r.mu.Unlock()
		r.logger.Debug().Msg("Refresh already in progress")
		return false
	}
	r.refreshing = true
	r.mu.Unlock()

	// Post outside the lock so targets may call End
	Fire(ctx, r.poster, r.controlID, Refresh, nil)
	return true
}

// End leaves the refreshing state
func (r *Refresher) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshing = false
}

// Refreshing reports whether a refresh is in progress
func (r *Refresher) Refreshing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshing
}
