package bag_test

import (
	"testing"

	"github.com/nkkko/supports/internal/center"
	"github.com/nkkko/supports/pkg/bag"
	"github.com/nkkko/supports/pkg/client"
	"github.com/nkkko/supports/pkg/proto"
	"github.com/stretchr/testify/assert"
)

// A nil source pointer is a torn-down source, not a programming error
func TestRegisterTypedNilSource(t *testing.T) {
	noop := func(*proto.Notification) {}

	var c *center.Center
	var v *center.View
	var r *client.Remote

	sources := map[string]bag.Source{
		"center": c,
		"view":   v,
		"scoped": c.ForObject("button"),
		"queued": c.OnQueue(nil).ForObject("button"),
		"remote": r.ForObject("button"),
	}

	for name, src := range sources {
		b := bag.New()
		assert.NotPanics(t, func() {
			assert.False(t, b.Register("tap", src, noop), name)
		}, name)
		assert.Equal(t, 0, b.Len(), name)
		assert.NotPanics(t, func() { src.RemoveObserver("stale") }, name)
	}
}
