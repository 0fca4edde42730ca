package center

import "github.com/nkkko/supports/pkg/bag"

// View is a bag.Source that registers observers on a Center with an object
// filter, a dispatch queue, or both. Views are cheap and may be composed.
type View struct {
	center *Center
	object string
	queue  Dispatcher
}

// ForObject narrows the view to notifications posted with object
func (v *View) ForObject(object string) *View {
	if v == nil {
		return nil
	}
	return &View{center: v.center, object: object, queue: v.queue}
}

// OnQueue moves delivery for observers registered through the view onto q
func (v *View) OnQueue(q Dispatcher) *View {
	if v == nil {
		return nil
	}
	return &View{center: v.center, object: v.object, queue: q}
}

// AddObserver registers handler on the underlying center with the view's
// options. A nil view is unavailable.
func (v *View) AddObserver(name string, handler bag.Handler) (bag.Token, error) {
	if v == nil {
		return "", bag.ErrSourceUnavailable
	}
	return v.center.addObserver(name, v.object, v.queue, handler)
}

// RemoveObserver unregisters token from the underlying center
func (v *View) RemoveObserver(token bag.Token) {
	if v == nil {
		return
	}
	v.center.RemoveObserver(token)
}
