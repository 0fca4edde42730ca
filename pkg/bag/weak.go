package bag

import (
	"weak"

	"github.com/nkkko/supports/pkg/proto"
)

// Weak adapts fn into a Handler that holds only a weak reference to owner.
// Once owner has been garbage collected the handler does nothing.
//
// fn receives the owner as its first argument and must not capture owner
// itself, otherwise the reference is no longer weak.
func Weak[T any](owner *T, fn func(*T, *proto.Notification)) Handler {
	ref := weak.Make(owner)
	return func(n *proto.Notification) {
		if o := ref.Value(); o != nil {
			fn(o, n)
		}
	}
}
