package cache

import "fmt"

// Event identifies a domain-side write the cache must react to. The set is
// closed: adding an event means extending the enum and the exhaustive
// pattern table below, which the compiler checks via the default panic in
// tests rather than a silent log-and-ignore branch at runtime.
type Event int

const (
	EventCartAdd Event = iota
	EventCartRemove
	EventCartUpdate
	EventCartClear
	EventOrderPlaced
	EventProductPurchased
	EventUserLogin
	EventUserLogout
	EventProfileUpdated
	EventWishlistAdd
	EventWishlistRemove
	EventRefreshPull
)

// Events lists every known event, in declaration order.
var Events = []Event{
	EventCartAdd,
	EventCartRemove,
	EventCartUpdate,
	EventCartClear,
	EventOrderPlaced,
	EventProductPurchased,
	EventUserLogin,
	EventUserLogout,
	EventProfileUpdated,
	EventWishlistAdd,
	EventWishlistRemove,
	EventRefreshPull,
}

// String returns the wire name of the event ("cart:add", "order:placed", ...).
func (e Event) String() string {
	switch e {
	case EventCartAdd:
		return "cart:add"
	case EventCartRemove:
		return "cart:remove"
	case EventCartUpdate:
		return "cart:update"
	case EventCartClear:
		return "cart:clear"
	case EventOrderPlaced:
		return "order:placed"
	case EventProductPurchased:
		return "product:purchased"
	case EventUserLogin:
		return "user:login"
	case EventUserLogout:
		return "user:logout"
	case EventProfileUpdated:
		return "profile:updated"
	case EventWishlistAdd:
		return "wishlist:add"
	case EventWishlistRemove:
		return "wishlist:remove"
	case EventRefreshPull:
		return "refresh:pull"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ParseEvent maps a wire name back to its Event.
func ParseEvent(name string) (Event, bool) {
	for _, e := range Events {
		if e.String() == name {
			return e, true
		}
	}
	return 0, false
}

// patterns returns the key globs invalidated by the event. The switch is
// exhaustive over the enum; every cart mutation flushes cart state, order
// placement additionally flushes order history, auth changes flush all
// user-scoped namespaces.
func (e Event) patterns() []string {
	switch e {
	case EventCartAdd, EventCartRemove, EventCartUpdate, EventCartClear:
		return []string{"cart:*"}
	case EventOrderPlaced:
		return []string{"cart:*", "orders:*"}
	case EventProductPurchased:
		return []string{"products:*", "homepage:*"}
	case EventUserLogin, EventUserLogout:
		return []string{"user:*", "cart:*", "wishlist:*", "orders:*"}
	case EventProfileUpdated:
		return []string{"user:*"}
	case EventWishlistAdd, EventWishlistRemove:
		return []string{"wishlist:*"}
	case EventRefreshPull:
		return []string{"homepage:*"}
	}
	return nil
}
