package domain

// Event is a domain occurrence to be announced to subscribed endpoints.
// Events are the dispatcher's input; they are not persisted on their own,
// only as the payload snapshot of each delivery attempt.
type Event struct {
	Type    string         `json:"type"`     // e.g. "order.shipped"
	ScopeID int64          `json:"scope_id"` // owning store/seller
	Data    map[string]any `json:"data"`     // opaque payload, delivered verbatim
}

// Well-known marketplace event types. The engine treats types as opaque
// strings; these exist so producers and tests agree on spelling.
const (
	EventOrderCreated   = "order.created"
	EventOrderShipped   = "order.shipped"
	EventOrderCancelled = "order.cancelled"
	EventOrderRefunded  = "order.refunded"
)
