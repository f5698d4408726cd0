package realtime

import "context"

// Client is the capability a realtime backend must provide. Token returns
// the current bearer token ("" when signed out). Subscribe opens a live
// query: onResults fires with the full current result set, immediately after
// subscribing and again on every change, until the returned cancel func is
// called. onError reports a subscription failure; after it fires the
// subscription is dead and must be re-armed.
type Client interface {
	Token() string
	Subscribe(ctx context.Context, q Query, onResults func([]Record), onError func(error)) (cancel func(), err error)
}

// Transactor is the optional write capability for record-backed hooks.
// Updates and deletes address records by collection and id; DeleteWhere
// removes every record matching the equality filters.
type Transactor interface {
	UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error
	DeleteRecord(ctx context.Context, collection, id string) error
	DeleteWhere(ctx context.Context, collection string, where map[string]any) error
}
