// Package realtime adapts push-capable backends into the AuthHooks contract.
// The backend supplies a Client capability (a bearer token plus live query
// subscriptions); the adapter keeps one conditional subscription per hook and
// writes pushed results into the shared cache store, so consumers read hooks
// exactly as they do with the polling adapters but without staleness-driven
// refetching.
//
// Two variants exist. TokenHooks gates every query on the subject claim of
// the client's bearer token. RecordHooks is fed known session data by the
// host and gates on that instead; it also offers mutations through the
// Transactor capability.
package realtime

import "time"

// Query is a live query against a backend collection. Where entries are
// equality filters.
type Query struct {
	Collection string
	Where      map[string]any
	Limit      int
}

// Record is a single result row. Field names follow the backend's schema;
// the adapter reads them with the defensive getters below.
type Record map[string]any

// String returns the field as a string, or "" when absent or differently
// typed.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool returns the field as a bool, or false when absent or differently
// typed.
func (r Record) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Time returns the field as a time, accepting time.Time values and RFC 3339
// strings. Zero time when absent or unparsable.
func (r Record) Time(key string) time.Time {
	switch v := r[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

// Map returns the field as a nested object, or nil.
func (r Record) Map(key string) map[string]any {
	m, _ := r[key].(map[string]any)
	return m
}
