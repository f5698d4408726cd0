// Package gae provides a realtime.Client backed by Google Cloud Datastore.
// Datastore has no native watch API, so Subscribe synthesizes one: the query
// runs immediately, then on a poll interval, and results are pushed whenever
// the snapshot differs from the last one delivered.
package gae

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/authstate/hooks/realtime"
)

// DefaultPollInterval is how often subscriptions re-run their query when no
// interval is configured.
const DefaultPollInterval = 2 * time.Second

// Options configures the watcher.
type Options struct {
	Client    *datastore.Client // required
	Namespace string

	// Token supplies the current bearer token for token-gated hooks. Nil
	// reads as signed out.
	Token func() string

	// PollInterval between snapshot diffs. Zero means DefaultPollInterval.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Watcher implements realtime.Client over Datastore.
type Watcher struct {
	opts Options
}

var _ realtime.Client = (*Watcher)(nil)

// NewWatcher creates a Datastore-backed realtime client. Client is required.
func NewWatcher(opts Options) *Watcher {
	if opts.Client == nil {
		panic("gae: Options requires Client")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{opts: opts}
}

// Token implements realtime.Client.
func (w *Watcher) Token() string {
	if w.opts.Token == nil {
		return ""
	}
	return w.opts.Token()
}

// Subscribe implements realtime.Client. The first result set is delivered
// before Subscribe returns; afterwards the query polls until cancelled.
func (w *Watcher) Subscribe(ctx context.Context, q realtime.Query, onResults func([]realtime.Record), onError func(error)) (func(), error) {
	ctx, stop := context.WithCancel(ctx)

	records, err := w.runQuery(ctx, q)
	if err != nil {
		stop()
		return nil, err
	}
	onResults(records)

	go w.poll(ctx, q, fingerprint(records), onResults, onError)
	return stop, nil
}

func (w *Watcher) poll(ctx context.Context, q realtime.Query, last string, onResults func([]realtime.Record), onError func(error)) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		records, err := w.runQuery(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.opts.Logger.Warn("poll query failed", "kind", q.Collection, "error", err)
			onError(err)
			return
		}
		if fp := fingerprint(records); fp != last {
			last = fp
			onResults(records)
		}
	}
}

// runQuery executes the query and flattens each entity's properties into a
// realtime.Record. The key name doubles as the id field when the entity has
// no id property of its own.
func (w *Watcher) runQuery(ctx context.Context, q realtime.Query) ([]realtime.Record, error) {
	query := datastore.NewQuery(q.Collection)
	if w.opts.Namespace != "" {
		query = query.Namespace(w.opts.Namespace)
	}
	for field, value := range q.Where {
		query = query.FilterField(field, "=", value)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var records []realtime.Record
	it := w.opts.Client.Run(ctx, query)
	for {
		var props datastore.PropertyList
		key, err := it.Next(&props)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		record := realtime.Record{}
		for _, p := range props {
			record[p.Name] = p.Value
		}
		if _, ok := record["id"]; !ok && key != nil {
			record["id"] = key.Name
		}
		records = append(records, record)
	}

	// Datastore result order is not guaranteed without an explicit sort;
	// stabilize so the snapshot diff only fires on real changes.
	sort.Slice(records, func(i, j int) bool {
		return records[i].String("id") < records[j].String("id")
	})
	return records, nil
}

// fingerprint hashes a result set for change detection.
func fingerprint(records []realtime.Record) string {
	data, err := json.Marshal(records)
	if err != nil {
		// Unhashable snapshot; treat every poll as a change.
		return time.Now().String()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
