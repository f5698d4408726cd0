package gae

import (
	"context"
	"fmt"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/panyam/authstate/hooks/realtime"
)

// Transactor implements realtime.Transactor over Datastore, addressing
// entities by kind and key name.
type Transactor struct {
	client    *datastore.Client
	namespace string
}

var _ realtime.Transactor = (*Transactor)(nil)

// NewTransactor creates a Datastore-backed transactor.
func NewTransactor(client *datastore.Client, namespace string) *Transactor {
	if client == nil {
		panic("gae: NewTransactor requires a client")
	}
	return &Transactor{client: client, namespace: namespace}
}

func (t *Transactor) key(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = t.namespace
	return key
}

// UpdateRecord merges fields into the entity, creating no entity when none
// exists.
func (t *Transactor) UpdateRecord(ctx context.Context, collection, id string, fields map[string]any) error {
	key := t.key(collection, id)
	_, err := t.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var props datastore.PropertyList
		if err := tx.Get(key, &props); err != nil {
			return err
		}

		merged := make(datastore.PropertyList, 0, len(props)+len(fields))
		for _, p := range props {
			if _, replaced := fields[p.Name]; !replaced {
				merged = append(merged, p)
			}
		}
		for name, value := range fields {
			merged = append(merged, datastore.Property{Name: name, Value: value})
		}

		_, err := tx.Put(key, &merged)
		return err
	})
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	return nil
}

// DeleteRecord removes the entity. Deleting a missing entity is not an
// error.
func (t *Transactor) DeleteRecord(ctx context.Context, collection, id string) error {
	if err := t.client.Delete(ctx, t.key(collection, id)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// DeleteWhere removes every entity matching the equality filters.
func (t *Transactor) DeleteWhere(ctx context.Context, collection string, where map[string]any) error {
	query := datastore.NewQuery(collection).KeysOnly()
	if t.namespace != "" {
		query = query.Namespace(t.namespace)
	}
	for field, value := range where {
		query = query.FilterField(field, "=", value)
	}

	var keys []*datastore.Key
	it := t.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("delete query %s: %w", collection, err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := t.client.DeleteMulti(ctx, keys); err != nil {
		return fmt.Errorf("delete %s: %w", collection, err)
	}
	return nil
}
