package counter

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"
)

// DatastoreKind is the entity kind used by DatastoreCounter.
const DatastoreKind = "VisitorCount"

// datastoreMaxAttempts bounds transaction retries under contention; the client default is 3.
const datastoreMaxAttempts = 10

type countEntity struct {
	Value int64 `datastore:"value,noindex"`
}

var _ Counter = (*DatastoreCounter)(nil)

// DatastoreCounter stores the count as a single entity and increments it
// inside a transaction. A losing transaction is retried by the client.
type DatastoreCounter struct {
	key    *datastore.Key
	client *datastore.Client
}

func NewDatastoreCounter(client *datastore.Client, namespace, name string) *DatastoreCounter {
	if name == "" {
		name = DefaultKey
	}
	key := datastore.NameKey(DatastoreKind, name, nil)
	key.Namespace = namespace
	return &DatastoreCounter{key: key, client: client}
}

func (c *DatastoreCounter) Up(ctx context.Context) (int64, error) {
	var n int64
	_, err := c.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		// may run more than once
		var rec countEntity
		if err := tx.Get(c.key, &rec); err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		rec.Value++
		if _, err := tx.Put(c.key, &rec); err != nil {
			return err
		}
		n = rec.Value
		return nil
	}, datastore.MaxAttempts(datastoreMaxAttempts))
	if err != nil {
		return 0, classifyDatastore("INCR "+c.key.Name, err)
	}
	return n, nil
}

func (c *DatastoreCounter) Get(ctx context.Context) (int64, error) {
	var rec countEntity
	if err := c.client.Get(ctx, c.key, &rec); err != nil {
		return 0, classifyDatastore("GET "+c.key.Name, err)
	}
	return rec.Value, nil
}

func (c *DatastoreCounter) Set(ctx context.Context, v int64) error {
	if _, err := c.client.Put(ctx, c.key, &countEntity{Value: v}); err != nil {
		return classifyDatastore("SET "+c.key.Name, err)
	}
	return nil
}

func classifyDatastore(op string, err error) error {
	var fmErr *datastore.ErrFieldMismatch
	switch {
	case errors.Is(err, datastore.ErrNoSuchEntity):
		return fmt.Errorf("%w: %s: no value", ErrStoreProtocol, op)
	case errors.As(err, &fmErr):
		return fmt.Errorf("%w: %s: %w", ErrStoreProtocol, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
}
