package business

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	businessBucketName = "businesses"
	settingsBucketName = "settings"
	weightsKey         = "confidence_weights"
)

// BoltStore implements the Store interface using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates a BoltDB file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(businessBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(settingsBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Save saves a record to the database
func (b *BoltStore) Save(ctx context.Context, record *Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(businessBucketName))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling business: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
}

// Get retrieves a record by ID
func (b *BoltStore) Get(ctx context.Context, id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(businessBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns all records
func (b *BoltStore) List(ctx context.Context) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(businessBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling business %s: %w", k, err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortRecords(records)
	return records, nil
}

// Delete removes a record from the database
func (b *BoltStore) Delete(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(businessBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Weights returns the stored tier weights
func (b *BoltStore) Weights(ctx context.Context) (Weights, error) {
	w := DefaultWeights()
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(settingsBucketName)).Get([]byte(weightsKey))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &w)
	})
	if err != nil {
		return Weights{}, fmt.Errorf("reading weights: %w", err)
	}
	return w, nil
}

// SaveWeights stores tier weights
func (b *BoltStore) SaveWeights(ctx context.Context, w Weights) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("marshaling weights: %w", err)
		}
		return tx.Bucket([]byte(settingsBucketName)).Put([]byte(weightsKey), data)
	})
}

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
