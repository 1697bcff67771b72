// Package objectstore provides a small key-value object store over an embedded
// database. A database is versioned and split into named stores (tables); each
// store keys its records by a field of the record and may declare secondary
// indexes used for ordered retrieval.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Static errors for object store operations.
var (
	// ErrStoreUnavailable is returned when the database cannot be opened,
	// created or upgraded.
	ErrStoreUnavailable = errors.New("objectstore: store unavailable")
	// ErrUnknownStore is returned when an operation names a store that is
	// not part of the live schema.
	ErrUnknownStore = errors.New("objectstore: unknown store")
	// ErrMissingKey is returned when a record has no value at the store key path.
	ErrMissingKey = errors.New("objectstore: record has no primary key")
	// ErrVersion is returned when the stored schema is newer than the requested one.
	ErrVersion = errors.New("objectstore: stored version is newer than requested")
)

// DefaultKeyPath is the record field used as primary key when a store does not
// declare one.
const DefaultKeyPath = "id"

// IndexSpec declares a secondary index over a record field.
type IndexSpec struct {
	// Name identifies the index in GetAll calls.
	Name string `validate:"required,alphanum"`
	// KeyPath is the dotted path of the indexed field in the encoded record.
	KeyPath string `validate:"required"`
}

// StoreSpec declares one named store.
type StoreSpec struct {
	Name    string      `validate:"required,alphanum"`
	KeyPath string      // defaults to DefaultKeyPath
	Indexes []IndexSpec `validate:"dive"`
}

// Config describes a versioned database and its stores.
type Config struct {
	Name    string      `validate:"required,alphanum"`
	Version int         `validate:"min=1"`
	Stores  []StoreSpec `validate:"required,min=1,dive"`
}

var validate = validator.New()

// Validate checks the config is usable for opening a database.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("objectstore: invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Stores))
	for _, s := range c.Stores {
		if seen[s.Name] {
			return fmt.Errorf("objectstore: duplicate store %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// keyPath returns the store key path with the default applied.
func (s StoreSpec) keyPath() string {
	if s.KeyPath == "" {
		return DefaultKeyPath
	}
	return s.KeyPath
}

// DB is the port used by repositories to persist records.
//
// Records are passed in as Go values and come back as their encoded JSON form;
// decoding is left to the caller.
type DB interface {
	// Put upserts value by its primary key.
	Put(ctx context.Context, store string, value any) error

	// Delete removes the record with the given key.
	// Deleting a key that does not exist is not an error.
	Delete(ctx context.Context, store, key string) error

	// GetAll returns every record of a store. When index names a live index the
	// records are ordered ascending by it; an empty or unknown index falls back
	// to a full scan in key order.
	GetAll(ctx context.Context, store, index string) ([][]byte, error)

	// Clear removes every record of a store.
	Clear(ctx context.Context, store string) error
}
