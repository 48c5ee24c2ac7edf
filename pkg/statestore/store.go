// Package statestore persists published entitlement payloads as JSON blobs.
// S3Store keeps them in an S3-compatible bucket; MemoryStore keeps them in
// process for tests and local runs.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound           = errors.New("statestore: object not found")
	ErrInvalidKey         = errors.New("statestore: invalid key")
	ErrInvalidConfig      = errors.New("statestore: invalid configuration")
	ErrFailedToLoadConfig = errors.New("statestore: failed to load aws config")
	ErrAccessDenied       = errors.New("statestore: access denied")
	ErrBucketNotFound     = errors.New("statestore: bucket not found")
	ErrServiceUnavailable = errors.New("statestore: service unavailable")
)

// Store is a flat key/value blob store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// CustomerKey is where the state of one customer is published.
func CustomerKey(account, customer string) string {
	return fmt.Sprintf("customers/%s/%s.json", account, customer)
}

func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}
