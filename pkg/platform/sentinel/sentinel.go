// Package sentinel holds infrastructure error facts. Stores and backends
// return them wrapped; services translate them into domain errors.
package sentinel

import "errors"

var (
	// ErrNotFound means the entity does not exist in the store.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the backend answered but cannot serve right now.
	ErrUnavailable = errors.New("unavailable")
)
