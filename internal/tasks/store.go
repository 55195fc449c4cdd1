// SPDX-License-Identifier: MIT

package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no task exists for an ID.
var ErrNotFound = errors.New("task not found")

// Store persists tasks. Implementations must be safe for concurrent use.
type Store interface {
	// Create persists a new task, stamping CreatedAt/UpdatedAt when the
	// caller left them zero.
	Create(ctx context.Context, t *Task) error
	// Get returns the task with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Task, error)
	// List returns tasks matching the filter, newest first.
	List(ctx context.Context, f ListFilter) ([]*Task, error)
	// Update applies fn to the stored task under the store's lock and
	// persists the result. fn sees a copy it may mutate.
	Update(ctx context.Context, id string, fn func(*Task) error) (*Task, error)
	// Delete removes the task or returns ErrNotFound.
	Delete(ctx context.Context, id string) error
	// Stats aggregates counts over all tasks.
	Stats(ctx context.Context) (Stats, error)
	// Close releases backend resources.
	Close() error
}

// stampNew fills in creation timestamps the caller left unset. Tests and
// migrations may pre-set them.
func stampNew(t *Task) {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}
}

// Open creates the store backend selected by name.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "json", "":
		return OpenJSONStore(path)
	case "badger":
		return OpenBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
