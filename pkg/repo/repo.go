// Package repo defines the generic Repository interface used for durable
// records that live outside the vector store, such as conversation transcripts.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Update when no entity has the given ID.
var ErrNotFound = errors.New("repo: not found")

// Repository is a generic CRUD interface.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Create(ctx context.Context, entity T) (T, error)
	Update(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination, equality filtering and ordering for List.
type ListOpts struct {
	Offset int
	Limit  int
	// Filter matches properties by equality, e.g. {"session": "s1"}.
	Filter map[string]any
	// OrderBy names a property to sort ascending by.
	OrderBy string
}

// DefaultListLimit applies when ListOpts.Limit is not positive.
const DefaultListLimit = 100
