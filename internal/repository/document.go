package repository

import (
	"context"

	"securedocs/internal/model"
)

// DocumentRepository defines data access for documents using SQL queries only.
// Lookups of a missing row return sql.ErrNoRows unchanged.
type DocumentRepository interface {
	// Create inserts a document together with its user and group grants.
	// Returns the stored document including the generated ID and CreatedAt.
	Create(ctx context.Context, doc *model.Document) (*model.Document, error)

	// FindByID returns a document and its grants.
	FindByID(ctx context.Context, id int64) (*model.Document, error)

	// List returns a page of all documents and the total row count.
	List(ctx context.Context, pq PageQuery) (*PageResult[model.Document], error)

	// ListAccessible returns documents granted to the user directly or
	// through any of groupIDs.
	ListAccessible(ctx context.Context, userID int64, groupIDs []int64, pq PageQuery) (*PageResult[model.Document], error)

	// Delete removes a document by ID. It returns nil if the row was deleted or did not exist.
	Delete(ctx context.Context, id int64) error
}

// PageQuery holds limit/offset pagination parameters.
type PageQuery struct {
	Limit  int
	Offset int
}

// PageResult is a generic pagination result wrapper.
// T is typically a model type.
type PageResult[T any] struct {
	Items []T
	Total int
}
