package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"securedocs/internal/model"
	"securedocs/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const documentColumns = `d.id, d.title, d.file_type, d.storage_path, d.content_sha256, d.size, d.content_type, d.created_at,
		ARRAY(SELECT du.user_id FROM document_users du WHERE du.document_id = d.id ORDER BY du.user_id) AS accessible_by,
		ARRAY(SELECT dg.group_id FROM document_groups dg WHERE dg.document_id = d.id ORDER BY dg.group_id) AS accessible_groups`

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d        model.Document
		fileType string
	)
	if err := row.Scan(
		&d.ID,
		&d.Title,
		&fileType,
		&d.StoragePath,
		&d.ContentSHA256,
		&d.Size,
		&d.ContentType,
		&d.CreatedAt,
		pq.Array(&d.AccessibleBy),
		pq.Array(&d.AccessibleGroups),
	); err != nil {
		return nil, err
	}
	d.FileType = model.FileType(fileType)
	return &d, nil
}

// Create inserts the document row and its grants in one transaction.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const qDoc = `
		INSERT INTO documents (title, file_type, storage_path, content_sha256, size, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	const qUsers = `INSERT INTO document_users (document_id, user_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`
	const qGroups = `INSERT INTO document_groups (document_id, group_id) SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`

	out := *doc
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, qDoc,
			doc.Title,
			string(doc.FileType),
			doc.StoragePath,
			doc.ContentSHA256,
			doc.Size,
			doc.ContentType,
			doc.CreatedAt,
		)
		if err := row.Scan(&out.ID, &out.CreatedAt); err != nil {
			return err
		}
		if len(doc.AccessibleBy) > 0 {
			if _, err := tx.ExecContext(ctx, qUsers, out.ID, pq.Array(doc.AccessibleBy)); err != nil {
				return err
			}
		}
		if len(doc.AccessibleGroups) > 0 {
			if _, err := tx.ExecContext(ctx, qGroups, out.ID, pq.Array(doc.AccessibleGroups)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id int64) (*model.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents d
		WHERE d.id = $1`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// List returns documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM documents`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	qList := `SELECT ` + documentColumns + `
		FROM documents d
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPage(rows, total)
}

// ListAccessible returns documents granted to userID or to one of groupIDs.
func (r *DocumentPostgres) ListAccessible(ctx context.Context, userID int64, groupIDs []int64, page repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const filter = `
		WHERE EXISTS (SELECT 1 FROM document_users du WHERE du.document_id = d.id AND du.user_id = $1)
		   OR EXISTS (SELECT 1 FROM document_groups dg WHERE dg.document_id = d.id AND dg.group_id = ANY($2::bigint[]))`
	groups := pq.Array(groupIDs)
	if groupIDs == nil {
		groups = pq.Array([]int64{})
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents d`+filter, userID, groups).Scan(&total); err != nil {
		return nil, err
	}

	qList := `SELECT ` + documentColumns + `
		FROM documents d` + filter + `
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.db.QueryContext(ctx, qList, userID, groups, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPage(rows, total)
}

func collectPage(rows *sql.Rows, total int) (*repository.PageResult[model.Document], error) {
	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// Delete removes a document by ID. Grants go with it through ON DELETE CASCADE.
func (r *DocumentPostgres) Delete(ctx context.Context, id int64) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
