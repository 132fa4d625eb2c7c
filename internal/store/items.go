package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateItem inserts a new knowledge item and fills in its assigned id and
// timestamps. The author must exist.
func (s *Store) CreateItem(ctx context.Context, item *KnowledgeItem) error {
	if item.Title == "" {
		return fmt.Errorf("item title cannot be empty")
	}
	if item.Visibility == "" {
		item.Visibility = VisibilityPublic
	}
	if !item.Visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", item.Visibility)
	}
	if _, err := s.GetUser(ctx, item.AuthorID); err != nil {
		return err
	}

	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	query := `
		INSERT INTO knowledge_items (
			title, description, content, category, tags,
			visibility, author_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		item.Title, item.Description, item.Content, item.Category, item.Tags,
		string(item.Visibility), item.AuthorID, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert knowledge item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	item.ID = id

	return nil
}

// UpdateItem overwrites the mutable fields of an existing item and advances
// updated_at. The id, author, and created_at are immutable.
func (s *Store) UpdateItem(ctx context.Context, item *KnowledgeItem) error {
	if !item.Visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", item.Visibility)
	}

	item.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE knowledge_items
		SET title = ?, description = ?, content = ?, category = ?, tags = ?,
		    visibility = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		item.Title, item.Description, item.Content, item.Category, item.Tags,
		string(item.Visibility), item.UpdatedAt, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update knowledge item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrItemNotFound
	}

	return nil
}

// DeleteItem removes an item. Access grants referencing it are removed by the
// ON DELETE CASCADE foreign key.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete knowledge item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrItemNotFound
	}

	return nil
}

// GetItem retrieves a single item by id. Returns ErrItemNotFound if absent.
func (s *Store) GetItem(ctx context.Context, id int64) (*KnowledgeItem, error) {
	query := `
		SELECT id, title, description, content, category, tags,
		       visibility, author_id, created_at, updated_at
		FROM knowledge_items
		WHERE id = ?
	`

	item := &KnowledgeItem{}
	var visibility string

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&item.ID, &item.Title, &item.Description, &item.Content, &item.Category,
		&item.Tags, &visibility, &item.AuthorID, &item.CreatedAt, &item.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query knowledge item: %w", err)
	}

	item.Visibility = Visibility(visibility)
	return item, nil
}

// ListItems returns every item ordered by id. This is the rebuild feed for the
// search index, not a paginated browse API.
func (s *Store) ListItems(ctx context.Context) ([]*KnowledgeItem, error) {
	query := `
		SELECT id, title, description, content, category, tags,
		       visibility, author_id, created_at, updated_at
		FROM knowledge_items
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query knowledge items: %w", err)
	}
	defer rows.Close()

	var items []*KnowledgeItem
	for rows.Next() {
		item := &KnowledgeItem{}
		var visibility string
		if err := rows.Scan(
			&item.ID, &item.Title, &item.Description, &item.Content, &item.Category,
			&item.Tags, &visibility, &item.AuthorID, &item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		item.Visibility = Visibility(visibility)
		items = append(items, item)
	}

	return items, rows.Err()
}

// ItemIDs returns the ids of all stored items, sorted ascending. Used by the
// reconciliation job to diff the store against the index.
func (s *Store) ItemIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM knowledge_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query item ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
