package access

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kbvault/kbvault/internal/store"
)

// Store provides database operations for access grants. It shares the item
// store's database so grant rows ride the same foreign keys as items.
type Store struct {
	db *sql.DB
}

// NewStore creates an access grant store on the given database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Grant upserts the single grant row for (itemID, userID). An existing grant
// has its permission overwritten rather than duplicated. The upsert keeps
// concurrent grant/revoke on the same pair atomic; last writer wins.
//
// Returns store.ErrItemNotFound or store.ErrUserNotFound when the referenced
// row is missing. The existence checks and the upsert share one transaction,
// so a deletion racing the grant surfaces as the NotFound sentinel rather
// than a foreign key violation.
func (s *Store) Grant(ctx context.Context, itemID int64, userID string, permission Permission) error {
	if _, err := ParsePermission(string(permission)); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grant tx: %w", err)
	}
	defer tx.Rollback()

	if err := checkRefs(ctx, tx, itemID, userID); err != nil {
		return err
	}

	query := `
		INSERT INTO access_grants (item_id, user_id, permission, granted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_id, user_id) DO UPDATE SET
			permission = excluded.permission,
			granted_at = excluded.granted_at
	`

	if _, err := tx.ExecContext(ctx, query, itemID, userID, string(permission), time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grant: %w", err)
	}

	return nil
}

// Revoke deletes the grant for (itemID, userID). Returns ErrGrantNotFound if
// no grant exists.
func (s *Store) Revoke(ctx context.Context, itemID int64, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM access_grants WHERE item_id = ? AND user_id = ?`, itemID, userID)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrGrantNotFound
	}

	return nil
}

// Lookup returns the grant for (itemID, userID), or nil when none exists.
func (s *Store) Lookup(ctx context.Context, itemID int64, userID string) (*Grant, error) {
	query := `
		SELECT item_id, user_id, permission, granted_at
		FROM access_grants
		WHERE item_id = ? AND user_id = ?
	`

	grant := &Grant{}
	var permission string

	err := s.db.QueryRowContext(ctx, query, itemID, userID).Scan(
		&grant.ItemID, &grant.UserID, &permission, &grant.GrantedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query grant: %w", err)
	}

	grant.Permission = Permission(permission)
	return grant, nil
}

// ListForItem returns all grants on an item, ordered by user id.
func (s *Store) ListForItem(ctx context.Context, itemID int64) ([]*Grant, error) {
	query := `
		SELECT item_id, user_id, permission, granted_at
		FROM access_grants
		WHERE item_id = ?
		ORDER BY user_id
	`

	rows, err := s.db.QueryContext(ctx, query, itemID)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		grant := &Grant{}
		var permission string
		if err := rows.Scan(&grant.ItemID, &grant.UserID, &permission, &grant.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grant.Permission = Permission(permission)
		grants = append(grants, grant)
	}

	return grants, rows.Err()
}

// CascadeDelete removes every grant on an item. The schema's ON DELETE CASCADE
// already covers item deletion through the store; this exists for callers that
// clear grants without deleting the item. Deleting zero rows is not an error.
func (s *Store) CascadeDelete(ctx context.Context, itemID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM access_grants WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("cascade delete grants: %w", err)
	}
	return nil
}

// checkRefs verifies the referenced item and user exist inside the grant
// transaction, so Grant can signal which one is missing instead of surfacing
// a bare foreign key violation.
func checkRefs(ctx context.Context, tx *sql.Tx, itemID int64, userID string) error {
	var one int

	err := tx.QueryRowContext(ctx, `SELECT 1 FROM knowledge_items WHERE id = ?`, itemID).Scan(&one)
	if err == sql.ErrNoRows {
		return store.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("check item: %w", err)
	}

	err = tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return store.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("check user: %w", err)
	}

	return nil
}
