package access

import (
	"context"

	"github.com/kbvault/kbvault/internal/store"
)

// Resolve decides whether user may perform an operation needing required on
// item, given the explicit grant for that (item, user) pair (nil when none
// exists). It is pure: no I/O, deterministic for a given snapshot.
//
// Precedence, first match wins:
//  1. global administrator role
//  2. item author
//  3. public visibility, for read
//  4. explicit grant covering the required level
func Resolve(user *store.User, item *store.KnowledgeItem, required Permission, grant *Grant) bool {
	if user == nil || item == nil || required.Level() == 0 {
		return false
	}

	if user.IsAdmin() {
		return true
	}

	if item.AuthorID == user.ID {
		return true
	}

	if required == PermissionRead && item.Visibility == store.VisibilityPublic {
		return true
	}

	if grant != nil && grant.ItemID == item.ID && grant.UserID == user.ID {
		return grant.Permission.Covers(required)
	}

	return false
}

// Checker combines the pure resolver with a grant lookup, giving callers the
// one-call check_access the outer layers use.
type Checker struct {
	grants *Store
}

// NewChecker creates a Checker backed by the given grant store.
func NewChecker(grants *Store) *Checker {
	return &Checker{grants: grants}
}

// Check reports whether user holds required on item. A failed grant lookup
// fails closed.
func (c *Checker) Check(ctx context.Context, user *store.User, item *store.KnowledgeItem, required Permission) (bool, error) {
	// Grant-independent rules first; skips a query for authors, admins, and
	// public reads.
	if Resolve(user, item, required, nil) {
		return true, nil
	}
	if user == nil || item == nil {
		return false, nil
	}

	grant, err := c.grants.Lookup(ctx, item.ID, user.ID)
	if err != nil {
		return false, err
	}

	return Resolve(user, item, required, grant), nil
}
