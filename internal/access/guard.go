package access

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/kbvault/kbvault/internal/logging"
	"github.com/kbvault/kbvault/internal/store"
)

// ItemGetter is the slice of the item store the guard needs.
type ItemGetter interface {
	GetItem(ctx context.Context, id int64) (*store.KnowledgeItem, error)
}

// Guard is the capability check wrapped around every item operation by the
// outer request layer: fetch the item, resolve the required permission, and
// hand the item to the handler only when the check passes.
//
// A denied check returns store.ErrItemNotFound, the same shape as a genuinely
// missing item, so callers cannot probe for the existence of restricted items.
// The internal distinction is kept in the audit log.
type Guard struct {
	items   ItemGetter
	checker *Checker
	log     zerolog.Logger
}

// NewGuard creates a Guard over the given item store and grant store.
func NewGuard(items ItemGetter, grants *Store) *Guard {
	return &Guard{
		items:   items,
		checker: NewChecker(grants),
		log:     logging.Component("access"),
	}
}

// Check fetches itemID and verifies user holds required on it.
func (g *Guard) Check(ctx context.Context, user *store.User, itemID int64, required Permission) (*store.KnowledgeItem, error) {
	item, err := g.items.GetItem(ctx, itemID)
	if err != nil {
		g.log.Debug().Int64("item", itemID).Err(err).Msg("guard: item lookup failed")
		return nil, err
	}

	ok, err := g.checker.Check(ctx, user, item, required)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Audit trail keeps the real reason; the caller sees not-found.
		g.log.Info().
			Int64("item", itemID).
			Str("user", userID(user)).
			Str("required", string(required)).
			Str("reason", ErrDenied.Code).
			Msg("guard: access denied")
		return nil, store.ErrItemNotFound
	}

	return item, nil
}

// CheckAccess is the bare boolean form used by callers that already hold the
// item, mirroring the resolver contract.
func (g *Guard) CheckAccess(ctx context.Context, user *store.User, item *store.KnowledgeItem, required Permission) bool {
	ok, err := g.checker.Check(ctx, user, item, required)
	if err != nil {
		g.log.Warn().Err(err).Msg("guard: grant lookup failed, denying")
		return false
	}
	return ok
}

func userID(user *store.User) string {
	if user == nil {
		return ""
	}
	return user.ID
}
