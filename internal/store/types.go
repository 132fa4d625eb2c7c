package store

import (
	"time"
)

// Visibility controls who can read a knowledge item without an explicit grant.
type Visibility string

const (
	// VisibilityPublic items are readable by every authenticated user.
	VisibilityPublic Visibility = "public"
	// VisibilityPrivate items are readable only by the author, global admins,
	// and users with an explicit grant.
	VisibilityPrivate Visibility = "private"
	// VisibilityRestricted items behave like private ones; the label exists so
	// callers can distinguish "deliberately shared with a few" from "mine".
	VisibilityRestricted Visibility = "restricted"
)

// Valid reports whether v is a known visibility label.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityRestricted:
		return true
	}
	return false
}

// Well-known user roles. Role is a free-form label; only RoleAdmin carries
// special meaning to the permission resolver.
const (
	RoleAdmin      = "admin"
	RoleUser       = "user"
	RoleEducator   = "educator"
	RoleResearcher = "researcher"
	RoleExpert     = "expert"
)

// User is a registered account. Authentication (passwords, sessions) lives in
// the outer application layer; the core only needs identity and role.
type User struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName,omitempty"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user holds the global administrator role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// KnowledgeItem is one entry in the repository. Tags is a comma-delimited
// label set, matching what the index stores.
type KnowledgeItem struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	Category    string     `json:"category,omitempty"`
	Tags        string     `json:"tags,omitempty"`
	Visibility  Visibility `json:"visibility"`
	AuthorID    string     `json:"authorId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// StoreError is a typed error with a stable code, so callers can branch on
// kind without matching message text.
type StoreError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *StoreError) Error() string {
	return e.Message
}

// Common store errors.
var (
	ErrItemNotFound = &StoreError{Code: "ITEM_NOT_FOUND", Message: "knowledge item not found"}
	ErrUserNotFound = &StoreError{Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrUserExists   = &StoreError{Code: "USER_EXISTS", Message: "username already exists"}
)
