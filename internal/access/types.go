// Package access implements permission resolution and access grants for
// knowledge items. The resolver is a pure decision function; the store
// persists explicit grants; the guard is the capability check the outer
// request layer wraps around every item operation.
package access

import (
	"time"
)

// Permission is a grantable access level. Levels are totally ordered:
// admin implies write, write implies read.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Level returns the rank of the permission in the ordering, with higher
// meaning more powerful. Unknown permissions rank below read.
func (p Permission) Level() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	}
	return 0
}

// Covers reports whether p satisfies a request for required.
func (p Permission) Covers(required Permission) bool {
	return p.Level() >= required.Level() && required.Level() > 0
}

// ParsePermission validates a permission label.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionRead, PermissionWrite, PermissionAdmin:
		return Permission(s), nil
	}
	return "", &AccessError{Code: "INVALID_PERMISSION", Message: "invalid permission: " + s}
}

// Grant is an explicit (item, user, permission) authorization record. At most
// one grant exists per (item, user) pair; re-granting overwrites the level.
type Grant struct {
	ItemID     int64      `json:"itemId"`
	UserID     string     `json:"userId"`
	Permission Permission `json:"permission"`
	GrantedAt  time.Time  `json:"grantedAt"`
}

// AccessError is a typed error with a stable code.
type AccessError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *AccessError) Error() string {
	return e.Message
}

// Common access errors.
var (
	// ErrGrantNotFound signals a revoke of a grant that does not exist.
	ErrGrantNotFound = &AccessError{Code: "GRANT_NOT_FOUND", Message: "access grant not found"}

	// ErrDenied signals a failed permission check. The guard never lets this
	// escape to callers; it is collapsed to the not-found shape so restricted
	// items are indistinguishable from nonexistent ones.
	ErrDenied = &AccessError{Code: "ACCESS_DENIED", Message: "access denied"}
)
