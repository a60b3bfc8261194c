// Package subscriber is the authoritative contact -> subscriber mapping.
//
// The set is kept in memory, persisted as one encrypted JSON document, and
// mirrored to a backup file after every successful save. Load falls back to the
// backup when the primary cannot be decrypted or parsed.
package subscriber

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"relaybot/internal/errs"
)

// ReservedPrefix may not start a display name.
const ReservedPrefix = "_"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleSuper Role = "super"
)

// ParseRole validates a role name (case-insensitive).
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case RoleUser, RoleAdmin, RoleSuper:
		return r, nil
	}
	return "", goerr.Wrap(errs.ErrValidation, "invalid role", goerr.V("role", s))
}

// rank orders roles by privilege.
func (r Role) rank() int {
	switch r {
	case RoleSuper:
		return 2
	case RoleAdmin:
		return 1
	default:
		return 0
	}
}

// IsPrivileged reports admin or super.
func (r Role) IsPrivileged() bool { return r.rank() > 0 }

type Subscriber struct {
	Contact string `json:"-"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Role    Role   `json:"role"`
}

// document is the decrypted on-disk shape: contact -> record.
type document map[string]Subscriber
