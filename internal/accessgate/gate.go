// Package accessgate answers the single question the rest of the service
// asks before touching the ticket queue: does this caller hold one of the
// shared access keys, and is it the admin one.
package accessgate

import (
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	errMissingUserKey  = errors.New("accessgate: user access key is required")
	errMissingAdminKey = errors.New("accessgate: admin access key is required")
)

// Config carries the shared secrets, sourced from process configuration
// rather than read ad hoc from the environment.
type Config struct {
	UserKey  string
	AdminKey string
}

// Gate performs the key check.
type Gate struct {
	userKey  []byte
	adminKey []byte
}

// New validates the configuration and returns a Gate.
func New(cfg Config) (*Gate, error) {
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, errMissingUserKey
	}
	if strings.TrimSpace(cfg.AdminKey) == "" {
		return nil, errMissingAdminKey
	}
	return &Gate{
		userKey:  []byte(cfg.UserKey),
		adminKey: []byte(cfg.AdminKey),
	}, nil
}

// Decision is the authorize/deny outcome for one presented key.
type Decision struct {
	Authorized bool
	Admin      bool
}

// Authorize checks the presented key against both configured keys using
// constant-time comparison. An empty key is always denied.
func (g *Gate) Authorize(accessKey string) Decision {
	if accessKey == "" {
		return Decision{}
	}
	presented := []byte(accessKey)
	isAdmin := subtle.ConstantTimeCompare(presented, g.adminKey) == 1
	isUser := subtle.ConstantTimeCompare(presented, g.userKey) == 1
	return Decision{
		Authorized: isAdmin || isUser,
		Admin:      isAdmin,
	}
}
