package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// TenantID identifies the isolation boundary of one user. It is supplied by
// the authentication collaborator and is never read from request bodies.
type TenantID string

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,56}$`)

// ParseTenantID validates a raw tenant identifier.
func ParseTenantID(raw string) (TenantID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrMissingTenant
	}
	if !tenantPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, raw)
	}
	return TenantID(id), nil
}

// Validate reports whether the tenant id is present and well formed.
func (t TenantID) Validate() error {
	_, err := ParseTenantID(string(t))
	return err
}

// Namespace returns the name of the tenant's index partition.
func (t TenantID) Namespace() string { return "tenant_" + string(t) }

func (t TenantID) String() string { return string(t) }
