package tenancy

import "errors"

var (
	// ErrTenantNotFound is returned when no tenant matches the routing key or id.
	ErrTenantNotFound = errors.New("tenancy: tenant not found")

	// ErrTenantInactive is returned when the tenant exists but is disabled.
	ErrTenantInactive = errors.New("tenancy: tenant inactive")

	// ErrInvalidTenant is returned when a stored tenant lacks required fields.
	ErrInvalidTenant = errors.New("tenancy: tenant misconfigured")
)
