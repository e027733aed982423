// Package keygen derives the document keys used by the membership store.
// Keys are pure functions of the tenant and the entity's natural identifying
// fields, so a document can always be loaded directly by key instead of
// queried for.
package keygen

import "strings"

const (
	accountNamespace    = "membership/users/"
	roleNamespace       = "membership/roles/"
	constraintNamespace = "membership/constraints/"
)

// AccountKey derives the document key for an account. An empty tenant keys
// into the global namespace.
func AccountKey(tenant, username string) string {
	return accountNamespace + tenantSegment(tenant) + username
}

// RoleKey derives the document key for a role. When parentKey is set the role
// is namespaced under its parent instead of the tenant.
func RoleKey(tenant, name, parentKey string) string {
	if parentKey != "" {
		return parentKey + "/" + name
	}
	return roleNamespace + tenantSegment(tenant) + name
}

// ConstraintKey derives the document key for a uniqueness claim on
// (tenant, field, value). Two attempts to claim the same triple collide on
// the same key, which is the entire enforcement mechanism.
func ConstraintKey(tenant, field, value string) string {
	return constraintNamespace + field + "/" + tenantSegment(tenant) + value
}

// tenantSegment sanitizes the tenant by stripping path separators so a tenant
// name cannot escape into another tenant's key space.
func tenantSegment(tenant string) string {
	tenant = strings.ReplaceAll(tenant, "/", "")
	if tenant == "" {
		return ""
	}
	return tenant + "/"
}
