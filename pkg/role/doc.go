// Package role manages tenant-scoped roles and role membership.
//
// A role's key embeds tenant and name, which makes names unique per tenant
// without any extra bookkeeping. Membership lives on the account documents as
// a set of role keys; this package maintains those back references, including
// detaching every member atomically when a role is deleted. Membership edits
// silently skip unknown usernames and role names.
package role
