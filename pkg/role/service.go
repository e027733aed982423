package role

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tendant/simple-membership/pkg/account"
	"github.com/tendant/simple-membership/pkg/docstore"
	"github.com/tendant/simple-membership/pkg/keygen"
)

// RoleService provides role management and membership edits. Membership is
// stored as role keys on each account document; this service maintains those
// back references, including the cascade when a role is deleted.
type RoleService struct {
	store docstore.Store
}

// NewRoleService creates a new role service.
func NewRoleService(store docstore.Store) *RoleService {
	return &RoleService{
		store: store,
	}
}

// CreateRole adds a new role. The role key already encodes tenant and name,
// so a duplicate name surfaces as a key conflict and is reported as
// ErrRoleExists. A non-empty parentKey namespaces the role key under the
// parent; such roles are not resolvable by the (tenant, name) lookups on this
// service, so callers creating them must keep the returned key.
func (s *RoleService) CreateRole(ctx context.Context, tenant, name, parentKey string) (Role, error) {
	if name == "" {
		return Role{}, ErrEmptyRoleName
	}

	r := Role{
		Key:       keygen.RoleKey(tenant, name, parentKey),
		Tenant:    tenant,
		Name:      name,
		ParentKey: parentKey,
	}

	sess := s.store.OpenSession()
	sess.Store(&r)
	if err := sess.SaveChanges(ctx); err != nil {
		if conflictsOn(err, r.Key) {
			return Role{}, ErrRoleExists
		}
		slog.Error("Failed to create role", "tenant", tenant, "name", name, "err", err)
		return Role{}, err
	}
	return r, nil
}

// DeleteRole removes a role after detaching it from every member account,
// all in one transaction. Returns false when the role does not exist. With
// failIfPopulated set, a role that still has members fails with
// ErrRolePopulated and nothing is changed.
func (s *RoleService) DeleteRole(ctx context.Context, tenant, name string, failIfPopulated bool) (bool, error) {
	sess := s.store.OpenSession()

	var r Role
	ok, err := sess.Load(ctx, keygen.RoleKey(tenant, name, ""), &r)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	memberKeys, err := s.memberKeys(ctx, sess, tenant, r.Key)
	if err != nil {
		return false, err
	}
	if failIfPopulated && len(memberKeys) > 0 {
		return false, fmt.Errorf("%w: %s", ErrRolePopulated, r.Name)
	}

	members, err := loadAccounts(ctx, sess, memberKeys)
	if err != nil {
		return false, err
	}
	for _, acct := range members {
		acct.Roles = remove(acct.Roles, r.Key)
		sess.Store(acct)
	}
	sess.Delete(&r)

	if err := sess.SaveChanges(ctx); err != nil {
		slog.Error("Failed to delete role", "tenant", tenant, "name", name, "err", err)
		return false, err
	}
	return true, nil
}

// AddUsersToRoles adds every named role to every named account. Unknown
// usernames and role names are silently skipped; membership is a set, so
// adding an existing role is a no-op.
func (s *RoleService) AddUsersToRoles(ctx context.Context, tenant string, usernames, roleNames []string) error {
	return s.editMembership(ctx, tenant, usernames, roleNames, union)
}

// RemoveUsersFromRoles removes every named role from every named account,
// with the same skip-unknown policy as AddUsersToRoles.
func (s *RoleService) RemoveUsersFromRoles(ctx context.Context, tenant string, usernames, roleNames []string) error {
	return s.editMembership(ctx, tenant, usernames, roleNames, difference)
}

func (s *RoleService) editMembership(ctx context.Context, tenant string, usernames, roleNames []string, combine func(current, edit []string) []string) error {
	if len(usernames) == 0 || len(roleNames) == 0 {
		return nil
	}

	sess := s.store.OpenSession()

	accounts, err := loadAccounts(ctx, sess, accountKeys(tenant, usernames))
	if err != nil {
		return err
	}

	// Load the roles so names that do not exist are dropped.
	roleKeys, err := resolveRoleKeys(ctx, sess, tenant, roleNames)
	if err != nil {
		return err
	}

	for _, acct := range accounts {
		acct.Roles = combine(acct.Roles, roleKeys)
		sess.Store(acct)
	}

	if err := sess.SaveChanges(ctx); err != nil {
		slog.Error("Failed to update role membership", "tenant", tenant, "err", err)
		return err
	}
	return nil
}

// IsUserInRole reports whether the account holds the role. Unknown accounts
// and roles report false.
func (s *RoleService) IsUserInRole(ctx context.Context, tenant, username, roleName string) (bool, error) {
	sess := s.store.OpenSession()

	var acct account.Account
	ok, err := sess.Load(ctx, keygen.AccountKey(tenant, username), &acct)
	if err != nil || !ok {
		return false, err
	}

	var r Role
	ok, err = sess.Load(ctx, keygen.RoleKey(tenant, roleName, ""), &r)
	if err != nil || !ok {
		return false, err
	}

	return contains(acct.Roles, r.Key), nil
}

// RolesForUser returns the names of the roles held by an account.
func (s *RoleService) RolesForUser(ctx context.Context, tenant, username string) ([]string, error) {
	sess := s.store.OpenSession()

	var acct account.Account
	ok, err := sess.Load(ctx, keygen.AccountKey(tenant, username), &acct)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, account.ErrNotFound
	}

	names := []string{}
	err = sess.LoadMany(ctx, acct.Roles, func(key string, raw json.RawMessage) error {
		var r Role
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("failed to decode role %s: %w", key, err)
		}
		names = append(names, r.Name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// UsersInRole returns the usernames of every account holding the role.
func (s *RoleService) UsersInRole(ctx context.Context, tenant, roleName string) ([]string, error) {
	return s.findUsersInRole(ctx, tenant, roleName, "")
}

// FindUsersInRole returns the usernames of accounts holding the role whose
// username contains the given substring. The match is a literal contains,
// not a pattern language.
func (s *RoleService) FindUsersInRole(ctx context.Context, tenant, roleName, usernameSubstring string) ([]string, error) {
	return s.findUsersInRole(ctx, tenant, roleName, usernameSubstring)
}

func (s *RoleService) findUsersInRole(ctx context.Context, tenant, roleName, usernameSubstring string) ([]string, error) {
	sess := s.store.OpenSession()

	var r Role
	ok, err := sess.Load(ctx, keygen.RoleKey(tenant, roleName, ""), &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoleNotFound
	}

	q := sess.Query(account.Collection).
		WhereEq(account.FieldTenant, tenant).
		WhereAnyEq(account.FieldRoles, r.Key)
	if usernameSubstring != "" {
		q = q.WhereContains(account.FieldUsername, usernameSubstring)
	}
	result, err := q.Run(ctx)
	if err != nil {
		return nil, err
	}

	usernames := []string{}
	for _, raw := range result.Docs {
		var acct account.Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		usernames = append(usernames, acct.Username)
	}
	return usernames, nil
}

// AllRoles returns the names of every role in the tenant.
func (s *RoleService) AllRoles(ctx context.Context, tenant string) ([]string, error) {
	sess := s.store.OpenSession()
	result, err := sess.Query(Collection).WhereEq(FieldTenant, tenant).Run(ctx)
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, raw := range result.Docs {
		var r Role
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("failed to decode role: %w", err)
		}
		names = append(names, r.Name)
	}
	return names, nil
}

// Exists reports whether a role with the given name exists in the tenant.
func (s *RoleService) Exists(ctx context.Context, tenant, name string) (bool, error) {
	sess := s.store.OpenSession()
	var r Role
	return sess.Load(ctx, keygen.RoleKey(tenant, name, ""), &r)
}

// GetRole loads a role by tenant and name.
func (s *RoleService) GetRole(ctx context.Context, tenant, name string) (Role, error) {
	sess := s.store.OpenSession()
	var r Role
	ok, err := sess.Load(ctx, keygen.RoleKey(tenant, name, ""), &r)
	if err != nil {
		return Role{}, err
	}
	if !ok {
		return Role{}, ErrRoleNotFound
	}
	return r, nil
}

// memberKeys queries the keys of every account in the tenant holding roleKey.
func (s *RoleService) memberKeys(ctx context.Context, sess docstore.Session, tenant, roleKey string) ([]string, error) {
	result, err := sess.Query(account.Collection).
		WhereEq(account.FieldTenant, tenant).
		WhereAnyEq(account.FieldRoles, roleKey).
		Run(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(result.Docs))
	for _, raw := range result.Docs {
		var acct account.Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		keys = append(keys, acct.Key)
	}
	return keys, nil
}

// loadAccounts loads accounts by key through the session so their versions
// are tracked for the commit. Missing keys are skipped.
func loadAccounts(ctx context.Context, sess docstore.Session, keys []string) ([]*account.Account, error) {
	accounts := make([]*account.Account, 0, len(keys))
	err := sess.LoadMany(ctx, keys, func(key string, raw json.RawMessage) error {
		var acct account.Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return fmt.Errorf("failed to decode account %s: %w", key, err)
		}
		accounts = append(accounts, &acct)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// resolveRoleKeys loads the named roles and returns the keys of those that
// exist.
func resolveRoleKeys(ctx context.Context, sess docstore.Session, tenant string, roleNames []string) ([]string, error) {
	keys := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		keys = append(keys, keygen.RoleKey(tenant, name, ""))
	}

	resolved := []string{}
	err := sess.LoadMany(ctx, keys, func(key string, raw json.RawMessage) error {
		resolved = append(resolved, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func accountKeys(tenant string, usernames []string) []string {
	keys := make([]string, 0, len(usernames))
	for _, username := range usernames {
		keys = append(keys, keygen.AccountKey(tenant, username))
	}
	return keys
}

func conflictsOn(err error, key string) bool {
	var conflict *docstore.ConcurrencyError
	return errors.As(err, &conflict) && conflict.Key == key
}

func union(current, edit []string) []string {
	merged := append([]string{}, current...)
	for _, key := range edit {
		if !contains(merged, key) {
			merged = append(merged, key)
		}
	}
	return merged
}

func difference(current, edit []string) []string {
	kept := []string{}
	for _, key := range current {
		if !contains(edit, key) {
			kept = append(kept, key)
		}
	}
	return kept
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func remove(keys []string, key string) []string {
	return difference(keys, []string{key})
}
