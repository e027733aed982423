package account

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/simple-membership/pkg/docstore"
	"github.com/tendant/simple-membership/pkg/keygen"
	"github.com/tendant/simple-membership/pkg/password"
)

// ResetNotifier is told the generated plaintext after a successful password
// reset so it can be delivered out of band.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, email, username, newPassword string) error
}

// AccountService provides account management on top of the document store.
// Every mutating operation stages its writes in a single session and commits
// once, so uniqueness races surface as commit conflicts, never as partial
// writes.
type AccountService struct {
	store    docstore.Store
	hasher   password.Hasher
	checker  password.PolicyChecker
	validate func(password string) error
	notifier ResetNotifier
}

// Option configures an AccountService.
type Option func(*AccountService)

// WithPolicyChecker overrides the default password policy checker.
func WithPolicyChecker(checker password.PolicyChecker) Option {
	return func(s *AccountService) {
		s.checker = checker
	}
}

// WithPasswordValidator installs an additional veto over candidate passwords,
// checked after the policy.
func WithPasswordValidator(fn func(password string) error) Option {
	return func(s *AccountService) {
		s.validate = fn
	}
}

// WithResetNotifier installs a notifier for generated reset passwords.
func WithResetNotifier(notifier ResetNotifier) Option {
	return func(s *AccountService) {
		s.notifier = notifier
	}
}

// NewAccountService creates a new account service.
func NewAccountService(store docstore.Store, hasher password.Hasher, opts ...Option) *AccountService {
	svc := &AccountService{
		store:   store,
		hasher:  hasher,
		checker: password.NewDefaultPolicyChecker(nil),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *AccountService) checkPassword(pw string) error {
	if err := s.checker.CheckPasswordComplexity(pw); err != nil {
		return err
	}
	if s.validate != nil {
		return s.validate(pw)
	}
	return nil
}

// Create registers a new account and claims its email in one transaction.
// Returns ErrDuplicateUsername or ErrDuplicateEmail when the commit lost the
// race for either claim.
func (s *AccountService) Create(ctx context.Context, params CreateAccountParams) (Account, error) {
	pw := strings.TrimSpace(params.Password)
	if err := s.checkPassword(pw); err != nil {
		return Account{}, err
	}

	salt, err := s.hasher.Salt()
	if err != nil {
		return Account{}, err
	}

	acct := Account{
		Key:          keygen.AccountKey(params.Tenant, params.Username),
		Tenant:       params.Tenant,
		Username:     params.Username,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: s.hasher.Hash(pw, salt),
		PasswordSalt: salt,
		Approved:     params.Approved,
		CreatedAt:    time.Now().UTC(),
		Roles:        []string{},
	}

	sess := s.store.OpenSession()
	sess.Store(&acct)
	emailKey := claimEmail(sess, params.Tenant, params.Email)

	if err := sess.SaveChanges(ctx); err != nil {
		err = interpretConflict(err, acct.Key, emailKey)
		if !errors.Is(err, ErrDuplicateUsername) && !errors.Is(err, ErrDuplicateEmail) {
			slog.Error("Failed to create account", "tenant", params.Tenant, "username", params.Username, "err", err)
		}
		return Account{}, err
	}
	return acct, nil
}

// Authenticate checks credentials. It returns false when the account is
// absent, not approved, or the digest does not match. With touchLastLogin the
// last-login timestamp is updated in the same transaction. Surrounding
// whitespace is trimmed from both inputs for compatibility with callers that
// pad them.
func (s *AccountService) Authenticate(ctx context.Context, tenant, username, pw string, touchLastLogin bool) (bool, error) {
	username = strings.TrimSpace(username)
	pw = strings.TrimSpace(pw)

	sess := s.store.OpenSession()
	var acct Account
	ok, err := sess.Load(ctx, keygen.AccountKey(tenant, username), &acct)
	if err != nil {
		return false, err
	}
	if !ok || !acct.Approved || !digestEqual(s.hasher.Hash(pw, acct.PasswordSalt), acct.PasswordHash) {
		return false, nil
	}

	if touchLastLogin {
		now := time.Now().UTC()
		acct.LastLoginAt = &now
		sess.Store(&acct)
		if err := sess.SaveChanges(ctx); err != nil {
			return false, fmt.Errorf("failed to record login: %w", err)
		}
	}
	return true, nil
}

// ChangePassword re-authenticates with the old password, then re-salts and
// re-hashes the new one. A mismatching old password reports false, not an
// error.
func (s *AccountService) ChangePassword(ctx context.Context, tenant, username, oldPw, newPw string) (bool, error) {
	username = strings.TrimSpace(username)
	oldPw = strings.TrimSpace(oldPw)
	newPw = strings.TrimSpace(newPw)

	if err := s.checkPassword(newPw); err != nil {
		return false, err
	}

	sess := s.store.OpenSession()
	var acct Account
	ok, err := sess.Load(ctx, keygen.AccountKey(tenant, username), &acct)
	if err != nil {
		return false, err
	}
	if !ok || !digestEqual(s.hasher.Hash(oldPw, acct.PasswordSalt), acct.PasswordHash) {
		return false, nil
	}

	if err := s.rehash(&acct, newPw); err != nil {
		return false, err
	}
	sess.Store(&acct)
	if err := sess.SaveChanges(ctx); err != nil {
		return false, fmt.Errorf("failed to change password: %w", err)
	}
	return true, nil
}

// Update applies the updatable provider fields. When the email changes, the
// old claim is released and the new one claimed in the same transaction as
// the field updates, so the swap is atomic. A conflict on the new claim is
// reported as ErrDuplicateEmail.
func (s *AccountService) Update(ctx context.Context, params UpdateAccountParams) error {
	sess := s.store.OpenSession()
	var acct Account
	ok, err := sess.Load(ctx, keygen.AccountKey(params.Tenant, params.Username), &acct)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	var emailKey string
	if acct.Email != params.Email {
		releaseEmail(sess, params.Tenant, acct.Email)
		emailKey = claimEmail(sess, params.Tenant, params.Email)
	}

	acct.Email = params.Email
	acct.FullName = params.FullName
	acct.Approved = params.Approved
	acct.CreatedAt = params.CreatedAt
	acct.LastLoginAt = params.LastLoginAt

	sess.Store(&acct)
	if err := sess.SaveChanges(ctx); err != nil {
		return interpretConflict(err, "", emailKey)
	}
	return nil
}

// Delete removes the account and its email claim. Deletion is best effort:
// failures are logged and reported as false, never propagated, so callers
// can treat it as idempotent.
func (s *AccountService) Delete(ctx context.Context, tenant, username string) bool {
	sess := s.store.OpenSession()
	var acct Account
	ok, err := sess.Load(ctx, keygen.AccountKey(tenant, username), &acct)
	if err != nil {
		slog.Error("Failed to load account for deletion", "tenant", tenant, "username", username, "err", err)
		return false
	}
	if !ok {
		slog.Warn("Account to delete not found", "tenant", tenant, "username", username)
		return false
	}

	releaseEmail(sess, tenant, acct.Email)
	sess.Delete(&acct)
	if err := sess.SaveChanges(ctx); err != nil {
		slog.Error("Failed to delete account", "tenant", tenant, "username", username, "err", err)
		return false
	}
	return true
}

// ResetPassword replaces the password with a generated one satisfying the
// policy and returns the plaintext, the one place plaintext legitimately
// crosses the boundary, since it has to reach the owner out of band.
func (s *AccountService) ResetPassword(ctx context.Context, tenant, username string) (string, error) {
	sess := s.store.OpenSession()
	var acct Account
	ok, err := sess.Load(ctx, keygen.AccountKey(tenant, username), &acct)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}

	newPw, err := password.Generate(s.checker.GetPolicy())
	if err != nil {
		return "", err
	}
	if err := s.rehash(&acct, newPw); err != nil {
		return "", err
	}
	sess.Store(&acct)
	if err := sess.SaveChanges(ctx); err != nil {
		return "", fmt.Errorf("failed to reset password: %w", err)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyPasswordReset(ctx, acct.Email, acct.Username, newPw); err != nil {
			slog.Error("Failed to send reset notification", "tenant", tenant, "username", username, "err", err)
		}
	}
	return newPw, nil
}

// Get loads an account by tenant and username.
func (s *AccountService) Get(ctx context.Context, tenant, username string) (Account, error) {
	return s.GetByKey(ctx, keygen.AccountKey(tenant, username))
}

// GetByKey loads an account by its document key.
func (s *AccountService) GetByKey(ctx context.Context, key string) (Account, error) {
	sess := s.store.OpenSession()
	var acct Account
	ok, err := sess.Load(ctx, key, &acct)
	if err != nil {
		return Account{}, err
	}
	if !ok {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

// UsernameByEmail resolves the username holding an email within a tenant.
func (s *AccountService) UsernameByEmail(ctx context.Context, tenant, email string) (string, error) {
	sess := s.store.OpenSession()
	result, err := sess.Query(Collection).
		WhereEq(FieldTenant, tenant).
		WhereEq(FieldEmail, email).
		Take(1).
		Run(ctx)
	if err != nil {
		return "", err
	}
	if len(result.Docs) == 0 {
		return "", ErrNotFound
	}

	var acct Account
	if err := json.Unmarshal(result.Docs[0], &acct); err != nil {
		return "", fmt.Errorf("failed to decode account: %w", err)
	}
	return acct.Username, nil
}

// FindByUsername returns the page of accounts matching a username exactly,
// plus the total match count.
func (s *AccountService) FindByUsername(ctx context.Context, tenant, username string, pageIndex, pageSize int) ([]Account, int, error) {
	return s.find(ctx, tenant, FieldUsername, username, pageIndex, pageSize)
}

// FindByEmail returns the page of accounts matching an email exactly, plus
// the total match count.
func (s *AccountService) FindByEmail(ctx context.Context, tenant, email string, pageIndex, pageSize int) ([]Account, int, error) {
	return s.find(ctx, tenant, FieldEmail, email, pageIndex, pageSize)
}

// All returns one page of the tenant's accounts plus the total count.
func (s *AccountService) All(ctx context.Context, tenant string, pageIndex, pageSize int) ([]Account, int, error) {
	return s.find(ctx, tenant, "", "", pageIndex, pageSize)
}

func (s *AccountService) find(ctx context.Context, tenant, field, value string, pageIndex, pageSize int) ([]Account, int, error) {
	sess := s.store.OpenSession()
	q := sess.Query(Collection).WhereEq(FieldTenant, tenant)
	if field != "" {
		q = q.WhereEq(field, value)
	}
	result, err := q.Skip(pageIndex * pageSize).Take(pageSize).Run(ctx)
	if err != nil {
		return nil, 0, err
	}

	accounts := make([]Account, 0, len(result.Docs))
	for _, raw := range result.Docs {
		var acct Account
		if err := json.Unmarshal(raw, &acct); err != nil {
			return nil, 0, fmt.Errorf("failed to decode account: %w", err)
		}
		accounts = append(accounts, acct)
	}
	return accounts, result.Total, nil
}

func (s *AccountService) rehash(acct *Account, pw string) error {
	salt, err := s.hasher.Salt()
	if err != nil {
		return err
	}
	acct.PasswordSalt = salt
	acct.PasswordHash = s.hasher.Hash(pw, salt)
	return nil
}

func digestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
