package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-membership/pkg/docstore"
	"github.com/tendant/simple-membership/pkg/password"
)

// plainHasher keeps the digest readable and cheap; hashing strength is
// covered by the password package tests.
type plainHasher struct{}

func (plainHasher) Salt() (string, error)       { return "salt", nil }
func (plainHasher) Hash(pw, salt string) string { return pw + "|" + salt }

func newTestService(opts ...Option) *AccountService {
	return NewAccountService(docstore.NewInMemStore(), plainHasher{}, opts...)
}

func aliceParams() CreateAccountParams {
	return CreateAccountParams{
		Tenant:   "tenant1",
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Secr3t!pw",
		FullName: "Alice A",
		Approved: true,
	}
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	acct, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)
	assert.Equal(t, "membership/users/tenant1/alice", acct.Key)
	assert.Empty(t, acct.Roles)

	ok, err := svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Authenticate(ctx, "tenant1", "alice", "wrong-pa55word", false)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Authenticate(ctx, "tenant1", "nobody", "Secr3t!pw", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthenticateTrimsCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	ok, err := svc.Authenticate(ctx, "tenant1", "  alice  ", "  Secr3t!pw  ", false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticateUnapproved(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	params := aliceParams()
	params.Approved = false
	_, err := svc.Create(ctx, params)
	require.NoError(t, err)

	ok, err := svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthenticateTouchesLastLogin(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	ok, err := svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", false)
	require.NoError(t, err)
	require.True(t, ok)
	acct, err := svc.Get(ctx, "tenant1", "alice")
	require.NoError(t, err)
	assert.Nil(t, acct.LastLoginAt)

	ok, err = svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", true)
	require.NoError(t, err)
	require.True(t, ok)
	acct, err = svc.Get(ctx, "tenant1", "alice")
	require.NoError(t, err)
	require.NotNil(t, acct.LastLoginAt)
	assert.WithinDuration(t, time.Now().UTC(), *acct.LastLoginAt, time.Minute)
}

func TestCreateRejectsWeakPassword(t *testing.T) {
	svc := newTestService()

	params := aliceParams()
	params.Password = "nodigits"
	_, err := svc.Create(context.Background(), params)
	require.Error(t, err)
}

func TestCreateDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	params := aliceParams()
	params.Email = "other@example.com"
	_, err = svc.Create(ctx, params)
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestCreateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	params := aliceParams()
	params.Username = "bob"
	_, err = svc.Create(ctx, params)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestConcurrentCreateSameUsername(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := aliceParams()
			params.Email = params.Username + string(rune('0'+i)) + "@example.com"
			_, errs[i] = svc.Create(ctx, params)
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateUsername):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			params := aliceParams()
			params.Username = params.Username + string(rune('0'+i))
			_, errs[i] = svc.Create(ctx, params)
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateEmail):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	ok, err := svc.ChangePassword(ctx, "tenant1", "alice", "Secr3t!pw", "N3w!passwd")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", false)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.Authenticate(ctx, "tenant1", "alice", "N3w!passwd", false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChangePasswordWrongOld(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	ok, err := svc.ChangePassword(ctx, "tenant1", "alice", "not-the-0ld-one", "N3w!passwd")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", false)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestChangePasswordRejectsWeakNew(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	_, err = svc.ChangePassword(ctx, "tenant1", "alice", "Secr3t!pw", "short")
	require.Error(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	created, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	err = svc.Update(ctx, UpdateAccountParams{
		Tenant:    "tenant1",
		Username:  "alice",
		Email:     "alice-new@example.com",
		FullName:  "Alice B",
		Approved:  true,
		CreatedAt: created.CreatedAt,
	})
	require.NoError(t, err)

	acct, err := svc.Get(ctx, "tenant1", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice-new@example.com", acct.Email)
	assert.Equal(t, "Alice B", acct.FullName)

	// The old email claim is released and the new one held.
	params := aliceParams()
	params.Username = "bob"
	_, err = svc.Create(ctx, params)
	require.NoError(t, err)

	params = aliceParams()
	params.Username = "carol"
	params.Email = "alice-new@example.com"
	_, err = svc.Create(ctx, params)
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUpdateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	bob := aliceParams()
	bob.Username = "bob"
	bob.Email = "bob@example.com"
	created, err := svc.Create(ctx, bob)
	require.NoError(t, err)

	err = svc.Update(ctx, UpdateAccountParams{
		Tenant:    "tenant1",
		Username:  "bob",
		Email:     "alice@example.com",
		Approved:  true,
		CreatedAt: created.CreatedAt,
	})
	assert.ErrorIs(t, err, ErrDuplicateEmail)

	acct, err := svc.Get(ctx, "tenant1", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", acct.Email)
}

func TestUpdateAbsentAccount(t *testing.T) {
	svc := newTestService()

	err := svc.Update(context.Background(), UpdateAccountParams{
		Tenant:   "tenant1",
		Username: "ghost",
		Email:    "ghost@example.com",
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	assert.True(t, svc.Delete(ctx, "tenant1", "alice"))
	_, err = svc.Get(ctx, "tenant1", "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again, or deleting an account that never existed, reports
	// false without erroring.
	assert.False(t, svc.Delete(ctx, "tenant1", "alice"))
	assert.False(t, svc.Delete(ctx, "tenant1", "ghost"))

	// The email claim was released with the account.
	params := aliceParams()
	params.Username = "bob"
	_, err = svc.Create(ctx, params)
	assert.NoError(t, err)
}

type capturingNotifier struct {
	email    string
	username string
	password string
}

func (n *capturingNotifier) NotifyPasswordReset(ctx context.Context, email, username, newPassword string) error {
	n.email = email
	n.username = username
	n.password = newPassword
	return nil
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	notifier := &capturingNotifier{}
	svc := newTestService(WithResetNotifier(notifier))

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	newPw, err := svc.ResetPassword(ctx, "tenant1", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, newPw)
	assert.NoError(t, password.NewDefaultPolicyChecker(nil).CheckPasswordComplexity(newPw))

	ok, err := svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", false)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = svc.Authenticate(ctx, "tenant1", "alice", newPw, false)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, "alice@example.com", notifier.email)
	assert.Equal(t, "alice", notifier.username)
	assert.Equal(t, newPw, notifier.password)
}

func TestResetPasswordAbsentAccount(t *testing.T) {
	svc := newTestService()

	_, err := svc.ResetPassword(context.Background(), "tenant1", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPasswordValidatorVeto(t *testing.T) {
	banned := errors.New("password is on the banned list")
	svc := newTestService(WithPasswordValidator(func(pw string) error {
		if strings.Contains(pw, "Secr3t") {
			return banned
		}
		return nil
	}))

	_, err := svc.Create(context.Background(), aliceParams())
	assert.ErrorIs(t, err, banned)
}

func TestUsernameByEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	username, err := svc.UsernameByEmail(ctx, "tenant1", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	_, err = svc.UsernameByEmail(ctx, "tenant1", "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	// Same email in another tenant is a different claim.
	_, err = svc.UsernameByEmail(ctx, "tenant2", "alice@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAllPagination(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	for _, username := range []string{"alice", "bob", "carol"} {
		params := aliceParams()
		params.Username = username
		params.Email = username + "@example.com"
		_, err := svc.Create(ctx, params)
		require.NoError(t, err)
	}

	accounts, total, err := svc.All(ctx, "tenant1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, accounts, 2)

	accounts, total, err = svc.All(ctx, "tenant1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, accounts, 1)

	accounts, total, err = svc.All(ctx, "tenant2", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, accounts)
}

func TestFindByUsernameAndEmail(t *testing.T) {
	ctx := context.Background()
	svc := newTestService()

	_, err := svc.Create(ctx, aliceParams())
	require.NoError(t, err)

	accounts, total, err := svc.FindByUsername(ctx, "tenant1", "alice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice", accounts[0].Username)

	accounts, total, err = svc.FindByEmail(ctx, "tenant1", "alice@example.com", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, accounts, 1)
	assert.Equal(t, "alice@example.com", accounts[0].Email)
}
