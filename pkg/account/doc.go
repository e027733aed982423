// Package account manages tenant-scoped user accounts on the document store.
//
// Accounts are keyed by a pure function of (tenant, username), so lookups are
// direct key loads and a duplicate username is simply a create conflict on
// the account key. Email uniqueness rides on a second document: every account
// owns a UniqueConstraint whose key encodes (tenant, "email", value), staged
// in the same transaction as the account itself. Whoever commits first owns
// the claim; the loser's commit fails and the conflict is classified back
// into ErrDuplicateUsername or ErrDuplicateEmail by the offending key. There
// is deliberately no look-before-write uniqueness check anywhere, that
// pattern races.
//
// # Basic Usage
//
//	store := docstore.NewInMemStore()
//	svc := account.NewAccountService(store, password.NewPbkdf2Hasher())
//
//	acct, err := svc.Create(ctx, account.CreateAccountParams{
//		Tenant:   "tenant1",
//		Username: "alice",
//		Email:    "a@x.com",
//		Password: "Secr3t!pw",
//		Approved: true,
//	})
//
//	ok, err := svc.Authenticate(ctx, "tenant1", "alice", "Secr3t!pw", true)
//
// Every mutating operation opens exactly one session, stages all of its
// writes, and commits once; nothing ever half-lands.
package account
