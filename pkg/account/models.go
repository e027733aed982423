package account

import "time"

// Collection is the document collection holding accounts.
const Collection = "accounts"

// JSON field names used in store queries. Other packages filtering the
// accounts collection must use these.
const (
	FieldTenant   = "tenant"
	FieldUsername = "username"
	FieldEmail    = "email"
	FieldRoles    = "roles"
)

// Account is a tenant-scoped user account. Its key is a pure function of
// (tenant, username), so renaming either means the account moves to a new key.
type Account struct {
	Key          string     `json:"key"`
	Tenant       string     `json:"tenant"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name,omitempty"`
	PasswordHash string     `json:"password_hash"`
	PasswordSalt string     `json:"password_salt"`
	Approved     bool       `json:"approved"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`

	// Roles holds role document keys. Stored as a slice but treated as a
	// set; order carries no meaning.
	Roles []string `json:"roles"`
}

// DocumentKey implements docstore.Document.
func (a *Account) DocumentKey() string { return a.Key }

// DocumentCollection implements docstore.Document.
func (a *Account) DocumentCollection() string { return Collection }

// CreateAccountParams contains parameters for creating a new account.
type CreateAccountParams struct {
	Tenant   string
	Username string
	Email    string
	Password string
	FullName string
	Approved bool
}

// UpdateAccountParams contains parameters for updating an existing account.
// The account is addressed by (Tenant, Username); the remaining fields are
// applied wholesale, matching the provider update contract.
type UpdateAccountParams struct {
	Tenant      string
	Username    string
	Email       string
	FullName    string
	Approved    bool
	CreatedAt   time.Time
	LastLoginAt *time.Time
}
