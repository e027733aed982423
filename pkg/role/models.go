package role

// Collection is the document collection holding roles.
const Collection = "roles"

// JSON field names used in store queries.
const (
	FieldTenant = "tenant"
	FieldName   = "name"
)

// Role is a tenant-scoped role. Its key embeds tenant and name, which is what
// makes role names unique per tenant; no separate uniqueness claim is needed.
// Name is immutable after creation, renaming is delete plus recreate.
type Role struct {
	Key    string `json:"key"`
	Tenant string `json:"tenant"`
	Name   string `json:"name"`

	// ParentKey namespaces the role key under another role. Nesting is not
	// otherwise interpreted.
	ParentKey string `json:"parent_key,omitempty"`
}

// DocumentKey implements docstore.Document.
func (r *Role) DocumentKey() string { return r.Key }

// DocumentCollection implements docstore.Document.
func (r *Role) DocumentCollection() string { return Collection }
