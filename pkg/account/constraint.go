package account

import (
	"github.com/tendant/simple-membership/pkg/docstore"
	"github.com/tendant/simple-membership/pkg/keygen"
)

// ConstraintCollection is the document collection holding uniqueness claims.
const ConstraintCollection = "constraints"

const emailConstraintField = "email"

// UniqueConstraint is a sentinel document claiming a (tenant, field, value)
// triple. Its key is the canonical encoding of the triple, so two concurrent
// claims of the same value are write conflicts on the same key. Existence is
// the whole semantics; there is no query API over constraints.
type UniqueConstraint struct {
	Key    string `json:"key"`
	Tenant string `json:"tenant"`
	Field  string `json:"field"`
	Value  string `json:"value"`
}

// DocumentKey implements docstore.Document.
func (c *UniqueConstraint) DocumentKey() string { return c.Key }

// DocumentCollection implements docstore.Document.
func (c *UniqueConstraint) DocumentCollection() string { return ConstraintCollection }

// claimEmail stages a uniqueness claim for the email inside the caller's
// session and returns the claim's key for conflict classification.
func claimEmail(sess docstore.Session, tenant, email string) string {
	key := keygen.ConstraintKey(tenant, emailConstraintField, email)
	sess.Store(&UniqueConstraint{
		Key:    key,
		Tenant: tenant,
		Field:  emailConstraintField,
		Value:  email,
	})
	return key
}

// releaseEmail stages deletion of the email's uniqueness claim inside the
// caller's session.
func releaseEmail(sess docstore.Session, tenant, email string) {
	sess.DeleteKey(keygen.ConstraintKey(tenant, emailConstraintField, email))
}
