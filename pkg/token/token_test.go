package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndParse(t *testing.T) {
	svc := NewService("test-secret", WithIssuer("test"), WithExpiry(time.Minute))

	signed, err := svc.Create("tenant1", "alice", []string{"admins"})
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := svc.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "tenant1", claims.Tenant)
	assert.Equal(t, []string{"admins"}, claims.Roles)
	assert.Equal(t, "test", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	signed, err := NewService("secret-a").Create("tenant1", "alice", nil)
	require.NoError(t, err)

	_, err = NewService("secret-b").Parse(signed)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	svc := NewService("test-secret", WithExpiry(-time.Minute))
	signed, err := svc.Create("tenant1", "alice", nil)
	require.NoError(t, err)

	_, err = svc.Parse(signed)
	assert.Error(t, err)
}
