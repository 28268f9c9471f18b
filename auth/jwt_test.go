package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuth(key string) *Auth {
	return &Auth{
		jwtKey: []byte(key),
	}
}

func TestTokenRoundTrip(t *testing.T) {
	a := testAuth("super-secret-signing-key")

	token, err := a.CreateTokenFromClaims(Claims{
		ID:        "agente@inmo.test",
		Email:     "agente@inmo.test",
		Role:      RoleCompany,
		CompanyID: "company-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.verifyToken(token)
	require.NoError(t, err)
	require.NotNil(t, claims)

	assert.Equal(t, "agente@inmo.test", claims.Email)
	assert.Equal(t, RoleCompany, claims.Role)
	assert.Equal(t, "company-1", claims.CompanyID)
}

func TestTokenWrongKey(t *testing.T) {
	a := testAuth("super-secret-signing-key")
	b := testAuth("a-different-signing-key0")

	token, err := a.CreateTokenFromClaims(Claims{
		ID:    "agente@inmo.test",
		Email: "agente@inmo.test",
		Role:  RoleAdmin,
	})
	require.NoError(t, err)

	claims, err := b.verifyToken(token)
	assert.NoError(t, err)
	assert.Nil(t, claims)
}

func TestTokenGarbage(t *testing.T) {
	a := testAuth("super-secret-signing-key")

	claims, err := a.verifyToken("not.a.token")
	assert.NoError(t, err)
	assert.Nil(t, claims)
}
