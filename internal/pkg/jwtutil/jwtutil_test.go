package jwtutil

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	token, err := IssueToken("s3cret", "ops", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "docqa", claims.Issuer)
}

func TestParse_Rejects(t *testing.T) {
	valid, err := IssueToken("s3cret", "ops", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken("other", valid)
	assert.Error(t, err, "wrong secret")

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "docqa",
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseToken("s3cret", expired)
	assert.Error(t, err, "expired")

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:  "docqa",
		Subject: "ops",
	}}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseToken("s3cret", noExpiry)
	assert.Error(t, err, "missing expiry")

	_, err = ParseToken("s3cret", "not.a.token")
	assert.Error(t, err)
}

func TestIssue_Validation(t *testing.T) {
	_, err := IssueToken("", "ops", time.Hour)
	assert.Error(t, err)
	_, err = IssueToken("s", " ", time.Hour)
	assert.Error(t, err)
	_, err = IssueToken("s", "ops", 0)
	assert.Error(t, err)
}
