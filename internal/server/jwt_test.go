package server

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/conciliation-filer/internal/config"
	"github.com/jonathan/conciliation-filer/internal/types"
)

const testSecret = "test-secret-key-for-jwt-signing-minimum-32-bytes"

func setupTestJWTService(_ *testing.T, issuer string) *JWTService {
	return NewJWTService(&config.JWTConfig{
		Secret:          testSecret,
		ExpirationHours: 24,
		Issuer:          issuer,
	})
}

func TestJWTService_RoundTrip(t *testing.T) {
	service := setupTestJWTService(t, "")

	token, err := service.GenerateToken("worker-7", types.RoleWorker)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3, "JWT should have 3 parts separated by dots")

	claims, err := service.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "worker-7", claims.GetRequesterID())
	assert.Equal(t, types.RoleWorker, claims.Role)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestJWTService_GenerateToken_RequiresRequester(t *testing.T) {
	service := setupTestJWTService(t, "")
	_, err := service.GenerateToken("", types.RoleAdmin)
	assert.Error(t, err)
}

func TestJWTService_ValidateToken_InvalidSignature(t *testing.T) {
	issuer := setupTestJWTService(t, "")
	other := NewJWTService(&config.JWTConfig{Secret: "different-secret-key-for-jwt-signing", ExpirationHours: 24})

	token, err := issuer.GenerateToken("worker-7", types.RoleWorker)
	require.NoError(t, err)

	claims, err := other.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "signature")
}

func TestJWTService_ValidateToken_Malformed(t *testing.T) {
	service := setupTestJWTService(t, "")

	for _, token := range []string{"", "invalid", "invalid.token", "invalid.token.format.extra", "invalid.base64.signature"} {
		claims, err := service.ValidateToken(token)
		assert.Error(t, err, token)
		assert.Nil(t, claims, token)
	}
}

func TestJWTService_ValidateToken_Expired(t *testing.T) {
	service := setupTestJWTService(t, "")
	token, err := service.GenerateToken("worker-7", types.RoleWorker)
	require.NoError(t, err)

	service.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = service.ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestJWTService_ValidateToken_RejectsOtherAlgorithms(t *testing.T) {
	service := setupTestJWTService(t, "")

	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "worker-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = service.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestJWTService_ValidateToken_Issuer(t *testing.T) {
	service := setupTestJWTService(t, "conciliador")
	token, err := service.GenerateToken("worker-7", types.RoleWorker)
	require.NoError(t, err)
	_, err = service.ValidateToken(token)
	require.NoError(t, err)

	foreign, err := setupTestJWTService(t, "someone-else").GenerateToken("worker-7", types.RoleWorker)
	require.NoError(t, err)
	_, err = service.ValidateToken(foreign)
	assert.ErrorIs(t, err, jwt.ErrTokenInvalidIssuer)
}

func TestJWTService_ValidateToken_MissingSubject(t *testing.T) {
	service := setupTestJWTService(t, "")
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = service.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTService_AsTokenValidator(t *testing.T) {
	service := setupTestJWTService(t, "")
	token, err := service.GenerateToken("lawyer-1", types.RoleLawyer)
	require.NoError(t, err)

	got, err := service.AsTokenValidator().ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "lawyer-1", got.GetRequesterID())

	_, err = service.AsTokenValidator().ValidateToken("garbage")
	assert.Error(t, err)
}
