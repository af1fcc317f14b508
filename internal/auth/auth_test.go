package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "gymaccess"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("12345678", "Juan Pérez", RoleOperator, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "12345678", claims.Subject)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "Juan Pérez", claims.Name)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.Error(t, err)
}

func TestParseAsChecksType(t *testing.T) {
	pair, err := Issue("12345678", "", RoleOperator, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	claims, err := ParseAs(pair.AccessToken, testKey, testIssuer, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, TypeAccess, claims.Type)
	claims, err = ParseAs(pair.RefreshToken, testKey, testIssuer, TypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, claims.Type)

	_, err = ParseAs(pair.RefreshToken, testKey, testIssuer, TypeAccess)
	assert.ErrorIs(t, err, ErrWrongTokenType)
	_, err = ParseAs(pair.AccessToken, testKey, testIssuer, TypeRefresh)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestParseRejectsExpired(t *testing.T) {
	pair, err := Issue("1", "", RoleOperator, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestOperatorAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/p", OperatorAuth(testKey, testIssuer), func(c *gin.Context) {
		claims, ok := FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	operator, err := Issue("12345678", "", RoleOperator, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	visitor, err := Issue("87654321", "", "visitor", testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + visitor.AccessToken, http.StatusForbidden},
		{"refresh token", "Bearer " + operator.RefreshToken, http.StatusUnauthorized},
		{"operator", "Bearer " + operator.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func upstreamToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return tok
}

func TestSessionValidity(t *testing.T) {
	var s Session
	assert.False(t, s.Valid(0))

	s.Set(upstreamToken(t, time.Now().Add(time.Hour)), "refresh")
	assert.True(t, s.Valid(time.Minute))
	assert.False(t, s.Valid(2*time.Hour))

	s.Set(upstreamToken(t, time.Now().Add(-time.Minute)), "")
	assert.False(t, s.Valid(0))

	// opaque tokens carry no expiry and stay valid until cleared
	s.Set("opaque-token", "")
	assert.True(t, s.Valid(time.Hour))
	assert.Equal(t, "opaque-token", s.AccessToken())

	s.Clear()
	assert.False(t, s.Valid(0))
	assert.Equal(t, "", s.AccessToken())
}
