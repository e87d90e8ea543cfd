package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing"

func TestGenerate_Success(t *testing.T) {
	tokens := NewTokenIssuer(testSecret, 0)

	token, err := tokens.Generate("user-123", "Ada")

	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")), "JWT should have 3 parts")
}

func TestGenerate_MissingSecret(t *testing.T) {
	_, err := NewTokenIssuer("", 0).Generate("user-123", "Ada")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestValidate_ValidToken(t *testing.T) {
	tokens := NewTokenIssuer(testSecret, time.Hour)

	token, err := tokens.Generate("user-123", "Ada")
	require.NoError(t, err)

	claims, err := tokens.Validate(token)

	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "Ada", claims.DisplayName)

	diff := claims.ExpiresAt.Sub(time.Now().Add(time.Hour)).Abs()
	assert.Less(t, diff, 5*time.Second)
}

func TestValidate_ExpiredToken(t *testing.T) {
	claims := Claims{
		UserID: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = NewTokenIssuer(testSecret, 0).Validate(tokenString)
	assert.Error(t, err, "expired token should be rejected")
}

func TestValidate_WrongSecret(t *testing.T) {
	token, err := NewTokenIssuer(testSecret, 0).Generate("user-123", "")
	require.NoError(t, err)

	_, err = NewTokenIssuer("different-secret-key", 0).Validate(token)
	assert.Error(t, err, "token signed with different secret should be rejected")
}

func TestValidate_AlgorithmConfusionAttack(t *testing.T) {
	claims := Claims{
		UserID: "attacker",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, _ := token.SignedString(jwt.UnsafeAllowNoneSignatureType) //nolint:errcheck // test code

	_, err := NewTokenIssuer(testSecret, 0).Validate(tokenString)
	assert.Error(t, err, "token with 'none' algorithm should be rejected")
}

func TestValidate_MalformedToken(t *testing.T) {
	tokens := NewTokenIssuer(testSecret, 0)

	for _, token := range []string{"", "not.a.jwt", "only.two", "<script>alert('xss')</script>"} {
		_, err := tokens.Validate(token)
		assert.Error(t, err, "malformed token '%s' should be rejected", token)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := NewTokenIssuer(testSecret, 0)

	router := gin.New()
	router.GET("/me", AuthMiddleware(tokens), func(c *gin.Context) {
		userID, _ := GetUserID(c)
		c.String(http.StatusOK, userID)
	})

	token, err := tokens.Generate("user-9", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "user-9", w.Body.String())
			}
		})
	}
}

type fakeLookup struct {
	roles map[string]string
	err   error
	calls int
}

func (f *fakeLookup) MemberRole(_ context.Context, roomID, userID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}

	role, ok := f.roles[roomID+"/"+userID]
	if !ok {
		return "", ErrNotMember
	}

	return role, nil
}

func TestRoleAuthorizer_Capabilities(t *testing.T) {
	lookup := &fakeLookup{roles: map[string]string{
		"r1/owner":  RoleOwner,
		"r1/editor": RoleEditor,
		"r1/viewer": RoleViewer,
		"r1/odd":    "superuser",
	}}
	authz := NewRoleAuthorizer(lookup, time.Minute)
	ctx := context.Background()

	tests := []struct {
		user, action string
		allowed      bool
		wantErr      bool
	}{
		{"owner", ActionManage, true, false},
		{"editor", ActionEdit, true, false},
		{"editor", ActionManage, false, false},
		{"viewer", ActionEdit, false, false},
		{"viewer", ActionComment, false, false},
		{"stranger", ActionEdit, false, false},
		{"odd", ActionEdit, false, true},
	}

	for _, tt := range tests {
		allowed, err := authz.Authorize(ctx, tt.user, "r1", ResourceDocument, tt.action)
		assert.Equal(t, tt.allowed, allowed, "%s/%s", tt.user, tt.action)
		assert.Equal(t, tt.wantErr, err != nil, "%s/%s", tt.user, tt.action)
	}
}

func TestRoleAuthorizer_CachesAndInvalidates(t *testing.T) {
	lookup := &fakeLookup{roles: map[string]string{"r1/u": RoleEditor}}
	authz := NewRoleAuthorizer(lookup, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := authz.Authorize(ctx, "u", "r1", ResourceDocument, ActionEdit)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, lookup.calls)

	lookup.roles["r1/u"] = RoleViewer
	authz.Invalidate("r1", "u")

	ok, err := authz.Authorize(ctx, "u", "r1", ResourceDocument, ActionEdit)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleAuthorizer_LookupErrorDenies(t *testing.T) {
	authz := NewRoleAuthorizer(&fakeLookup{err: errors.New("database down")}, time.Minute)

	ok, err := authz.Authorize(context.Background(), "u", "r1", ResourceDocument, ActionEdit)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestStaticAuthorizer(t *testing.T) {
	authz := StaticAuthorizer{Role: RoleEditor}

	ok, err := authz.Authorize(context.Background(), "u", "any", ResourceDocument, ActionEdit)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = authz.Authorize(context.Background(), "", "any", ResourceDocument, ActionEdit) //nolint:errcheck // never errors
	assert.False(t, ok)
}
