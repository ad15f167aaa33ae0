package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubAuth struct{}

func (stubAuth) ParseAuthContext(token string) (string, string, string, error) {
	if token != "good" {
		return "", "", "", errors.New("bad token")
	}
	return "p-1", "org1", "member", nil
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		id, org, _ := ParticipantFromContext(c)
		c.JSON(http.StatusOK, gin.H{"participant_id": id, "organization_id": org})
	})
	r.GET("/", handlers...)
	return r
}

func TestAuthRequired(t *testing.T) {
	r := newRouter(AuthRequired(stubAuth{}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer good", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestRequireRoles(t *testing.T) {
	r := newRouter(AuthRequired(stubAuth{}), RequireRoles("admin"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIntegrationKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("calendar-key"), bcrypt.MinCost)
	require.NoError(t, err)
	r := newRouter(IntegrationKey(string(hash)))

	for key, status := range map[string]int{
		"":             http.StatusUnauthorized,
		"wrong":        http.StatusUnauthorized,
		"calendar-key": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if key != "" {
			req.Header.Set(IntegrationKeyHeader, key)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, status, w.Code, "key %q", key)
	}
}

func TestIntegrationKeyWithoutHashRejects(t *testing.T) {
	r := newRouter(IntegrationKey(""))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(IntegrationKeyHeader, "anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
