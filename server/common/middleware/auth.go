package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"office_server/server/common/transport/httpresp"
)

const (
	ContextAccessToken    = "auth_access_token"
	ContextParticipantID  = "auth_participant_id"
	ContextOrganizationID = "auth_organization_id"
	ContextRole           = "auth_role"
	ContextIntegration    = "auth_integration"

	IntegrationKeyHeader = "X-Integration-Key"
)

type tokenAuth interface {
	ParseAuthContext(token string) (participantID, organizationID, role string, err error)
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		participantID, organizationID, role, err := auth.ParseAuthContext(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		c.Set(ContextAccessToken, token)
		c.Set(ContextParticipantID, participantID)
		c.Set(ContextOrganizationID, organizationID)
		c.Set(ContextRole, role)
		c.Next()
	}
}

func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[strings.TrimSpace(role)] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
			return
		}
		if _, ok := allowed[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrInsufficientRole))
			return
		}
		c.Next()
	}
}

// IntegrationKey authenticates machine callers (the calendar integration)
// against a bcrypt hash of their shared key. An empty hash rejects everything.
func IntegrationKey(keyHash string) gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(keyHash))
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(IntegrationKeyHeader))
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingIntegrationKey))
			return
		}
		if len(hash) == 0 || bcrypt.CompareHashAndPassword(hash, []byte(key)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidIntegrationKey))
			return
		}
		c.Set(ContextIntegration, true)
		c.Next()
	}
}

func ParticipantFromContext(c *gin.Context) (string, string, bool) {
	participantID := strings.TrimSpace(c.GetString(ContextParticipantID))
	organizationID := strings.TrimSpace(c.GetString(ContextOrganizationID))
	if participantID == "" || organizationID == "" {
		return "", "", false
	}
	return participantID, organizationID, true
}
