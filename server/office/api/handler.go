package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "office_server/server/common/auth"
	commonlog "office_server/server/common/log"
	"office_server/server/common/metrics"
	"office_server/server/common/middleware"
	"office_server/server/common/transport/httpresp"
	"office_server/server/office/domain"
	"office_server/server/office/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type Handler struct {
	office             *service.Office
	auth               *commonauth.Service
	attachments        *service.AttachmentService
	metrics            *metrics.Metrics
	integrationKeyHash string
	ready              func() error
}

type Options struct {
	Office             *service.Office
	Auth               *commonauth.Service
	Attachments        *service.AttachmentService
	Metrics            *metrics.Metrics
	IntegrationKeyHash string
	// Ready reports whether required backing services are reachable.
	Ready func() error
}

func NewHandler(opts Options) *Handler {
	return &Handler{
		office:             opts.Office,
		auth:               opts.Auth,
		attachments:        opts.Attachments,
		metrics:            opts.Metrics,
		integrationKeyHash: opts.IntegrationKeyHash,
		ready:              opts.Ready,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	r.GET("/ws", h.handleWS)

	api := r.Group("/api/v1")
	calendar := api.Group("/calendar")
	calendar.Use(middleware.IntegrationKey(h.integrationKeyHash))
	{
		calendar.PUT("/participants/:id/meeting", h.setMeeting)
		calendar.DELETE("/participants/:id/meeting", h.clearMeeting)
	}

	authed := api.Group("")
	authed.Use(middleware.AuthRequired(h.auth), h.sameOrganization)
	{
		authed.GET("/roster", h.roster)
		authed.GET("/spaces", h.spaces)
		authed.GET("/objects", h.objects)
		authed.GET("/threads", h.threads)
		authed.GET("/threads/:id/messages", h.messages)
		authed.POST("/attachments/presign", h.presignAttachment)
		authed.POST("/attachments/complete", h.completeAttachment)
		authed.GET("/attachments/url", h.attachmentURL)
		authed.DELETE("/objects/:id", middleware.RequireRoles(commonauth.RoleAdmin), h.moderateObject)
	}
}

func (h *Handler) health(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpresp.NewHealthResponse("degraded"))
			return
		}
	}
	c.JSON(http.StatusOK, httpresp.NewHealthResponse("ok"))
}

// sameOrganization keeps REST readers inside the office's organization.
func (h *Handler) sameOrganization(c *gin.Context) {
	_, organizationID, ok := middleware.ParticipantFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrUnauthorized))
		return
	}
	if organizationID != h.office.OrganizationID() {
		c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
		return
	}
	c.Next()
}

func (h *Handler) roster(c *gin.Context) {
	c.JSON(http.StatusOK, h.office.Roster())
}

func (h *Handler) spaces(c *gin.Context) {
	c.JSON(http.StatusOK, h.office.Spaces())
}

func (h *Handler) objects(c *gin.Context) {
	c.JSON(http.StatusOK, h.office.Objects())
}

func (h *Handler) moderateObject(c *gin.Context) {
	adminID, _, _ := middleware.ParticipantFromContext(c)
	if err := h.office.ModerateObject(adminID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) threads(c *gin.Context) {
	participantID, _, _ := middleware.ParticipantFromContext(c)
	c.JSON(http.StatusOK, h.office.ThreadsFor(participantID))
}

func (h *Handler) messages(c *gin.Context) {
	participantID, _, _ := middleware.ParticipantFromContext(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	beforeSeq, err := decodeSeqCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(httpresp.ErrCursorInvalid))
		return
	}
	items, err := h.office.History(c.Request.Context(), participantID, c.Param("id"), beforeSeq, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	nextCursor := ""
	if len(items) == limit && items[0].Seq > 1 {
		nextCursor = encodeSeqCursor(items[0].Seq)
	}
	c.JSON(http.StatusOK, httpresp.NewPaginatedResponse(items, nextCursor))
}

func (h *Handler) presignAttachment(c *gin.Context) {
	if h.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrAttachmentsDisabled))
		return
	}
	participantID, _, _ := middleware.ParticipantFromContext(c)
	var req struct {
		Filename string `json:"filename" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	key, url, err := h.attachments.PresignUpload(c.Request.Context(), participantID, req.Filename)
	if err != nil {
		commonlog.Errorf("event=office_attachment action=presign status=failed participant_id=%s error=%v", participantID, err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"object_key": key, "upload_url": url})
}

func (h *Handler) completeAttachment(c *gin.Context) {
	if h.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrAttachmentsDisabled))
		return
	}
	participantID, _, _ := middleware.ParticipantFromContext(c)
	var req struct {
		ObjectKey string `json:"object_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if !service.OwnsAttachment(participantID, req.ObjectKey) {
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
		return
	}
	attachment, err := h.attachments.Complete(c.Request.Context(), req.ObjectKey)
	if err != nil {
		commonlog.Errorf("event=office_attachment action=complete status=failed participant_id=%s object_key=%s error=%v", participantID, req.ObjectKey, err)
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, attachment)
}

func (h *Handler) attachmentURL(c *gin.Context) {
	participantID, _, _ := middleware.ParticipantFromContext(c)
	key := strings.TrimSpace(c.Query("key"))
	if !strings.HasPrefix(key, "attachments/") || strings.Contains(key, "..") {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse("key is invalid"))
		return
	}
	if !h.office.CanReadAttachment(participantID, key) {
		commonlog.Warnf("event=office_attachment action=presign_download status=rejected reason=forbidden participant_id=%s key=%s", participantID, key)
		c.JSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
		return
	}
	if h.attachments == nil {
		c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(httpresp.ErrAttachmentsDisabled))
		return
	}
	url, err := h.attachments.PresignDownload(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewURLResponse(url))
}

func (h *Handler) setMeeting(c *gin.Context) {
	var meeting domain.Meeting
	if err := c.ShouldBindJSON(&meeting); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	record, _, err := h.office.SetMeeting(c.Param("id"), &meeting)
	if err != nil {
		writeError(c, err)
		return
	}
	commonlog.Infof("event=office_calendar action=set_meeting status=ok participant_id=%s meeting_id=%s locked=%t", c.Param("id"), meeting.ID, meeting.IsLocked)
	c.JSON(http.StatusOK, record)
}

func (h *Handler) clearMeeting(c *gin.Context) {
	record, _, err := h.office.SetMeeting(c.Param("id"), nil)
	if err != nil {
		writeError(c, err)
		return
	}
	commonlog.Infof("event=office_calendar action=clear_meeting status=ok participant_id=%s", c.Param("id"))
	c.JSON(http.StatusOK, record)
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), httpresp.NewReasonResponse(err.Error(), domain.Reason(err)))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnknownParticipant),
		errors.Is(err, domain.ErrUnknownSpace),
		errors.Is(err, domain.ErrUnknownThread),
		errors.Is(err, domain.ErrUnknownObject):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCommand), errors.Is(err, domain.ErrInvalidMessage):
		return http.StatusBadRequest
	case domain.IsRejection(err):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func encodeSeqCursor(seq uint64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatUint(seq, 10)))
}

func decodeSeqCursor(cursor string) (uint64, error) {
	cursor = strings.TrimSpace(cursor)
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(raw), 10, 64)
}
