package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edupoint/slms-api/internal/models"
	"github.com/edupoint/slms-api/internal/service"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
	"github.com/edupoint/slms-api/pkg/response"
)

// NotificationHandler exposes the notification inbox, preferences, the live
// event stream and the operator delivery log.
type NotificationHandler struct {
	service  *service.NotificationService
	hub      *service.PushHub
	delivery *service.DeliveryService
}

// NewNotificationHandler creates a new handler.
func NewNotificationHandler(svc *service.NotificationService, hub *service.PushHub, delivery *service.DeliveryService) *NotificationHandler {
	return &NotificationHandler{service: svc, hub: hub, delivery: delivery}
}

// List godoc
// @Summary List my notifications
// @Tags Notifications
// @Produce json
// @Param status query string false "Status filter"
// @Param type query string false "Type filter"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.NotificationFilter{
		RecipientID: claims.UserID,
		Status:      c.Query("status"),
		Type:        c.Query("type"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}

	items, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, items, &models.Pagination{
		Page:       filter.Page,
		PageSize:   filter.PageSize,
		TotalCount: total,
	})
}

// UnreadCount godoc
// @Summary Unread notification count
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"unread": count}, nil)
}

func (h *NotificationHandler) transition(c *gin.Context, to models.NotificationStatus) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	n, err := h.service.Transition(c.Request.Context(), claims.UserID, c.Param("id"), to)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, n, nil)
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	h.transition(c, models.NotificationRead)
}

// Archive godoc
// @Summary Archive a notification
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/archive [post]
func (h *NotificationHandler) Archive(c *gin.Context) {
	h.transition(c, models.NotificationArchived)
}

// Delete godoc
// @Summary Delete a notification
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id} [delete]
func (h *NotificationHandler) Delete(c *gin.Context) {
	h.transition(c, models.NotificationDeleted)
}

// MarkAllRead godoc
// @Summary Mark every notification read
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	count, err := h.service.MarkAllRead(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"updated": count}, nil)
}

// Preferences godoc
// @Summary Notification preferences
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /notifications/preferences [get]
func (h *NotificationHandler) Preferences(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	prefs, err := h.service.Preferences(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, prefs, nil)
}

// UpdatePreference godoc
// @Summary Update one notification preference
// @Tags Notifications
// @Accept json
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /notifications/preferences [put]
func (h *NotificationHandler) UpdatePreference(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req struct {
		Type         models.NotificationType `json:"type" binding:"required"`
		Enabled      bool                    `json:"enabled"`
		EmailEnabled bool                    `json:"email_enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	pref := &models.NotificationPreference{
		UserID:       claims.UserID,
		Type:         req.Type,
		Enabled:      req.Enabled,
		EmailEnabled: req.EmailEnabled,
	}
	if err := h.service.UpdatePreference(c.Request.Context(), pref); err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, pref, nil)
}

// Stream godoc
// @Summary Live notification stream
// @Description Server-sent events for the authenticated user
// @Tags Notifications
// @Produce text/event-stream
// @Success 200 {string} string "event stream"
// @Failure 401 {object} response.Envelope
// @Router /notifications/stream [get]
func (h *NotificationHandler) Stream(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sub := h.hub.Subscribe(claims.UserID)
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Kind), event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// DeliveryLog godoc
// @Summary Delivery job log
// @Description Operator view of the per-channel delivery state machine
// @Tags Notifications
// @Produce json
// @Param status query string false "Status filter"
// @Param limit query int false "Row limit"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/notifications/deliveries [get]
func (h *NotificationHandler) DeliveryLog(c *gin.Context) {
	limit := 100
	if parsed, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil {
		limit = parsed
	}

	jobs, err := h.service.DeliveryLog(c.Request.Context(), models.DeliveryStatus(c.Query("status")), limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, jobs, nil)
}

// JobsFor godoc
// @Summary Delivery jobs of one notification
// @Tags Notifications
// @Produce json
// @Param id path string true "Notification ID"
// @Success 200 {object} response.Envelope
// @Router /admin/notifications/{id}/deliveries [get]
func (h *NotificationHandler) JobsFor(c *gin.Context) {
	jobs, err := h.service.JobsFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, jobs, nil)
}

// RetryDelivery godoc
// @Summary Re-drive a failed delivery job
// @Tags Notifications
// @Produce json
// @Param id path string true "Delivery job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/notifications/deliveries/{id}/retry [post]
func (h *NotificationHandler) RetryDelivery(c *gin.Context) {
	job, err := h.delivery.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, job, nil)
}
