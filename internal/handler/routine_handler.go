package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edupoint/slms-api/internal/models"
	"github.com/edupoint/slms-api/internal/service"
	appErrors "github.com/edupoint/slms-api/pkg/errors"
	"github.com/edupoint/slms-api/pkg/export"
	"github.com/edupoint/slms-api/pkg/response"
)

// RoutineHandler exposes the weekly timetable with conflict detection.
type RoutineHandler struct {
	service  *service.RoutineService
	exporter *export.RoutineExporter
}

// NewRoutineHandler creates a new handler.
func NewRoutineHandler(svc *service.RoutineService, exporter *export.RoutineExporter) *RoutineHandler {
	return &RoutineHandler{service: svc, exporter: exporter}
}

func respondRoutineError(c *gin.Context, err error) {
	var conflictErr *models.RoutineConflictError
	if errors.As(err, &conflictErr) {
		c.Header("Cache-Control", "no-store")
		c.JSON(http.StatusConflict, response.Envelope{
			Data: gin.H{"conflicts": conflictErr.Conflicts},
			Error: appErrors.Clone(appErrors.ErrConflict,
				fmt.Sprintf("%d scheduling conflict(s) detected", len(conflictErr.Conflicts))),
		})
		return
	}
	response.Error(c, err)
}

// Create godoc
// @Summary Create a routine slot
// @Description Persist a weekly class slot after the conflict check passes
// @Tags Routines
// @Accept json
// @Produce json
// @Param payload body service.RoutineRequest true "Routine payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /routines [post]
func (h *RoutineHandler) Create(c *gin.Context) {
	var req service.RoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid routine payload"))
		return
	}

	routine, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondRoutineError(c, err)
		return
	}

	response.Created(c, routine)
}

// Update godoc
// @Summary Update a routine slot
// @Tags Routines
// @Accept json
// @Produce json
// @Param id path string true "Routine ID"
// @Param payload body service.RoutineRequest true "Routine payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /routines/{id} [put]
func (h *RoutineHandler) Update(c *gin.Context) {
	var req service.RoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid routine payload"))
		return
	}

	routine, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondRoutineError(c, err)
		return
	}

	response.JSON(c, http.StatusOK, routine, nil)
}

// Delete godoc
// @Summary Deactivate a routine slot
// @Tags Routines
// @Produce json
// @Param id path string true "Routine ID"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /routines/{id} [delete]
func (h *RoutineHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Get godoc
// @Summary Get one routine slot
// @Tags Routines
// @Produce json
// @Param id path string true "Routine ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /routines/{id} [get]
func (h *RoutineHandler) Get(c *gin.Context) {
	routine, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, routine, nil)
}

func routineFilter(c *gin.Context) models.RoutineFilter {
	filter := models.RoutineFilter{
		Department: c.Query("department"),
		Shift:      c.Query("shift"),
		Session:    c.Query("session"),
		DayOfWeek:  c.Query("day"),
	}
	if semester, err := strconv.Atoi(c.Query("semester")); err == nil {
		filter.Semester = semester
	}
	if active := c.Query("active"); active != "" {
		if val, err := strconv.ParseBool(active); err == nil {
			filter.Active = &val
		}
	}
	return filter
}

// List godoc
// @Summary List routine slots
// @Tags Routines
// @Produce json
// @Param department query string false "Department filter"
// @Param semester query int false "Semester filter"
// @Param shift query string false "Shift filter"
// @Param session query string false "Session filter"
// @Param day query string false "Day filter"
// @Success 200 {object} response.Envelope
// @Router /routines [get]
func (h *RoutineHandler) List(c *gin.Context) {
	routines, err := h.service.List(c.Request.Context(), routineFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, routines, nil)
}

// CheckConflicts godoc
// @Summary Dry-run the conflict check
// @Description Report clashes for a proposed slot without persisting it
// @Tags Routines
// @Accept json
// @Produce json
// @Param payload body service.RoutineRequest true "Routine payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /routines/check-conflicts [post]
func (h *RoutineHandler) CheckConflicts(c *gin.Context) {
	var req service.RoutineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid routine payload"))
		return
	}

	conflicts, err := h.service.CheckConflicts(c.Request.Context(), req, c.Query("exclude_id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"conflicts": conflicts, "has_conflicts": len(conflicts) > 0}, nil)
}

// ExportPDF godoc
// @Summary Export the timetable as PDF
// @Tags Routines
// @Produce application/pdf
// @Success 200 {file} binary
// @Router /routines/export/pdf [get]
func (h *RoutineHandler) ExportPDF(c *gin.Context) {
	routines, err := h.service.List(c.Request.Context(), routineFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	data, err := h.exporter.PDF(routines)
	if err != nil {
		response.Error(c, err)
		return
	}

	name := fmt.Sprintf("routine-%s.pdf", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/pdf", data)
}

// ExportCSV godoc
// @Summary Export the timetable as CSV
// @Tags Routines
// @Produce text/csv
// @Success 200 {file} binary
// @Router /routines/export/csv [get]
func (h *RoutineHandler) ExportCSV(c *gin.Context) {
	routines, err := h.service.List(c.Request.Context(), routineFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	data, err := h.exporter.CSV(routines)
	if err != nil {
		response.Error(c, err)
		return
	}

	name := fmt.Sprintf("routine-%s.csv", time.Now().UTC().Format("2006-01-02"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/csv", data)
}
